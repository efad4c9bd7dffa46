package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dkeye/classroom/internal/domain"
)

// signalURL turns the server's http base into its websocket endpoint.
func signalURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = "/api/ws/signal"
	u.RawQuery = ""
	return u.String(), nil
}

func lobbyURL(base, path string) string {
	u, err := url.Parse(base)
	if err != nil {
		return path
	}
	u.Path = path
	u.RawQuery = ""
	return u.String()
}

// fetchToken asks the server for a login token. A server without a
// secret answers 404 and the empty token is used.
func fetchToken(ctx context.Context, c *http.Client, base string, uid domain.ParticipantID) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	u.Path = "/api/token"
	u.RawQuery = url.Values{"uid": {string(uid)}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("fetch token: %s", resp.Status)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("server returned an empty token")
	}
	return body.Token, nil
}
