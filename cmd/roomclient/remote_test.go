package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://localhost:8080", want: "ws://localhost:8080/api/ws/signal"},
		{in: "https://class.example.com/room?x=1", want: "wss://class.example.com/api/ws/signal"},
		{in: "ws://10.0.0.1:9000", want: "ws://10.0.0.1:9000/api/ws/signal"},
		{in: "ftp://example.com", wantErr: true},
	}
	for _, tt := range tests {
		got, err := signalURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestLobbyURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080/lobby", lobbyURL("http://localhost:8080", "/lobby"))
}

func TestFetchToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("uid") {
		case "42":
			_, _ = w.Write([]byte(`{"token":"signed"}`))
		case "7":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	ctx := context.Background()

	token, err := fetchToken(ctx, srv.Client(), srv.URL, "42")
	require.NoError(t, err)
	assert.Equal(t, "signed", token)

	token, err = fetchToken(ctx, srv.Client(), srv.URL, "7")
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = fetchToken(ctx, srv.Client(), srv.URL, "1")
	assert.Error(t, err)
}
