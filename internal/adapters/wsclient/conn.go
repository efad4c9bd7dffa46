// Package wsclient is the participant side of the room websocket.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/classroom/internal/signaling"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pushBuffer = 256
)

var ErrClosed = errors.New("signaling connection closed")

// RequestError is a request the server answered with an error.
type RequestError struct {
	Type signaling.Type
	Msg  string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Type, e.Msg)
}

type Options struct {
	Header http.Header
	// RequestTimeout bounds each request on top of the caller's context.
	RequestTimeout time.Duration
}

// Conn multiplexes request/reply pairs and server pushes over one
// websocket. Pushes reach handlers one at a time in arrival order.
type Conn struct {
	ws     *websocket.Conn
	opts   Options
	logger zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan signaling.Message
	handlers []func(signaling.Message)
	onClose  []func(error)
	err      error

	pushes    chan signaling.Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func Dial(ctx context.Context, url string, opts Options) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Conn{
		ws:      ws,
		opts:    opts,
		logger:  log.With().Str("module", "adapters.wsclient").Logger(),
		pending: make(map[string]chan signaling.Message),
		pushes:  make(chan signaling.Message, pushBuffer),
		done:    make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.dispatch()
	c.logger.Info().Str("url", url).Msg("signaling connected")
	return c, nil
}

// OnPush adds a handler for server pushes. Handlers must not call Close.
func (c *Conn) OnPush(fn func(signaling.Message)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// OnClose adds a handler run once when the connection ends. Handlers
// must not call Close.
func (c *Conn) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Request sends m with a fresh id and waits for the matching reply.
func (c *Conn) Request(ctx context.Context, m signaling.Message) (signaling.Message, error) {
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	m.ID = uuid.NewString()
	reply := make(chan signaling.Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return signaling.Message{}, err
	}
	c.pending[m.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, m.ID)
		c.mu.Unlock()
	}()

	if err := c.Send(m); err != nil {
		return signaling.Message{}, err
	}

	select {
	case r := <-reply:
		if r.Type == signaling.TypeError {
			return r, &RequestError{Type: m.Type, Msg: r.Error}
		}
		return r, nil
	case <-ctx.Done():
		return signaling.Message{}, fmt.Errorf("%s: %w", m.Type, ctx.Err())
	case <-c.done:
		return signaling.Message{}, c.closeErr()
	}
}

// Send writes m without waiting for a reply.
func (c *Conn) Send(m signaling.Message) error {
	data, err := signaling.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return c.closeErr()
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", m.Type, err)
	}
	return nil
}

// Close ends the connection and waits for its goroutines.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	c.wg.Wait()
	return nil
}

func (c *Conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return ErrClosed
	}
	return c.err
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		handlers := c.onClose
		c.mu.Unlock()

		close(c.done)
		_ = c.ws.Close()
		for _, fn := range handlers {
			fn(cause)
		}
	})
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn().Err(err).Msg("signaling read failed")
			}
			c.shutdown(fmt.Errorf("%w: %w", ErrClosed, err))
			return
		}
		m, err := signaling.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping undecodable message")
			continue
		}
		if m.IsReply() {
			c.mu.Lock()
			reply, ok := c.pending[m.ID]
			c.mu.Unlock()
			if ok {
				reply <- m
			}
			continue
		}
		select {
		case c.pushes <- m:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case m := <-c.pushes:
			c.mu.Lock()
			handlers := c.handlers
			c.mu.Unlock()
			if len(handlers) == 0 {
				c.logger.Debug().Str("type", string(m.Type)).Msg("push without handler")
			}
			for _, fn := range handlers {
				fn(m)
			}
		case <-c.done:
			return
		}
	}
}
