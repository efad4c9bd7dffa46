package wsclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/classroom/internal/signaling"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer acks every request except ping, which it ignores, and
// logout, which it rejects. channel_join is preceded by two pushes.
type fakeServer struct {
	srv *httptest.Server

	mu   sync.Mutex
	seen []signaling.Message
	conn *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	up := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		fs.mu.Lock()
		fs.conn = ws
		fs.mu.Unlock()
		for {
			var m signaling.Message
			if err := ws.ReadJSON(&m); err != nil {
				return
			}
			fs.mu.Lock()
			fs.seen = append(fs.seen, m)
			fs.mu.Unlock()
			switch m.Type {
			case signaling.TypePing:
			case signaling.TypeLogout:
				_ = ws.WriteJSON(signaling.Error(m.ID, errors.New("not logged in")))
			case signaling.TypeChannelJoin:
				_ = ws.WriteJSON(signaling.Message{Type: signaling.TypeMemberJoined, UID: "1"})
				_ = ws.WriteJSON(signaling.Message{Type: signaling.TypeMemberJoined, UID: "2"})
				_ = ws.WriteJSON(signaling.Ack(m.ID))
			default:
				if m.ID != "" {
					_ = ws.WriteJSON(signaling.Ack(m.ID))
				}
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) received() []signaling.Message {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]signaling.Message(nil), fs.seen...)
}

func (fs *fakeServer) drop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_ = fs.conn.Close()
}

func dial(t *testing.T, fs *fakeServer, opts Options) *Conn {
	t.Helper()
	c, err := Dial(context.Background(), fs.url(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMessagingRequests(t *testing.T) {
	fs := newFakeServer(t)
	c := dial(t, fs, Options{})
	m := NewMessaging(c)
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, "42", "tok"))
	require.NoError(t, m.SetDisplayName(ctx, "Ada"))
	require.NoError(t, m.JoinChannel(ctx, "math"))
	require.NoError(t, m.LeaveChannel(ctx))

	seen := fs.received()
	require.Len(t, seen, 4)
	assert.Equal(t, signaling.TypeLogin, seen[0].Type)
	assert.EqualValues(t, "42", seen[0].UID)
	assert.Equal(t, "tok", seen[0].Token)
	assert.Equal(t, "Ada", seen[1].Name)
	assert.EqualValues(t, "math", seen[2].Room)
	for _, s := range seen {
		assert.NotEmpty(t, s.ID)
	}
}

func TestRejectedRequest(t *testing.T) {
	fs := newFakeServer(t)
	m := NewMessaging(dial(t, fs, Options{}))

	err := m.Logout(context.Background())
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, signaling.TypeLogout, reqErr.Type)
	assert.Equal(t, "not logged in", reqErr.Msg)
}

func TestRequestTimeout(t *testing.T) {
	fs := newFakeServer(t)
	c := dial(t, fs, Options{RequestTimeout: 50 * time.Millisecond})

	_, err := c.Request(context.Background(), signaling.Message{Type: signaling.TypePing})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPushesArriveInOrder(t *testing.T) {
	fs := newFakeServer(t)
	c := dial(t, fs, Options{})

	var (
		mu   sync.Mutex
		uids []string
	)
	c.OnPush(func(m signaling.Message) {
		mu.Lock()
		uids = append(uids, string(m.UID))
		mu.Unlock()
	})

	require.NoError(t, NewMessaging(c).JoinChannel(context.Background(), "math"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(uids) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"1", "2"}, uids)
	mu.Unlock()
}

func TestServerDropFailsPending(t *testing.T) {
	fs := newFakeServer(t)
	c := dial(t, fs, Options{})

	closed := make(chan error, 1)
	c.OnClose(func(err error) { closed <- err })

	errc := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), signaling.Message{Type: signaling.TypePing})
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(fs.received()) == 1 }, time.Second, 10*time.Millisecond)
	fs.drop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed")
	}
	assert.ErrorIs(t, <-closed, ErrClosed)

	_, err := c.Request(context.Background(), signaling.Message{Type: signaling.TypeLogin})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Send(signaling.Message{Type: signaling.TypeAnswer}), ErrClosed)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/none", Options{})
	assert.Error(t, err)
}
