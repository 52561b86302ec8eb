package conn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var upgrader = websocket.Upgrader{}

func wsServer(t *testing.T, handle func(ws *websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echo(ws *websocket.Conn) {
	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if err := ws.WriteMessage(typ, data); err != nil {
			return
		}
	}
}

func testOptions() Options {
	return Options{PingInterval: time.Second, PingTimeout: 500 * time.Millisecond}
}

func TestConn(t *testing.T) {
	t.Run("send_and_receive", func(t *testing.T) {
		endpoint := wsServer(t, echo)
		c, err := Dial(context.Background(), endpoint, testOptions(), nil)
		require.NoError(t, err)
		assert.Equal(t, Open, c.State())

		require.NoError(t, c.Send([]byte(`{"id":1,"method":"Network.enable"}`)))
		select {
		case f := <-c.Frames():
			assert.JSONEq(t, `{"id":1,"method":"Network.enable"}`, string(f))
		case <-time.After(2 * time.Second):
			t.Fatal("no echo")
		}

		require.NoError(t, c.Close())
		assert.Equal(t, Closed, c.State())
		assert.NoError(t, c.Err())
	})

	t.Run("send_after_close_not_ready", func(t *testing.T) {
		endpoint := wsServer(t, echo)
		c, err := Dial(context.Background(), endpoint, testOptions(), nil)
		require.NoError(t, err)
		require.NoError(t, c.Close())

		assert.ErrorIs(t, c.Send([]byte("{}")), ErrNotReady)
		_, ok := <-c.Frames()
		assert.False(t, ok)
	})

	t.Run("remote_close_fails", func(t *testing.T) {
		endpoint := wsServer(t, func(ws *websocket.Conn) {})
		var (
			mu     sync.Mutex
			states []State
		)
		opts := testOptions()
		opts.OnState = func(s State, _ error) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		}
		c, err := Dial(context.Background(), endpoint, opts, nil)
		require.NoError(t, err)

		select {
		case <-c.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("reader did not exit")
		}
		assert.Equal(t, Failed, c.State())
		assert.ErrorIs(t, c.Err(), ErrConnectionLost)
		assert.ErrorIs(t, c.Send([]byte("{}")), ErrNotReady)

		mu.Lock()
		assert.Equal(t, []State{Connecting, Open, Failed}, states)
		mu.Unlock()
		require.NoError(t, c.Close())
		assert.Equal(t, Failed, c.State())
	})

	t.Run("ping_timeout", func(t *testing.T) {
		release := make(chan struct{})
		endpoint := wsServer(t, func(ws *websocket.Conn) {
			// 不读取就不会回复 pong
			<-release
		})
		t.Cleanup(func() { close(release) })

		c, err := Dial(context.Background(), endpoint, Options{PingInterval: 50 * time.Millisecond, PingTimeout: 20 * time.Millisecond}, nil)
		require.NoError(t, err)
		defer c.Close()

		require.Eventually(t, func() bool { return c.State() == Failed }, 2*time.Second, 10*time.Millisecond)
		assert.ErrorIs(t, c.Err(), ErrConnectionLost)
	})

	t.Run("dial_refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
		srv.Close()

		_, err := Dial(context.Background(), endpoint, testOptions(), nil)
		assert.Error(t, err)
	})
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, testOptions().Validate())
	assert.Error(t, Options{PingInterval: time.Second, PingTimeout: time.Second}.Validate())
	assert.Error(t, Options{PingInterval: time.Second}.Validate())
	assert.NoError(t, DefaultOptions().Validate())
}

func TestCloseUnblocksReader(t *testing.T) {
	endpoint := wsServer(t, echo)
	c, err := Dial(context.Background(), endpoint, testOptions(), nil)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	default:
		t.Fatal("reader still running after Close")
	}
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreAnyFunction("cdpnetmon/internal/conn.wsServer.func1"),
		goleak.IgnoreAnyFunction("net/http.(*Server).Serve"),
	)
}
