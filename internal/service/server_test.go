package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/riptide-ws/riptide/internal/auth"
	"github.com/riptide-ws/riptide/internal/config"
	"github.com/riptide-ws/riptide/internal/domain/channel"
	"github.com/riptide-ws/riptide/internal/domain/conn"
	"github.com/riptide-ws/riptide/internal/domain/ratelimit"
	"github.com/riptide-ws/riptide/internal/domain/rpc"
	"github.com/riptide-ws/riptide/pkg/riptide"
)

func testServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Path = "/ws"

	registry := channel.New()
	limiter := ratelimit.New()
	t.Cleanup(func() { limiter.Stop(context.Background()) })
	dispatcher := rpc.New(limiter)
	dispatcher.Handle("echo", func(ctx context.Context, c *conn.Connection, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})

	srv := New(cfg, registry, dispatcher, opts...)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, srv.handleUpgrade)
	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)

	return srv, httpSrv
}

func dialTestServer(t *testing.T, httpSrv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestServerAcceptsAndEchoesRPC(t *testing.T) {
	srv, httpSrv := testServer(t)
	ws := dialTestServer(t, httpSrv)

	req := riptide.NewRequest("1", "echo", []any{"hello"}, nil)
	env := map[string]any{"source": int(riptide.SourceClient), "rpc": req}
	if err := ws.WriteJSON(env); err != nil {
		t.Fatalf("write: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp struct {
		RPC riptide.RPC `json:"rpc"`
	}
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.RPC.Response != "hello" {
		t.Errorf("expected echoed response, got %v", resp.RPC.Response)
	}

	if srv.Registry().ConnectionCount() != 1 {
		t.Errorf("expected 1 tracked connection, got %d", srv.Registry().ConnectionCount())
	}
}

func TestServerAdmissionRefusal(t *testing.T) {
	hash, err := auth.HashToken("secret")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	_, httpSrv := testServer(t, WithAdmitter(auth.NewAdmitter(hash, true)))

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a valid admission token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}

func TestServerDisconnectUntracksConnection(t *testing.T) {
	srv, httpSrv := testServer(t)
	ws := dialTestServer(t, httpSrv)
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Registry().ConnectionCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected connection to be untracked after close")
}

func TestNoGoroutineLeaksAcrossServerLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("net/http.(*Server).Serve"))

	srv, httpSrv := testServer(t)
	ws := dialTestServer(t, httpSrv)
	ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && srv.Registry().ConnectionCount() > 0 {
		time.Sleep(10 * time.Millisecond)
	}
}
