package riptideclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer accepts one WebSocket connection and echoes back any RPC
// request as its response, prefixed by the method name.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var pkt wirePacket
			if err := json.Unmarshal(data, &pkt); err != nil {
				continue
			}
			if pkt.RPC == nil || pkt.RPC.Type != rpcTypeRequest {
				continue
			}

			resp := wireRPC{Type: rpcTypeResponse, CallID: pkt.RPC.CallID}
			switch pkt.RPC.Method {
			case "boom":
				code := errAccessDenied
				resp.Error = &code
			default:
				resp.Response = "echo:" + pkt.RPC.Method
			}
			out, _ := json.Marshal(wirePacket{Source: sourceRPC, RPC: &resp})
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClientCallRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := New(wsURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	result, err := c.Call(ctx, "ping", nil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result != "echo:ping" {
		t.Fatalf("got %v, want echo:ping", result)
	}
}

func TestClientCallSurfacesRemoteError(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := New(wsURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err := c.Call(ctx, "boom", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var remote *RemoteError
	if re, ok := err.(*RemoteError); !ok {
		t.Fatalf("expected *RemoteError, got %T", err)
	} else {
		remote = re
	}
	if remote.Code != string(errAccessDenied) {
		t.Fatalf("got code %q", remote.Code)
	}
}

func TestClientCallTimesOutWithoutResponse(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never respond.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(wsURL(srv.URL), WithCallTimeout(50*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err := c.Call(context.Background(), "slow", nil, nil)
	if err != ErrCallTimeout {
		t.Fatalf("got %v, want ErrCallTimeout", err)
	}
}

func TestClientCloseFailsPendingCalls(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		close(ready)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := New(wsURL(srv.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "never", nil, nil)
		errCh <- err
	}()

	<-ready
	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not unblock after Close")
	}
}

func TestClientOnReceiveGetsChannelPublishes(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		pkt := wirePacket{Source: sourceChannel, Channel: "room-1", Data: "hello"}
		out, _ := json.Marshal(pkt)
		_ = conn.WriteMessage(websocket.TextMessage, out)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	received := make(chan struct {
		channel string
		data    any
	}, 1)
	c := New(wsURL(srv.URL), WithOnReceive(func(channel string, data any) {
		received <- struct {
			channel string
			data    any
		}{channel, data}
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	select {
	case msg := <-received:
		if msg.channel != "room-1" || msg.data != "hello" {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive channel publish")
	}
}
