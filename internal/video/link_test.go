package video_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fakeyudi/ridelog/internal/clock"
	"github.com/fakeyudi/ridelog/internal/video"
)

// camera is a scripted control channel. It answers each request frame
// from the recorder with the next step of the handshake.
type camera struct {
	sentAt int64

	mu       sync.Mutex
	received []string
}

func (c *camera) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	write := func(f video.Frame) bool { return conn.WriteJSON(f) == nil }
	if !write(video.Frame{Type: video.FrameNeedSync}) {
		return
	}
	for {
		var f video.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		c.mu.Lock()
		c.received = append(c.received, f.Type)
		c.mu.Unlock()

		switch f.Type {
		case video.FrameRequestControlText:
			write(video.Frame{Type: video.FrameControlText})
		case video.FrameRequestSyncText:
			write(video.Frame{Type: video.FrameSyncText, SentAt: c.sentAt})
		case video.FrameStartStream:
			write(video.Frame{Type: video.FrameStreamReady})
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
			return
		}
	}
}

func (c *camera) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.received...)
}

func TestLinkRunsHandshakeOverWebsocket(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	cam := &camera{sentAt: now.UnixMilli() - 250}
	srv := httptest.NewServer(cam)
	defer srv.Close()

	link, err := video.NewLink(srv.URL, video.LinkOptions{Clock: clock.Fake(now)})
	if err != nil {
		t.Fatal(err)
	}
	var (
		mu     sync.Mutex
		states []video.State
	)
	link.Machine().AddListener(func(s video.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := link.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []video.State{
		video.Connected, video.WaitingToControlText, video.WaitingToSyncText,
		video.Synchronized, video.Consuming, video.Disconnected,
	}
	mu.Lock()
	got := append([]video.State(nil), states...)
	mu.Unlock()
	if !equalStates(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	if d := link.Machine().Delay(); d != 250*time.Millisecond {
		t.Fatalf("delay = %v, want 250ms", d)
	}
	sent := strings.Join(cam.frames(), ",")
	if sent != "request-control-text,request-sync-text,start-stream" {
		t.Fatalf("camera received %s", sent)
	}
}

func TestLinkCancelDisconnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	link, err := video.NewLink(srv.URL, video.LinkOptions{})
	if err != nil {
		t.Fatal(err)
	}
	connected := make(chan struct{})
	link.Machine().AddListener(func(s video.State) {
		if s == video.Connected {
			close(connected)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s := link.Machine().State(); s != video.Disconnected {
		t.Fatalf("state = %s", s)
	}
}

func TestNewLinkRejectsUnsupportedScheme(t *testing.T) {
	if _, err := video.NewLink("ftp://camera.local/control", video.LinkOptions{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestLinkDialFailureLeavesMachineDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	link, err := video.NewLink(srv.URL, video.LinkOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := link.Run(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if link.Machine().State() != video.Disconnected {
		t.Fatalf("state = %s", link.Machine().State())
	}
}
