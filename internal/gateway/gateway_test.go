package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentos-dev/agentos/internal/tmux"
)

// echoMux reports every pane as missing and attaches through cat, which
// echoes terminal input straight back.
type echoMux struct{}

func (echoMux) Create(context.Context, string, string, []string) error { return nil }
func (echoMux) AttachCommand(string) []string                          { return []string{"/bin/cat"} }
func (echoMux) Detach(context.Context, string) error                   { return nil }
func (echoMux) SendKeys(context.Context, string, []byte) error         { return nil }
func (echoMux) SendCommand(context.Context, string, string) error      { return nil }
func (echoMux) Capture(context.Context, string, int) ([]string, error) { return nil, nil }
func (echoMux) Rename(context.Context, string, string) error           { return nil }
func (echoMux) List(context.Context) ([]tmux.SessionInfo, error)       { return nil, nil }
func (echoMux) Kill(context.Context, string) error                     { return nil }
func (echoMux) Has(context.Context, string) (bool, error)              { return false, nil }

// Attaching must work even when the driver has never seen the pane; the
// attach command creates missing panes, so a reconnect after a pane
// death comes back up instead of being refused.
func TestAttachProceedsWithoutPane(t *testing.T) {
	srv := httptest.NewServer(New(echoMux{}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"pane_name": "claude-gone", "cols": 80, "rows": 24}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("hello\r")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []byte
	for !strings.Contains(string(got), "hello") {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (received %q so far)", err, got)
		}
		got = append(got, msg...)
	}
}
