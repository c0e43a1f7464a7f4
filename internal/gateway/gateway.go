// Package gateway bridges browser terminals to mux panes: one websocket
// per terminal, backed by a PTY running the attach command for the pane.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"

	"github.com/agentos-dev/agentos/internal/tmux"
)

// writeDeadline bounds a single websocket write. A browser that stalls
// longer than this is treated as gone.
const writeDeadline = 5 * time.Second

// readDeadline is extended on every pong; three missed pings end the
// connection.
const readDeadline = 90 * time.Second

// pingInterval is the keepalive cadence.
const pingInterval = 30 * time.Second

// maxReadMessageSize caps inbound frames. Keystrokes and resize messages
// are tiny; anything larger is a misbehaving client.
const maxReadMessageSize = 32 * 1024

const defaultCols, defaultRows = 80, 24

var upgrader = websocket.Upgrader{
	// The server binds to localhost; the origin check adds nothing there.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
}

// initMsg is the first client frame, selecting the pane and initial size.
type initMsg struct {
	PaneName string `json:"pane_name"`
	Cols     int    `json:"cols"`
	Rows     int    `json:"rows"`
}

// controlMsg covers post-init text frames. Only resize is defined.
type controlMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// Gateway serves the /terminal websocket endpoint.
type Gateway struct {
	Mux tmux.Driver
}

// New creates a Gateway.
func New(mux tmux.Driver) *Gateway {
	return &Gateway{Mux: mux}
}

// ServeHTTP upgrades the request, reads the init frame, and wires the
// websocket to a PTY attached to the requested pane. Closing either side
// tears down the other; the PTY close hangs up the attach client, which
// detaches without touching the pane itself.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(maxReadMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	init, err := readInit(conn)
	if err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}

	// No existence check: the attach command creates the pane when it is
	// missing, so reconnects after a pane death come back up.
	argv := g.Mux.AttachCommand(init.PaneName)
	cmd := exec.Command(argv[0], argv[1:]...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(init.Cols),
		Rows: uint16(init.Rows),
	})
	if err != nil {
		writeClose(conn, websocket.CloseInternalServerErr, "starting terminal: "+err.Error())
		return
	}
	defer func() {
		// Closing the PTY delivers SIGHUP to the attach client.
		ptmx.Close()
		cmd.Wait()
	}()

	log.Printf("gateway: attached %s (%dx%d)", init.PaneName, init.Cols, init.Rows)

	var writeMu sync.Mutex
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	go g.pingLoop(conn, &writeMu, done, finish)
	go g.writePump(conn, &writeMu, ptmx, finish)
	g.readPump(conn, ptmx, finish)
	<-done
	log.Printf("gateway: detached %s", init.PaneName)
}

// readInit waits for the first text frame and decodes it.
func readInit(conn *websocket.Conn) (*initMsg, error) {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var init initMsg
		if err := json.Unmarshal(msg, &init); err != nil {
			return nil, err
		}
		if init.PaneName == "" {
			return nil, errNoPane
		}
		if init.Cols <= 0 {
			init.Cols = defaultCols
		}
		if init.Rows <= 0 {
			init.Rows = defaultRows
		}
		return &init, nil
	}
}

var errNoPane = errors.New("pane_name is required")

// readPump forwards client frames to the PTY: binary frames are raw
// keystrokes, text frames are control messages.
func (g *Gateway) readPump(conn *websocket.Conn, ptmx *os.File, finish func()) {
	defer finish()
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("gateway: read: %v", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if _, err := ptmx.Write(msg); err != nil {
				return
			}
		case websocket.TextMessage:
			var ctl controlMsg
			if err := json.Unmarshal(msg, &ctl); err != nil {
				continue
			}
			if ctl.Type == "resize" && ctl.Cols > 0 && ctl.Rows > 0 {
				if err := pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(ctl.Cols), Rows: uint16(ctl.Rows)}); err != nil {
					log.Printf("gateway: resize: %v", err)
				}
			}
		}
	}
}

// writePump streams PTY output to the client as binary frames.
func (g *Gateway) writePump(conn *websocket.Conn, writeMu *sync.Mutex, ptmx io.Reader, finish func()) {
	defer finish()
	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n])
			conn.SetWriteDeadline(time.Time{})
			writeMu.Unlock()
			if werr != nil {
				return
			}
		}
		if err != nil {
			// EIO is the normal PTY end-of-stream on Linux.
			return
		}
	}
}

// pingLoop keeps the connection's liveness check running until done.
func (g *Gateway) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}, finish func()) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			conn.SetWriteDeadline(time.Time{})
			writeMu.Unlock()
			if err != nil {
				finish()
				return
			}
		}
	}
}

// writeClose sends a close frame with a reason, best effort.
func writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	conn.WriteMessage(websocket.CloseMessage, msg)
}
