package dialog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testTimeout = 3 * time.Second

// mockServer accepts websocket connections and hands the server side of each
// one to the test.
type mockServer struct {
	url   string
	conns chan *serverConn
}

type serverConn struct {
	conn   *websocket.Conn
	header http.Header
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	ms := &mockServer{conns: make(chan *serverConn, 4)}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		ms.conns <- &serverConn{conn: conn, header: r.Header.Clone()}
	}))
	t.Cleanup(server.Close)

	ms.url = "ws" + strings.TrimPrefix(server.URL, "http")
	return ms
}

func (ms *mockServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-ms.conns:
		t.Cleanup(func() { _ = sc.conn.Close() })
		return sc
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for client connection")
		return nil
	}
}

func (sc *serverConn) readJSON(t *testing.T) map[string]any {
	t.Helper()
	_ = sc.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, data, err := sc.conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read error: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("server got invalid json %q: %v", data, err)
	}
	return msg
}

func (sc *serverConn) writeText(t *testing.T, text string) {
	t.Helper()
	if err := sc.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("server write error: %v", err)
	}
}

// recorder is a Handler that records every notification as a short string.
type recorder struct {
	mu     sync.Mutex
	log    []string
	audio  [][]byte
	events chan string
}

func newRecorder() *recorder {
	return &recorder{events: make(chan string, 128)}
}

func (r *recorder) record(entry string) {
	r.mu.Lock()
	r.log = append(r.log, entry)
	r.mu.Unlock()
	r.events <- entry
}

func (r *recorder) OnConnected()                 { r.record("connected") }
func (r *recorder) OnStarted(dialogID string)    { r.record("started:" + dialogID) }
func (r *recorder) OnStopped()                   { r.record("stopped") }
func (r *recorder) OnStateChanged(state string)  { r.record("state:" + state) }
func (r *recorder) OnSpeechContent(text string)  { r.record("speech:" + text) }
func (r *recorder) OnRespondingContent(t string) { r.record("reply:" + t) }
func (r *recorder) OnError(err error)            { r.record("error") }
func (r *recorder) OnClose(code int, msg string) { r.record(fmt.Sprintf("close:%d:%s", code, msg)) }

func (r *recorder) OnSpeechAudioData(data []byte) {
	r.mu.Lock()
	r.audio = append(r.audio, data)
	r.mu.Unlock()
	r.record("audio:" + string(data))
}

func (r *recorder) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) has(entry string) bool {
	for _, e := range r.entries() {
		if e == entry {
			return true
		}
	}
	return false
}

func (r *recorder) waitFor(t *testing.T, entry string) {
	t.Helper()
	timeout := time.After(testTimeout)
	for {
		select {
		case got := <-r.events:
			if got == entry {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q; got %v", entry, r.entries())
		}
	}
}
