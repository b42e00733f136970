package dialog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testConfig(url string) Config {
	return Config{
		URL:         url,
		WorkspaceID: "ws-1",
		AppID:       "app-1",
		APIKey:      "secret",
		Params: RequestParameters{
			Upstream:   Upstream{Type: UpstreamTypeAudioOnly},
			Downstream: Downstream{SampleRate: 48000},
			ClientInfo: ClientInfo{UserID: "aabb", Device: Device{UUID: "1234567890"}},
		}.WithDefaults(),
		ConnectTimeout: testTimeout,
		WriteTimeout:   testTimeout,
	}
}

// startDialog runs Start in the background and returns the server side of the
// connection after the start envelope has been consumed.
func startDialog(t *testing.T, ctx context.Context, dialogID string) (*Dialog, *recorder, *serverConn, map[string]any, chan error) {
	t.Helper()
	ms := newMockServer(t)
	rec := newRecorder()
	d := New(testConfig(ms.url), rec, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx, dialogID) }()

	sc := ms.accept(t)
	start := sc.readJSON(t)
	rec.waitFor(t, "started:"+dialogID)
	return d, rec, sc, start, errCh
}

func waitStart(t *testing.T, errCh chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(testTimeout):
		t.Fatal("Start did not return")
		return nil
	}
}

func TestNewDialog(t *testing.T) {
	d := New(Config{}, nil, nil)
	if d.State() != ConnIdle {
		t.Fatalf("state=%s, want %s", d.State(), ConnIdle)
	}
	if d.cfg.URL != DefaultURL {
		t.Fatalf("url=%q, want default", d.cfg.URL)
	}
	if d.cfg.ConnectTimeout != DefaultConnectTimeout || d.cfg.WriteTimeout != DefaultWriteTimeout {
		t.Fatalf("timeouts not defaulted: %+v", d.cfg)
	}
}

func TestActionsBeforeOpenAreNoops(t *testing.T) {
	rec := newRecorder()
	d := New(testConfig("ws://127.0.0.1:1"), rec, nil)

	d.StartSpeech()
	d.SendAudioData([]byte("abc"))
	d.StopSpeech()
	d.Interrupt()
	d.LocalRespondingStarted()
	d.LocalRespondingEnded()
	d.Stop()
	d.GetDialogState()
	d.RequestToRespond("prompt", "hi", nil)

	if got := rec.entries(); len(got) != 0 {
		t.Fatalf("handler notified: %v", got)
	}
	if d.State() != ConnIdle {
		t.Fatalf("state=%s, want %s", d.State(), ConnIdle)
	}
}

func TestStartSendsHeadersAndStartEnvelope(t *testing.T) {
	ms := newMockServer(t)
	rec := newRecorder()
	d := New(testConfig(ms.url), rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx, "") }()

	sc := ms.accept(t)
	if got := sc.header.Get(HeaderAuthorization); got != "Bearer secret" {
		t.Errorf("authorization=%q", got)
	}
	if got := sc.header.Get(HeaderWorkspace); got != "ws-1" {
		t.Errorf("workspace=%q", got)
	}
	if got := sc.header.Get(HeaderAppID); got != "app-1" {
		t.Errorf("app id=%q", got)
	}

	start := sc.readJSON(t)
	if start["action"] != ActionStart {
		t.Fatalf("action=%v, want start", start["action"])
	}
	params, ok := start["params"].(map[string]any)
	if !ok {
		t.Fatalf("params=%T, want object", start["params"])
	}
	upstream := params["upstream"].(map[string]any)
	if upstream["type"] != "AudioOnly" || upstream["mode"] != "push2talk" || upstream["audio_format"] != "pcm" {
		t.Errorf("upstream=%v", upstream)
	}
	downstream := params["downstream"].(map[string]any)
	if downstream["voice"] != nil || downstream["sample_rate"] != float64(48000) {
		t.Errorf("downstream=%v", downstream)
	}
	client := params["client_info"].(map[string]any)
	if client["user_id"] != "aabb" || client["device"].(map[string]any)["uuid"] != "1234567890" {
		t.Errorf("client_info=%v", client)
	}
	if params["sandbox"] != false || params["directive"] != "Start" {
		t.Errorf("sandbox/directive=%v/%v", params["sandbox"], params["directive"])
	}
	if v, ok := params["dialog_id"]; !ok || v != nil {
		t.Errorf("dialog_id=%v (present=%v), want null", v, ok)
	}

	rec.waitFor(t, "started:")
	got := rec.entries()
	if len(got) < 2 || got[0] != "connected" || got[1] != "started:" {
		t.Fatalf("notifications=%v, want connected then started", got)
	}
	if d.State() != ConnOpen {
		t.Fatalf("state=%s, want %s", d.State(), ConnOpen)
	}

	cancel()
	if err := waitStart(t, errCh); err != nil {
		t.Fatalf("Start returned %v after cancel", err)
	}
}

func TestStartOverridesDialogID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, _, start, errCh := startDialog(t, ctx, "dlg-1")

	params := start["params"].(map[string]any)
	if params["dialog_id"] != "dlg-1" {
		t.Fatalf("dialog_id=%v, want dlg-1", params["dialog_id"])
	}
	if d.DialogID() != "dlg-1" {
		t.Fatalf("DialogID()=%q", d.DialogID())
	}
	cancel()
	waitStart(t, errCh)
}

func TestOutboundActionsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, sc, _, errCh := startDialog(t, ctx, "")

	d.StartSpeech()
	d.SendAudioData([]byte("abc"))
	d.StopSpeech()
	d.Interrupt()
	d.LocalRespondingStarted()
	d.LocalRespondingEnded()
	d.GetDialogState()
	d.RequestToRespond("prompt", "describe", &RequestToRespondParameters{
		Images: []Image{{Type: "url", Value: "https://example.com/a.png"}},
	})
	d.RequestToRespond("transcript", "plain", nil)
	d.Stop()

	want := []string{
		ActionStartSpeech, ActionAudio, ActionStopSpeech, ActionInterrupt,
		ActionLocalRespondingStarted, ActionLocalRespondingEnded, ActionGetState,
		ActionRequestToRespond, ActionRequestToRespond, ActionStop,
	}
	var got []map[string]any
	for range want {
		got = append(got, sc.readJSON(t))
	}
	for i, msg := range got {
		if msg["action"] != want[i] {
			t.Fatalf("message %d action=%v, want %s", i, msg["action"], want[i])
		}
	}

	if got[1]["data"] != "YWJj" || len(got[1]) != 2 {
		t.Errorf("audio envelope=%v", got[1])
	}
	if len(got[0]) != 1 {
		t.Errorf("start_speech envelope has extra fields: %v", got[0])
	}
	respond := got[7]
	if respond["type"] != "prompt" || respond["text"] != "describe" {
		t.Errorf("respond envelope=%v", respond)
	}
	images := respond["params"].(map[string]any)["images"].([]any)
	if len(images) != 1 || images[0].(map[string]any)["value"] != "https://example.com/a.png" {
		t.Errorf("images=%v", images)
	}
	if params := got[8]["params"].(map[string]any); len(params) != 0 {
		t.Errorf("params=%v, want empty object", params)
	}

	cancel()
	waitStart(t, errCh)
}

func TestInboundEventsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, rec, sc, _, errCh := startDialog(t, ctx, "")

	sc.writeText(t, `not json`)
	sc.writeText(t, `{"action":"mystery","text":"x"}`)
	sc.writeText(t, `{"action":"speech_audio","data":"aGVsbG8="}`)
	sc.writeText(t, `{"action":"speech_text","text":"hi there"}`)
	sc.writeText(t, `{"action":"reply_text","text":"hello"}`)
	sc.writeText(t, `{"action":"state","state":"Listening","dialog_id":"srv-7"}`)

	rec.waitFor(t, "audio:hello")
	rec.waitFor(t, "speech:hi there")
	rec.waitFor(t, "reply:hello")
	rec.waitFor(t, "state:Listening")

	want := []string{"connected", "started:", "audio:hello", "speech:hi there", "reply:hello", "state:Listening"}
	got := rec.entries()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("notifications=%v, want %v", got, want)
	}
	if d.DialogID() != "srv-7" {
		t.Fatalf("DialogID()=%q, want srv-7", d.DialogID())
	}

	cancel()
	waitStart(t, errCh)
}

func TestServerCloseActionClosesConnection(t *testing.T) {
	d, rec, sc, _, errCh := startDialog(t, context.Background(), "")

	sc.writeText(t, `{"action":"close"}`)

	_ = sc.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, _, err := sc.conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("server read err=%v, want normal close frame", err)
	}

	if err := waitStart(t, errCh); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	rec.waitFor(t, "close:1000:")
	rec.waitFor(t, "stopped")
	if rec.has("error") {
		t.Fatalf("unexpected error notification: %v", rec.entries())
	}
	if d.State() != ConnClosed {
		t.Fatalf("state=%s, want %s", d.State(), ConnClosed)
	}

	d.StartSpeech()
	d.SendAudioData([]byte("late"))
	if rec.has("error") {
		t.Fatalf("send after close notified handler: %v", rec.entries())
	}
}

func TestServerCloseFrame(t *testing.T) {
	_, rec, sc, _, errCh := startDialog(t, context.Background(), "")

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := sc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close: %v", err)
	}

	if err := waitStart(t, errCh); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	rec.waitFor(t, "close:1000:bye")
	rec.waitFor(t, "stopped")
}

func TestSendAfterCloseFrameIsDropped(t *testing.T) {
	d, rec, sc, _, errCh := startDialog(t, context.Background(), "")

	// The read loop replies to a server close frame before the dialog state
	// changes; sends in that window must not surface as errors.
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("client close reply: %v", err)
	}
	if d.State() != ConnOpen {
		t.Fatalf("state=%s, want %s", d.State(), ConnOpen)
	}

	d.StartSpeech()
	d.SendAudioData([]byte("late"))
	d.RequestToRespond("prompt", "hi", nil)
	if rec.has("error") {
		t.Fatalf("send after close frame notified handler: %v", rec.entries())
	}

	_ = sc.conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := sc.conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("server read err=%v, want normal close frame", err)
	}
	reply := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = sc.conn.WriteControl(websocket.CloseMessage, reply, time.Now().Add(time.Second))

	if err := waitStart(t, errCh); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	rec.waitFor(t, "stopped")
	if rec.has("error") {
		t.Fatalf("unexpected error notification: %v", rec.entries())
	}
}

func TestTransportFailureReportsErrorThenClose(t *testing.T) {
	_, rec, sc, _, errCh := startDialog(t, context.Background(), "")

	_ = sc.conn.NetConn().Close()

	err := waitStart(t, errCh)
	if err == nil {
		t.Fatal("Start returned nil after transport failure")
	}
	var dialogErr *Error
	if !errors.As(err, &dialogErr) {
		t.Fatalf("error type=%T, want *Error", err)
	}
	rec.waitFor(t, "error")
	rec.waitFor(t, "stopped")

	got := rec.entries()
	closeIdx, errIdx := -1, -1
	for i, e := range got {
		if strings.HasPrefix(e, "close:") {
			closeIdx = i
		}
		if e == "error" {
			errIdx = i
		}
	}
	if errIdx < 0 || closeIdx < errIdx {
		t.Fatalf("notifications=%v, want error before close", got)
	}
}

func TestStartRejectedHandshake(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	rec := newRecorder()
	d := New(testConfig("ws"+strings.TrimPrefix(server.URL, "http")), rec, nil)
	err := d.Start(context.Background(), "")
	if !IsErrorKind(err, ErrorKindConnectFailed) {
		t.Fatalf("err=%v, want connect_failed", err)
	}
	var dialogErr *Error
	if errors.As(err, &dialogErr) && (dialogErr.Code == nil || *dialogErr.Code != http.StatusUnauthorized) {
		t.Fatalf("code=%v, want 401", dialogErr.Code)
	}
	if got := rec.entries(); len(got) != 1 || got[0] != "error" {
		t.Fatalf("notifications=%v, want only error", got)
	}
	if d.State() != ConnClosed {
		t.Fatalf("state=%s, want %s", d.State(), ConnClosed)
	}
}

func TestDialogIsSingleUse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d, _, _, _, errCh := startDialog(t, ctx, "")

	if err := d.Start(ctx, ""); !errors.Is(err, ErrDialogActive) {
		t.Fatalf("second Start err=%v, want ErrDialogActive", err)
	}

	cancel()
	waitStart(t, errCh)

	if err := d.Start(context.Background(), ""); !errors.Is(err, ErrDialogClosed) {
		t.Fatalf("Start after close err=%v, want ErrDialogClosed", err)
	}
}

func TestCloseBeforeStart(t *testing.T) {
	d := New(testConfig("ws://127.0.0.1:1"), nil, nil)
	d.Close()
	if err := d.Start(context.Background(), ""); !errors.Is(err, ErrDialogClosed) {
		t.Fatalf("err=%v, want ErrDialogClosed", err)
	}
}

func TestSendAudioStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d, _, sc, _, errCh := startDialog(t, ctx, "")

	err := d.SendAudioStream(ctx, strings.NewReader("abcdefg"), StreamOptions{ChunkSize: 3, StopSpeech: true})
	if err != nil {
		t.Fatalf("SendAudioStream: %v", err)
	}

	want := []string{"YWJj", "ZGVm", "Zw=="}
	for _, data := range want {
		msg := sc.readJSON(t)
		if msg["action"] != ActionAudio || msg["data"] != data {
			t.Fatalf("msg=%v, want audio %s", msg, data)
		}
	}
	if msg := sc.readJSON(t); msg["action"] != ActionStopSpeech {
		t.Fatalf("msg=%v, want stop_speech", msg)
	}

	cancel()
	waitStart(t, errCh)
}

func TestCallbacksAdapter(t *testing.T) {
	var state, reply string
	var closed int
	h := Callbacks{
		OnStateChanged:      func(s string) { state = s },
		OnRespondingContent: func(s string) { reply = s },
		OnClose:             func(code int, _ string) { closed = code },
	}.Handler()

	Dispatch(h, StateChanged{State: "Thinking"})
	Dispatch(h, ReplyText{Text: "ok"})
	Dispatch(h, SpeechText{Text: "ignored"})
	h.OnClose(1000, "")
	h.OnConnected()

	if state != "Thinking" || reply != "ok" || closed != 1000 {
		t.Fatalf("state=%q reply=%q closed=%d", state, reply, closed)
	}
}
