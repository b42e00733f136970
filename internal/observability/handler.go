package observability

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saker-ai/multimodal-dialog/pkg/dialog"
)

// Stats is a point-in-time view of an instrumented dialog.
type Stats struct {
	State        string `json:"state"`
	AudioChunks  int64  `json:"audio_chunks"`
	AudioBytes   int64  `json:"audio_bytes"`
	SpeechTexts  int64  `json:"speech_texts"`
	ReplyTexts   int64  `json:"reply_texts"`
	Errors       int64  `json:"errors"`
	LastError    string `json:"last_error,omitempty"`
	CloseCode    int    `json:"close_code,omitempty"`
	CloseMessage string `json:"close_message,omitempty"`
}

// InstrumentedHandler records metrics for every notification and forwards
// it to the wrapped handler.
type InstrumentedHandler struct {
	next    dialog.Handler
	metrics *Metrics

	audioChunks atomic.Int64
	audioBytes  atomic.Int64
	speechTexts atomic.Int64
	replyTexts  atomic.Int64
	errCount    atomic.Int64

	mu           sync.Mutex
	startedAt    time.Time
	gotAudio     bool
	state        string
	lastError    string
	closeCode    int
	closeMessage string
}

var _ dialog.Handler = (*InstrumentedHandler)(nil)

// Instrument wraps next. A nil next is treated as a no-op handler.
func Instrument(next dialog.Handler, metrics *Metrics) *InstrumentedHandler {
	if next == nil {
		next = dialog.NopHandler{}
	}
	return &InstrumentedHandler{next: next, metrics: metrics}
}

// Stats returns the current counters.
func (h *InstrumentedHandler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		State:        h.state,
		AudioChunks:  h.audioChunks.Load(),
		AudioBytes:   h.audioBytes.Load(),
		SpeechTexts:  h.speechTexts.Load(),
		ReplyTexts:   h.replyTexts.Load(),
		Errors:       h.errCount.Load(),
		LastError:    h.lastError,
		CloseCode:    h.closeCode,
		CloseMessage: h.closeMessage,
	}
}

func (h *InstrumentedHandler) event(name string) {
	if h.metrics != nil {
		h.metrics.Events.WithLabelValues(name).Inc()
	}
}

func (h *InstrumentedHandler) OnConnected() {
	h.event("connected")
	if h.metrics != nil {
		h.metrics.ActiveDialogs.Inc()
	}
	h.next.OnConnected()
}

func (h *InstrumentedHandler) OnStarted(dialogID string) {
	h.event("started")
	h.mu.Lock()
	h.startedAt = time.Now()
	h.gotAudio = false
	h.mu.Unlock()
	h.next.OnStarted(dialogID)
}

func (h *InstrumentedHandler) OnStopped() {
	h.event("stopped")
	h.next.OnStopped()
}

func (h *InstrumentedHandler) OnStateChanged(state string) {
	h.event(dialog.EventState)
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
	h.next.OnStateChanged(state)
}

func (h *InstrumentedHandler) OnSpeechAudioData(data []byte) {
	h.event(dialog.EventSpeechAudio)
	h.audioChunks.Add(1)
	h.audioBytes.Add(int64(len(data)))

	h.mu.Lock()
	first := !h.gotAudio && !h.startedAt.IsZero()
	h.gotAudio = true
	started := h.startedAt
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.AudioBytes.WithLabelValues("downstream").Add(float64(len(data)))
		if first {
			h.metrics.ObserveFirstAudioLatency(time.Since(started))
		}
	}
	h.next.OnSpeechAudioData(data)
}

func (h *InstrumentedHandler) OnSpeechContent(text string) {
	h.event(dialog.EventSpeechText)
	h.speechTexts.Add(1)
	h.next.OnSpeechContent(text)
}

func (h *InstrumentedHandler) OnRespondingContent(text string) {
	h.event(dialog.EventReplyText)
	h.replyTexts.Add(1)
	h.next.OnRespondingContent(text)
}

func (h *InstrumentedHandler) OnError(err error) {
	h.errCount.Add(1)
	kind := "unknown"
	var de *dialog.Error
	if errors.As(err, &de) {
		kind = string(de.Kind)
	}
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(kind).Inc()
	}
	h.mu.Lock()
	if err != nil {
		h.lastError = err.Error()
	}
	h.mu.Unlock()
	h.next.OnError(err)
}

func (h *InstrumentedHandler) OnClose(code int, message string) {
	h.event(dialog.EventClose)
	if h.metrics != nil {
		h.metrics.ActiveDialogs.Dec()
		h.metrics.Closes.WithLabelValues(strconv.Itoa(code)).Inc()
	}
	h.mu.Lock()
	h.closeCode = code
	h.closeMessage = message
	h.mu.Unlock()
	h.next.OnClose(code, message)
}
