package dialog

// Handler receives dialog notifications. Methods are called synchronously from
// the goroutine running Start and must not block.
type Handler interface {
	OnConnected()
	OnStarted(dialogID string)
	OnStopped()
	OnStateChanged(state string)
	OnSpeechAudioData(data []byte)
	OnSpeechContent(text string)
	OnRespondingContent(text string)
	OnError(err error)
	OnClose(code int, message string)
}

// NopHandler ignores every notification. Embed it to implement a subset.
type NopHandler struct{}

func (NopHandler) OnConnected()               {}
func (NopHandler) OnStarted(string)           {}
func (NopHandler) OnStopped()                 {}
func (NopHandler) OnStateChanged(string)      {}
func (NopHandler) OnSpeechAudioData([]byte)   {}
func (NopHandler) OnSpeechContent(string)     {}
func (NopHandler) OnRespondingContent(string) {}
func (NopHandler) OnError(error)              {}
func (NopHandler) OnClose(int, string)        {}

// Callbacks adapts optional functions to Handler. Nil fields are skipped.
type Callbacks struct {
	OnConnected         func()
	OnStarted           func(dialogID string)
	OnStopped           func()
	OnStateChanged      func(state string)
	OnSpeechAudioData   func(data []byte)
	OnSpeechContent     func(text string)
	OnRespondingContent func(text string)
	OnError             func(err error)
	OnClose             func(code int, message string)
}

// Handler returns c as a Handler.
func (c Callbacks) Handler() Handler {
	return callbackHandler{c}
}

type callbackHandler struct {
	cb Callbacks
}

func (h callbackHandler) OnConnected() {
	if h.cb.OnConnected != nil {
		h.cb.OnConnected()
	}
}

func (h callbackHandler) OnStarted(dialogID string) {
	if h.cb.OnStarted != nil {
		h.cb.OnStarted(dialogID)
	}
}

func (h callbackHandler) OnStopped() {
	if h.cb.OnStopped != nil {
		h.cb.OnStopped()
	}
}

func (h callbackHandler) OnStateChanged(state string) {
	if h.cb.OnStateChanged != nil {
		h.cb.OnStateChanged(state)
	}
}

func (h callbackHandler) OnSpeechAudioData(data []byte) {
	if h.cb.OnSpeechAudioData != nil {
		h.cb.OnSpeechAudioData(data)
	}
}

func (h callbackHandler) OnSpeechContent(text string) {
	if h.cb.OnSpeechContent != nil {
		h.cb.OnSpeechContent(text)
	}
}

func (h callbackHandler) OnRespondingContent(text string) {
	if h.cb.OnRespondingContent != nil {
		h.cb.OnRespondingContent(text)
	}
}

func (h callbackHandler) OnError(err error) {
	if h.cb.OnError != nil {
		h.cb.OnError(err)
	}
}

func (h callbackHandler) OnClose(code int, message string) {
	if h.cb.OnClose != nil {
		h.cb.OnClose(code, message)
	}
}
