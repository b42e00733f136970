package dialog

import (
	"encoding/base64"
	"encoding/json"
)

// Inbound action discriminators.
const (
	EventSpeechAudio = "speech_audio"
	EventSpeechText  = "speech_text"
	EventReplyText   = "reply_text"
	EventState       = "state"
	EventClose       = "close"
)

// Event is one decoded server message. The set of implementations is closed.
type Event interface {
	Action() string
	event()
}

// SpeechAudio carries a decoded chunk of synthesized speech.
type SpeechAudio struct {
	Data []byte
}

// SpeechText carries the transcription of the user's speech.
type SpeechText struct {
	Text string
}

// ReplyText carries model reply content.
type ReplyText struct {
	Text string
}

// StateChanged carries a server-reported dialog state, forwarded verbatim.
type StateChanged struct {
	State string
}

// CloseRequested asks the client to close the connection.
type CloseRequested struct{}

// Unrecognized is any message that is not valid JSON, has an unknown action,
// or carries a payload that cannot be decoded.
type Unrecognized struct {
	Name string
}

func (SpeechAudio) Action() string    { return EventSpeechAudio }
func (SpeechText) Action() string     { return EventSpeechText }
func (ReplyText) Action() string      { return EventReplyText }
func (StateChanged) Action() string   { return EventState }
func (CloseRequested) Action() string { return EventClose }
func (u Unrecognized) Action() string { return u.Name }

func (SpeechAudio) event()    {}
func (SpeechText) event()     {}
func (ReplyText) event()      {}
func (StateChanged) event()   {}
func (CloseRequested) event() {}
func (Unrecognized) event()   {}

// DecodeEvent parses one inbound message. It never fails: anything it cannot
// interpret becomes Unrecognized.
func DecodeEvent(data []byte) Event {
	ev, _ := decodeEnvelope(data)
	return ev
}

// decodeEnvelope also returns the dialog id the message carried, if any.
// Only the field an action consumes is decoded, so unrelated fields of any
// type never hide a recognized action.
func decodeEnvelope(data []byte) (Event, string) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Unrecognized{}, ""
	}
	action, ok := stringField(fields, "action")
	if !ok {
		return Unrecognized{}, ""
	}
	dialogID, _ := stringField(fields, "dialog_id")

	switch action {
	case EventSpeechAudio:
		encoded, ok := stringField(fields, "data")
		if !ok {
			return Unrecognized{Name: action}, dialogID
		}
		audio, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return Unrecognized{Name: action}, dialogID
		}
		return SpeechAudio{Data: audio}, dialogID
	case EventSpeechText:
		text, ok := stringField(fields, "text")
		if !ok {
			return Unrecognized{Name: action}, dialogID
		}
		return SpeechText{Text: text}, dialogID
	case EventReplyText:
		text, ok := stringField(fields, "text")
		if !ok {
			return Unrecognized{Name: action}, dialogID
		}
		return ReplyText{Text: text}, dialogID
	case EventState:
		state, ok := stringField(fields, "state")
		if !ok {
			return Unrecognized{Name: action}, dialogID
		}
		return StateChanged{State: state}, dialogID
	case EventClose:
		return CloseRequested{}, dialogID
	default:
		return Unrecognized{Name: action}, dialogID
	}
}

// stringField reads key as a string. A missing key or null yields "" and
// true; any other JSON type yields false.
func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, present := fields[key]
	if !present {
		return "", true
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

// Dispatch routes ev to exactly one handler notification. It reports whether
// the event asks for the connection to be closed; CloseRequested does not
// invoke the handler.
func Dispatch(h Handler, ev Event) (closeRequested bool) {
	if h == nil {
		h = NopHandler{}
	}
	switch e := ev.(type) {
	case SpeechAudio:
		h.OnSpeechAudioData(e.Data)
	case SpeechText:
		h.OnSpeechContent(e.Text)
	case ReplyText:
		h.OnRespondingContent(e.Text)
	case StateChanged:
		h.OnStateChanged(e.State)
	case CloseRequested:
		return true
	default:
	}
	return false
}
