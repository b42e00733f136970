package dialog

import (
	"encoding/base64"
	"encoding/json"
)

// Action names carried in the "action" field of outbound envelopes.
const (
	ActionStart                  = "start"
	ActionStartSpeech            = "start_speech"
	ActionAudio                  = "audio"
	ActionStopSpeech             = "stop_speech"
	ActionInterrupt              = "interrupt"
	ActionLocalRespondingStarted = "local_responding_started"
	ActionLocalRespondingEnded   = "local_responding_ended"
	ActionStop                   = "stop"
	ActionGetState               = "get_state"
	ActionRequestToRespond       = "request_to_respond"
)

// envelope is one outbound control message. Params is omitted when nil.
type envelope struct {
	Action string `json:"action"`
	Params any    `json:"params,omitempty"`
}

// audioMessage always carries data, even for an empty chunk.
type audioMessage struct {
	Action string `json:"action"`
	Data   string `json:"data"`
}

func actionEnvelope(action string) envelope {
	return envelope{Action: action}
}

func startEnvelope(params RequestParameters) envelope {
	return envelope{Action: ActionStart, Params: params}
}

func audioEnvelope(data []byte) audioMessage {
	return audioMessage{Action: ActionAudio, Data: base64.StdEncoding.EncodeToString(data)}
}

// respondEnvelope keeps type and text even when empty.
func respondEnvelope(requestType, text string, params *RequestToRespondParameters) any {
	var payload any = map[string]any{}
	if params != nil {
		images := params.Images
		if images == nil {
			images = []Image{}
		}
		payload = RequestToRespondParameters{Images: images}
	}
	return struct {
		Action string `json:"action"`
		Type   string `json:"type"`
		Text   string `json:"text"`
		Params any    `json:"params"`
	}{
		Action: ActionRequestToRespond,
		Type:   requestType,
		Text:   text,
		Params: payload,
	}
}

// MarshalJSON writes unset voice and sample rate as null.
func (d Downstream) MarshalJSON() ([]byte, error) {
	wire := struct {
		Voice      *string `json:"voice"`
		SampleRate *int    `json:"sample_rate"`
	}{}
	if d.Voice != "" {
		wire.Voice = &d.Voice
	}
	if d.SampleRate > 0 {
		wire.SampleRate = &d.SampleRate
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts null for either field.
func (d *Downstream) UnmarshalJSON(data []byte) error {
	var wire struct {
		Voice      *string `json:"voice"`
		SampleRate *int    `json:"sample_rate"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*d = Downstream{}
	if wire.Voice != nil {
		d.Voice = *wire.Voice
	}
	if wire.SampleRate != nil {
		d.SampleRate = *wire.SampleRate
	}
	return nil
}

type requestParametersWire RequestParameters

// MarshalJSON writes an unset dialog id as null.
func (p RequestParameters) MarshalJSON() ([]byte, error) {
	wire := struct {
		requestParametersWire
		DialogID *string `json:"dialog_id"`
	}{requestParametersWire: requestParametersWire(p)}
	if p.DialogID != "" {
		wire.DialogID = &p.DialogID
	}
	return json.Marshal(wire)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *RequestParameters) UnmarshalJSON(data []byte) error {
	var wire struct {
		requestParametersWire
		DialogID *string `json:"dialog_id"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = RequestParameters(wire.requestParametersWire)
	if wire.DialogID != nil {
		p.DialogID = *wire.DialogID
	}
	return nil
}
