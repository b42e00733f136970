package dialog

// Defaults applied by RequestParameters.WithDefaults.
const (
	DefaultUpstreamMode   = "push2talk"
	DefaultAudioFormat    = "pcm"
	DefaultDirective      = "Start"
	DefaultURL            = "wss://dashscope.aliyuncs.com/api/v1/multimodal/dialog"
	UpstreamTypeAudioOnly = "AudioOnly"
)

// Upstream describes the client's input modality.
type Upstream struct {
	Type        string `json:"type"`
	Mode        string `json:"mode"`
	AudioFormat string `json:"audio_format"`
}

// Downstream describes the requested output modality. Zero values are sent as null.
type Downstream struct {
	Voice      string `json:"-"`
	SampleRate int    `json:"-"`
}

// Device identifies the caller's device.
type Device struct {
	UUID string `json:"uuid"`
}

// ClientInfo identifies the caller.
type ClientInfo struct {
	UserID string `json:"user_id"`
	Device Device `json:"device"`
}

// RequestParameters is serialized verbatim into the start envelope.
type RequestParameters struct {
	Upstream   Upstream   `json:"upstream"`
	Downstream Downstream `json:"downstream"`
	ClientInfo ClientInfo `json:"client_info"`
	Sandbox    bool       `json:"sandbox"`
	Directive  string     `json:"directive"`
	DialogID   string     `json:"-"`
}

// WithDefaults fills unset mode, audio format and directive.
func (p RequestParameters) WithDefaults() RequestParameters {
	if p.Upstream.Mode == "" {
		p.Upstream.Mode = DefaultUpstreamMode
	}
	if p.Upstream.AudioFormat == "" {
		p.Upstream.AudioFormat = DefaultAudioFormat
	}
	if p.Directive == "" {
		p.Directive = DefaultDirective
	}
	return p
}

// Image references one image attached to a respond request.
type Image struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RequestToRespondParameters is the optional payload of a request_to_respond action.
type RequestToRespondParameters struct {
	Images []Image `json:"images"`
}
