package audio

import (
	"fmt"
	"sync"

	"github.com/saker-ai/multimodal-dialog/pkg/audio/opusx"
)

const maxOpusPacket = 4000

// OpusEncoder encodes fixed-duration PCM16 frames.
type OpusEncoder struct {
	mu            sync.Mutex
	encoder       *opusx.Encoder
	channels      int
	frameDuration int
	frameSize     int
	buf           []byte
}

// NewOpusEncoder creates a VoIP encoder for frames of frameDurationMs.
func NewOpusEncoder(sampleRate, channels, frameDurationMs int) (*OpusEncoder, error) {
	enc, err := opusx.NewEncoder(sampleRate, channels, opusx.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusEncoder{
		encoder:       enc,
		channels:      channels,
		frameDuration: frameDurationMs,
		frameSize:     sampleRate * frameDurationMs / 1000,
		buf:           make([]byte, maxOpusPacket),
	}, nil
}

// Encode encodes one frame of PCM16 bytes. Short input is zero padded, long input truncated.
func (e *OpusEncoder) Encode(pcm []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	samples := BytesToInt16(pcm)
	expected := e.frameSize * e.channels
	if len(samples) < expected {
		padded := make([]int16, expected)
		copy(padded, samples)
		samples = padded
	} else if len(samples) > expected {
		samples = samples[:expected]
	}

	n, err := e.encoder.Encode(samples, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	out := make([]byte, n)
	copy(out, e.buf[:n])
	return out, nil
}

// SetBitrate sets the target bitrate in bits per second.
func (e *OpusEncoder) SetBitrate(bitrate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encoder.SetBitrate(bitrate)
}

// FrameBytes returns the PCM16 byte length of one frame.
func (e *OpusEncoder) FrameBytes() int {
	return e.frameSize * e.channels * 2
}

// FrameDuration returns the frame length in milliseconds.
func (e *OpusEncoder) FrameDuration() int {
	return e.frameDuration
}
