package audio

import (
	"errors"

	resampler "github.com/godeps/go-audio-soxr"
)

// StreamResampler converts continuous PCM16 audio between sample rates,
// keeping filter state across calls.
type StreamResampler struct {
	inRate  int
	outRate int
	r       *resampler.SimpleResamplerFloat32
}

// NewStreamResampler creates a high quality resampler. Equal rates yield a passthrough.
func NewStreamResampler(inRate, outRate int) (*StreamResampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, errors.New("sample rates must be positive")
	}
	s := &StreamResampler{inRate: inRate, outRate: outRate}
	if inRate == outRate {
		return s, nil
	}
	r, err := resampler.NewEngineFloat32(float64(inRate), float64(outRate), resampler.QualityHigh)
	if err != nil {
		return nil, err
	}
	s.r = r
	return s, nil
}

// Passthrough reports whether no conversion is performed.
func (s *StreamResampler) Passthrough() bool {
	return s.r == nil
}

// Process resamples one chunk of PCM16 samples. Output may lag input until Flush.
func (s *StreamResampler) Process(pcm []int16) ([]int16, error) {
	if s.r == nil || len(pcm) == 0 {
		return pcm, nil
	}
	out, err := s.r.Process(Int16ToFloat32(pcm))
	if err != nil {
		return nil, err
	}
	return Float32ToInt16(out), nil
}

// Flush drains buffered samples at end of stream.
func (s *StreamResampler) Flush() ([]int16, error) {
	if s.r == nil {
		return nil, nil
	}
	out, err := s.r.Flush()
	if err != nil {
		return nil, err
	}
	return Float32ToInt16(out), nil
}

// Reset clears internal state so the resampler can start a new stream.
func (s *StreamResampler) Reset() {
	if s.r != nil {
		s.r.Reset()
	}
}

// Resample converts a complete buffer in one pass.
func Resample(pcm []int16, inRate, outRate int) ([]int16, error) {
	s, err := NewStreamResampler(inRate, outRate)
	if err != nil {
		return nil, err
	}
	out, err := s.Process(pcm)
	if err != nil {
		return nil, err
	}
	tail, err := s.Flush()
	if err != nil {
		return nil, err
	}
	return append(out, tail...), nil
}
