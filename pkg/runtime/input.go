package runtime

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saker-ai/multimodal-dialog/pkg/audio"
	"github.com/saker-ai/multimodal-dialog/pkg/audio/opusx"
	"github.com/saker-ai/multimodal-dialog/pkg/dialog"
)

const (
	defaultDownstreamRate = 24000
	opusBitrate           = 24000
	audioFormatOpus       = "opus"
)

// loadInput reads the configured WAV file as mono PCM16 at the upstream rate.
func loadInput(path string, sampleRate int) ([]byte, error) {
	wav, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input audio %s: %w", path, err)
	}
	samples := audio.DownmixToMono(audio.BytesToInt16(wav.PCM), wav.Channels)
	if wav.SampleRate != sampleRate {
		samples, err = audio.Resample(samples, wav.SampleRate, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("resample input audio: %w", err)
		}
	}
	return audio.Int16ToBytes(samples), nil
}

// opusFrameDuration clamps to a frame length the Opus encoder accepts.
func opusFrameDuration(ms int) int {
	switch ms {
	case 10, 20, 40, 60:
		return ms
	default:
		return 20
	}
}

// streamInput sends the input file paced in real time and ends with stop_speech.
func (r *Runner) streamInput(ctx context.Context) error {
	up := r.cfg.Upstream
	pcm, err := loadInput(r.cfg.Input.Path, up.SampleRate)
	if err != nil {
		return err
	}
	r.metrics.AudioBytes.WithLabelValues("upstream").Add(float64(len(pcm)))

	if up.AudioFormat == audioFormatOpus {
		return r.streamOpus(ctx, pcm)
	}

	frameBytes := audio.FrameBytes(up.SampleRate, 1, up.FrameDuration)
	r.logger.Info("streaming input audio",
		zap.String("format", up.AudioFormat),
		zap.Int("bytes", len(pcm)),
		zap.Int("frame_bytes", frameBytes),
	)
	frames := len(audio.SplitFrames(pcm, frameBytes))
	err = r.dialog.SendAudioStream(ctx, bytes.NewReader(pcm), dialog.StreamOptions{
		ChunkSize:    frameBytes,
		PaceInterval: time.Duration(up.FrameDuration) * time.Millisecond,
		StopSpeech:   true,
	})
	r.metrics.SentActions.WithLabelValues("audio").Add(float64(frames))
	if err == nil {
		r.metrics.CountSent("stop_speech")
	}
	return err
}

func (r *Runner) streamOpus(ctx context.Context, pcm []byte) error {
	up := r.cfg.Upstream
	duration := opusFrameDuration(up.FrameDuration)
	enc, err := audio.NewOpusEncoder(up.SampleRate, 1, duration)
	if err != nil {
		return err
	}
	if err := enc.SetBitrate(opusBitrate); err != nil {
		r.logger.Debug("set opus bitrate failed", zap.Error(err))
	}
	r.logger.Info("streaming input audio",
		zap.String("format", audioFormatOpus),
		zap.String("backend", opusx.Backend()),
		zap.Int("bytes", len(pcm)),
		zap.Int("frame_ms", duration),
	)

	ticker := time.NewTicker(time.Duration(duration) * time.Millisecond)
	defer ticker.Stop()
	for _, frame := range audio.SplitFrames(pcm, enc.FrameBytes()) {
		packet, err := enc.Encode(frame)
		if err != nil {
			return err
		}
		r.dialog.SendAudioData(packet)
		r.metrics.CountSent("audio")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	r.dialog.StopSpeech()
	r.metrics.CountSent("stop_speech")
	return nil
}
