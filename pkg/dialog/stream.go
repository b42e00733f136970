package dialog

import (
	"context"
	"errors"
	"io"
	"time"
)

// DefaultStreamChunkSize is 100ms of 16kHz mono PCM16.
const DefaultStreamChunkSize = 3200

// StreamOptions controls SendAudioStream.
type StreamOptions struct {
	ChunkSize    int
	PaceInterval time.Duration
	// StopSpeech sends stop_speech once the reader is drained.
	StopSpeech bool
}

// SendAudioStream reads r until EOF and sends each chunk with SendAudioData.
// Only read errors and ctx cancellation are returned; sends follow the usual
// no-op rules.
func (d *Dialog) SendAudioStream(ctx context.Context, r io.Reader, opts StreamOptions) error {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultStreamChunkSize
	}

	var ticker *time.Ticker
	if opts.PaceInterval > 0 {
		ticker = time.NewTicker(opts.PaceInterval)
		defer ticker.Stop()
	}

	buf := make([]byte, opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.SendAudioData(chunk)
			if ticker != nil {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	if opts.StopSpeech {
		d.StopSpeech()
	}
	return nil
}
