package audio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// WAV is decoded 16-bit PCM audio.
type WAV struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

// ReadWAV parses a RIFF/WAVE stream holding 16-bit PCM.
func ReadWAV(r io.Reader) (WAV, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return WAV{}, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAV{}, errors.New("invalid wav header")
	}

	out := WAV{SampleRate: 16000, Channels: 1}
	bitsPerSample := 16
	format := 1
	dataFound := false

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		offset += 8
		if chunkSize < 0 || offset+chunkSize > len(data) {
			chunkSize = len(data) - offset
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return WAV{}, errors.New("wav fmt chunk too short")
			}
			format = int(binary.LittleEndian.Uint16(data[offset : offset+2]))
			out.Channels = int(binary.LittleEndian.Uint16(data[offset+2 : offset+4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[offset+14 : offset+16]))
		case "data":
			out.PCM = data[offset : offset+chunkSize]
			dataFound = true
		}

		offset += chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !dataFound {
		return WAV{}, errors.New("wav data chunk not found")
	}
	if format != 1 || bitsPerSample != 16 {
		return WAV{}, fmt.Errorf("unsupported wav encoding: format=%d bits=%d", format, bitsPerSample)
	}
	return out, nil
}

// ReadWAVFile reads a WAV file from disk.
func ReadWAVFile(path string) (WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAV{}, err
	}
	defer f.Close()
	return ReadWAV(bufio.NewReader(f))
}

// WAVWriter streams PCM16 into a WAV file and fixes up the sizes on Close.
type WAVWriter struct {
	f          *os.File
	sampleRate int
	channels   int
	written    uint32
}

// CreateWAV creates path and writes a provisional header.
func CreateWAV(path string, sampleRate, channels int) (*WAVWriter, error) {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &WAVWriter{f: f, sampleRate: sampleRate, channels: channels}
	if _, err := f.Write(wavHeader(sampleRate, channels, 0)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

// Write appends raw PCM16 bytes.
func (w *WAVWriter) Write(pcm []byte) (int, error) {
	n, err := w.f.Write(pcm)
	w.written += uint32(n)
	return n, err
}

// Len returns the number of PCM bytes written.
func (w *WAVWriter) Len() int {
	return int(w.written)
}

// Close rewrites the header with the final sizes.
func (w *WAVWriter) Close() error {
	if _, err := w.f.WriteAt(wavHeader(w.sampleRate, w.channels, w.written), 0); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

func wavHeader(sampleRate, channels int, dataSize uint32) []byte {
	const bitsPerSample = 16
	head := make([]byte, wavHeaderSize)
	copy(head[0:4], "RIFF")
	binary.LittleEndian.PutUint32(head[4:8], 36+dataSize)
	copy(head[8:12], "WAVE")
	copy(head[12:16], "fmt ")
	binary.LittleEndian.PutUint32(head[16:20], 16)
	binary.LittleEndian.PutUint16(head[20:22], 1)
	binary.LittleEndian.PutUint16(head[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(head[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(head[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(head[32:34], uint16(channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(head[34:36], bitsPerSample)
	copy(head[36:40], "data")
	binary.LittleEndian.PutUint32(head[40:44], dataSize)
	return head
}
