package audio

import "math"

// BytesToInt16 decodes little-endian PCM16 bytes. A trailing odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// Int16ToBytes encodes samples as little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// Int16ToFloat32 scales samples into [-1, 1].
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, sample := range samples {
		out[i] = float32(sample) / float32(math.MaxInt16)
	}
	return out
}

// Float32ToInt16 clamps and scales samples to PCM16.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, sample := range samples {
		switch {
		case sample > 1.0:
			out[i] = math.MaxInt16
		case sample < -1.0:
			out[i] = math.MinInt16
		default:
			out[i] = int16(sample * math.MaxInt16)
		}
	}
	return out
}

// DownmixToMono averages interleaved channels.
func DownmixToMono(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// FrameBytes returns the size of one PCM16 frame of durationMs.
func FrameBytes(sampleRate, channels, durationMs int) int {
	return sampleRate * durationMs / 1000 * channels * 2
}

// SplitFrames cuts pcm into frameBytes-sized chunks; the last one may be shorter.
func SplitFrames(pcm []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 || len(pcm) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(pcm)+frameBytes-1)/frameBytes)
	for start := 0; start < len(pcm); start += frameBytes {
		end := min(start+frameBytes, len(pcm))
		frames = append(frames, pcm[start:end])
	}
	return frames
}
