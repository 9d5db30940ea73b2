package audio

import (
	"encoding/binary"
	"math"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

// BytesPerStereoFrame is the size of one interleaved PCM16 stereo frame.
const BytesPerStereoFrame = 4

func float32ToInt16(sample float32) int16 {
	if sample != sample {
		return 0
	}
	if sample > 1.0 {
		return 32767
	}
	if sample < -1.0 {
		return -32768
	}
	return int16(sample * 32767)
}

func int16ToFloat32(sample int16) float32 {
	return float32(sample) / float32(math.MaxInt16)
}

// PCM16ToFramesInto decodes interleaved little-endian stereo PCM16 into dst
// and returns the slice. A trailing partial frame is ignored.
func PCM16ToFramesInto(dst []denoise.Frame, pcm []byte) []denoise.Frame {
	n := len(pcm) / BytesPerStereoFrame
	if cap(dst) < n {
		dst = make([]denoise.Frame, n)
	} else {
		dst = dst[:n]
	}
	for i := range dst {
		off := i * BytesPerStereoFrame
		dst[i] = denoise.Frame{
			Left:  int16ToFloat32(int16(binary.LittleEndian.Uint16(pcm[off:]))),
			Right: int16ToFloat32(int16(binary.LittleEndian.Uint16(pcm[off+2:]))),
		}
	}
	return dst
}

// FramesToPCM16Into encodes frames as interleaved little-endian stereo PCM16,
// clipping to full scale. NaN samples encode as silence.
func FramesToPCM16Into(dst []byte, frames []denoise.Frame) []byte {
	needed := len(frames) * BytesPerStereoFrame
	if cap(dst) < needed {
		dst = make([]byte, needed)
	} else {
		dst = dst[:needed]
	}
	for i, frame := range frames {
		off := i * BytesPerStereoFrame
		binary.LittleEndian.PutUint16(dst[off:], uint16(float32ToInt16(frame.Left)))
		binary.LittleEndian.PutUint16(dst[off+2:], uint16(float32ToInt16(frame.Right)))
	}
	return dst
}

// Deinterleave splits interleaved samples with the given channel count into
// stereo frames. Mono is duplicated; more than two channels are averaged.
func Deinterleave(samples []float32, channels int) []denoise.Frame {
	if channels < 1 {
		return nil
	}
	n := len(samples) / channels
	frames := make([]denoise.Frame, n)
	for i := range frames {
		base := samples[i*channels : (i+1)*channels]
		switch channels {
		case 1:
			frames[i] = denoise.Frame{Left: base[0], Right: base[0]}
		case 2:
			frames[i] = denoise.Frame{Left: base[0], Right: base[1]}
		default:
			var sum float32
			for _, s := range base {
				sum += s
			}
			mean := sum / float32(channels)
			frames[i] = denoise.Frame{Left: mean, Right: mean}
		}
	}
	return frames
}

// Interleave flattens stereo frames into L R L R order.
func Interleave(frames []denoise.Frame) []float32 {
	out := make([]float32, 0, len(frames)*2)
	for _, f := range frames {
		out = append(out, f.Left, f.Right)
	}
	return out
}
