// Package pcmutil provides PCM16LE <-> WAV framing and energy helpers used
// throughout the capture and transcription pipeline.
package pcmutil

import (
	"bytes"
	"encoding/binary"
	"math"
)

// SampleRate is the fixed capture sample rate the core operates on: 16 kHz
// mono signed 16-bit little-endian PCM.
const SampleRate = 16000

// BytesPerSample is the PCM16LE frame size.
const BytesPerSample = 2

// ToWav wraps raw PCM16LE mono samples in a 44-byte RIFF/WAVE header,
// producing bit-exact output for a given sampleRate: the same (pcm,
// sampleRate) pair always yields the same bytes.
func ToWav(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))             // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))               // PCM tag
	binary.Write(buf, binary.LittleEndian, uint16(1))               // channels
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))      // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*BytesPerSample)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(BytesPerSample))  // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))              // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WavHeader is the subset of RIFF/WAVE header fields a caller might want to
// recover after parsing a buffer produced by ToWav.
type WavHeader struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// ParseWavHeader reads the fixed 44-byte header ToWav produces. It does not
// attempt to handle arbitrary WAV files with extra chunks.
func ParseWavHeader(b []byte) (WavHeader, bool) {
	if len(b) < 44 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WavHeader{}, false
	}
	return WavHeader{
		Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(b[40:44])),
	}, true
}

// DecodeSample decodes one signed little-endian 16-bit sample starting at
// offset i in pcm.
func DecodeSample(pcm []byte, i int) int16 {
	return int16(pcm[i]) | int16(pcm[i+1])<<8
}

// ComputeRMS returns sqrt(mean(sample^2)) over PCM16LE samples decoded as
// signed little-endian 16-bit integers. The result is on the raw amplitude
// scale (0..32768), not normalized — VAD silence thresholds (e.g. 200) are
// expressed in this same scale.
func ComputeRMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += BytesPerSample {
		f := float64(DecodeSample(pcm, i))
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// IsSilent reports whether the RMS energy of pcm is below threshold (raw
// amplitude scale, see ComputeRMS).
func IsSilent(pcm []byte, threshold float64) bool {
	return ComputeRMS(pcm) < threshold
}

// ToFloat32 converts PCM16LE samples to float32 in [-1, 1], the format the
// local on-device provider's IPC protocol consumes.
func ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = float32(DecodeSample(pcm, i*BytesPerSample)) / 32768.0
	}
	return out
}

// DurationMs returns the playback duration, in milliseconds, of a PCM16LE
// mono buffer at SampleRate.
func DurationMs(pcm []byte) int64 {
	samples := len(pcm) / BytesPerSample
	return int64(samples) * 1000 / int64(SampleRate)
}
