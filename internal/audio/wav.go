package audio

import (
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// memWriteSeeker is an in-memory io.WriteSeeker. go-audio/wav.Encoder needs
// Seek to patch the RIFF/data chunk sizes after streaming samples, and we
// have no file handle to hand it — everything here is synthesized audio
// held in memory, never written to disk.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(m.pos) + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("memWriteSeeker: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("memWriteSeeker: negative seek position")
	}
	m.pos = int(newPos)
	return newPos, nil
}

// SamplesToWAV encodes mono float32 PCM samples (range [-1, 1]) as a PCM16
// mono WAV byte slice with a correct header.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	ints := make([]int, len(samples))
	for i, s := range samples {
		clamped := max(float32(-1.0), min(float32(1.0), s))
		ints[i] = int(clamped * math.MaxInt16)
	}

	dst := &memWriteSeeker{}
	enc := wav.NewEncoder(dst, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		// Encoding in-memory PCM cannot fail in practice (no I/O error
		// surface); a WAV with a valid header is still required, so fall
		// back to a hand-built header rather than panicking callers.
		return rawPCM16WAV(samples, sampleRate)
	}
	if err := enc.Close(); err != nil {
		return rawPCM16WAV(samples, sampleRate)
	}
	return dst.buf
}

// rawPCM16WAV is the last-resort RIFF header builder used only if the
// go-audio/wav encoder ever fails against an in-memory sink.
func rawPCM16WAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	totalLen := 44 + dataLen
	buf := make([]byte, totalLen)
	copy(buf[0:4], "RIFF")
	putUint32LE(buf[4:8], uint32(totalLen-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	putUint32LE(buf[16:20], 16)
	putUint16LE(buf[20:22], 1)
	putUint16LE(buf[22:24], 1)
	putUint32LE(buf[24:28], uint32(sampleRate))
	putUint32LE(buf[28:32], uint32(sampleRate*2))
	putUint16LE(buf[32:34], 2)
	putUint16LE(buf[34:36], 16)
	copy(buf[36:40], "data")
	putUint32LE(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		clamped := max(float32(-1.0), min(float32(1.0), s))
		val := int16(clamped * math.MaxInt16)
		putUint16LE(buf[44+i*2:], uint16(val))
	}
	return buf
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// WAVToSamples decodes a PCM16 mono WAV byte slice to float32 samples in
// [-1, 1], returning the sample rate carried by the header.
func WAVToSamples(data []byte) ([]float32, int, error) {
	dec := wav.NewDecoder(&sliceReadSeeker{data: data})
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf.Format == nil {
		return nil, 0, fmt.Errorf("audio: wav missing format chunk")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	maxVal := float32(int64(1) << uint(bitDepth-1))

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / maxVal
	}
	return samples, buf.Format.SampleRate, nil
}

// sliceReadSeeker adapts a byte slice to io.ReadSeeker for the WAV decoder.
type sliceReadSeeker struct {
	data []byte
	pos  int
}

func (s *sliceReadSeeker) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func (s *sliceReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(s.pos) + offset
	case io.SeekEnd:
		newPos = int64(len(s.data)) + offset
	default:
		return 0, fmt.Errorf("sliceReadSeeker: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("sliceReadSeeker: negative seek position")
	}
	s.pos = int(newPos)
	return newPos, nil
}
