package protocol

import (
	"encoding/binary"
	"errors"
	"math"
)

// BinaryFrame is the parsed form of a binary WebSocket audio frame:
//
//	offset  size  field
//	0       1     stream_id_length L
//	1       L     stream_id (UTF-8)
//	1+L     4     sequence (big-endian uint32)
//	5+L     8     timestamp (big-endian IEEE-754 float64 seconds)
//	13+L    ...   PCM16 little-endian mono samples
type BinaryFrame struct {
	StreamID  string
	Sequence  uint32
	Timestamp float64
	PCM       []byte
}

// ErrFrameTooShort, ErrStreamIDTooLong, and ErrPCMLength are the invariant
// violations ParseFrame/EncodeFrame can hit.
var (
	ErrFrameTooShort   = errors.New("protocol: frame shorter than header")
	ErrStreamIDTooLong = errors.New("protocol: stream_id_length exceeds 255")
	ErrPCMLength       = errors.New("protocol: pcm payload length not a multiple of 2*channels")
)

// ParseFrame decodes a binary audio frame. channels validates the PCM16
// payload length invariant (payload length must be a multiple of
// 2*channels); pass 1 for mono.
func ParseFrame(data []byte, channels int) (BinaryFrame, error) {
	if len(data) < 1 {
		return BinaryFrame{}, ErrFrameTooShort
	}
	l := int(data[0])
	if len(data) < 1+l+4+8 {
		return BinaryFrame{}, ErrFrameTooShort
	}
	streamID := string(data[1 : 1+l])
	seq := binary.BigEndian.Uint32(data[1+l : 1+l+4])
	ts := math.Float64frombits(binary.BigEndian.Uint64(data[1+l+4 : 1+l+4+8]))
	pcm := data[1+l+4+8:]
	if channels <= 0 {
		channels = 1
	}
	if len(pcm)%(2*channels) != 0 {
		return BinaryFrame{}, ErrPCMLength
	}
	return BinaryFrame{StreamID: streamID, Sequence: seq, Timestamp: ts, PCM: pcm}, nil
}

// EncodeFrame serializes a BinaryFrame to the wire layout.
func EncodeFrame(f BinaryFrame) ([]byte, error) {
	if len(f.StreamID) > 255 {
		return nil, ErrStreamIDTooLong
	}
	l := len(f.StreamID)
	out := make([]byte, 1+l+4+8+len(f.PCM))
	out[0] = byte(l)
	copy(out[1:1+l], f.StreamID)
	binary.BigEndian.PutUint32(out[1+l:1+l+4], f.Sequence)
	binary.BigEndian.PutUint64(out[1+l+4:1+l+4+8], math.Float64bits(f.Timestamp))
	copy(out[1+l+4+8:], f.PCM)
	return out, nil
}
