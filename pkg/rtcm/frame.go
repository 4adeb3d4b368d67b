package rtcm

import (
	"github.com/goblimey/go-crc24q/crc24q"
)

// Frame layout constants.
const (
	framePreamble  = 0xd3
	frameHeaderLen = 3 // preamble + 6 reserved bits + 10-bit length
	frameCRCLen    = 3
	maxPayloadLen  = 1023
)

// Frame is one validated RTCM3 frame.
type Frame struct {
	// Type is the message number from the first 12 payload bits.
	Type int

	// Payload is the message body without header or CRC.
	Payload []byte
}

// Scanner extracts validated frames from an unframed byte stream.
// Producers send RTCM mixed with NMEA chatter and occasional garbage;
// the scanner resynchronizes on the next preamble byte after any
// mismatch, so junk between frames is skipped silently.
type Scanner struct {
	buf []byte

	// counters for stream quality accounting
	FramesOK  uint64
	FramesBad uint64
	Skipped   uint64
}

// NewScanner returns an empty Scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Feed appends raw bytes and returns every complete valid frame now
// available. Partial frames stay buffered for the next call.
func (s *Scanner) Feed(data []byte) []Frame {
	s.buf = append(s.buf, data...)

	var frames []Frame
	for {
		frame, ok := s.next()
		if !ok {
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

// next tries to extract one frame from the head of the buffer.
func (s *Scanner) next() (Frame, bool) {
	// Hunt for the preamble.
	start := 0
	for start < len(s.buf) && s.buf[start] != framePreamble {
		start++
	}
	if start > 0 {
		s.Skipped += uint64(start)
		s.buf = s.buf[start:]
	}

	if len(s.buf) < frameHeaderLen {
		return Frame{}, false
	}

	payloadLen := int(GetBitU(s.buf, 14, 10))
	total := frameHeaderLen + payloadLen + frameCRCLen
	if len(s.buf) < total {
		return Frame{}, false
	}

	candidate := s.buf[:total]
	crcWant := GetBitU(candidate, (frameHeaderLen+payloadLen)*8, 24)
	if crc24q.Hash(candidate[:frameHeaderLen+payloadLen]) != crcWant {
		// Bad CRC: drop the preamble byte and resynchronize.
		s.FramesBad++
		s.Skipped++
		s.buf = s.buf[1:]
		return s.next()
	}

	payload := make([]byte, payloadLen)
	copy(payload, candidate[frameHeaderLen:frameHeaderLen+payloadLen])
	s.buf = s.buf[total:]
	s.FramesOK++

	msgType := 0
	if payloadLen >= 2 {
		msgType = int(GetBitU(payload, 0, 12))
	}

	return Frame{Type: msgType, Payload: payload}, true
}

// EncodeFrame wraps a payload in RTCM3 framing with a valid CRC.
// Used by tests and stream fixtures.
func EncodeFrame(payload []byte) []byte {
	if len(payload) > maxPayloadLen {
		payload = payload[:maxPayloadLen]
	}

	frame := make([]byte, 0, frameHeaderLen+len(payload)+frameCRCLen)
	frame = append(frame, framePreamble)
	frame = append(frame, byte(len(payload)>>8)&0x03, byte(len(payload)))
	frame = append(frame, payload...)

	crc := crc24q.Hash(frame)
	frame = append(frame, crc24q.HiByte(crc), crc24q.MiByte(crc), crc24q.LoByte(crc))
	return frame
}
