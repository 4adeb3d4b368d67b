package rtcm

import (
	"fmt"
	"strings"
)

// StationPosition is the antenna reference point from message 1005 or
// 1006, in ECEF meters.
type StationPosition struct {
	StationID     int
	X, Y, Z       float64
	AntennaHeight float64 // meters; only present in 1006
}

// coordUnit converts the 38-bit signed 0.1 mm fields to meters.
const coordUnit = 0.0001

// ParseStationPosition decodes message 1005 or 1006.
// Returns false when the payload is too short to carry the fields.
func ParseStationPosition(f Frame) (StationPosition, bool) {
	if f.Type != 1005 && f.Type != 1006 {
		return StationPosition{}, false
	}

	// 1005 body: type(12) station(12) itrf(6) flags(4) X(38) ignored(2)
	// Y(38) ignored(2) Z(38) = 152 bits; 1006 appends a 16-bit antenna
	// height.
	need := 152
	if f.Type == 1006 {
		need = 168
	}
	if len(f.Payload)*8 < need {
		return StationPosition{}, false
	}

	pos := StationPosition{
		StationID: int(GetBitU(f.Payload, 12, 12)),
	}

	bit := 34 // after type, station id, ITRF realization year, flags
	pos.X = float64(GetBits64(f.Payload, bit, 38)) * coordUnit
	bit += 38 + 2 // single oscillator flag + reserved
	pos.Y = float64(GetBits64(f.Payload, bit, 38)) * coordUnit
	bit += 38 + 2 // quarter-cycle indicator
	pos.Z = float64(GetBits64(f.Payload, bit, 38)) * coordUnit
	bit += 38

	if f.Type == 1006 {
		pos.AntennaHeight = float64(GetBitU(f.Payload, bit, 16)) * coordUnit
	}

	return pos, true
}

// DeviceDescriptor carries the receiver and antenna strings from
// message 1033.
type DeviceDescriptor struct {
	StationID         int
	AntennaDescriptor string
	AntennaSerial     string
	ReceiverType      string
	Firmware          string
	ReceiverSerial    string
}

// ParseDeviceDescriptor decodes message 1033 (receiver and antenna
// descriptors). Returns false on truncated payloads.
func ParseDeviceDescriptor(f Frame) (DeviceDescriptor, bool) {
	if f.Type != 1033 {
		return DeviceDescriptor{}, false
	}

	d := DeviceDescriptor{}
	bit := 12

	readField := func(width int) (uint32, bool) {
		if (bit+width+7)/8 > len(f.Payload) {
			return 0, false
		}
		v := GetBitU(f.Payload, bit, width)
		bit += width
		return v, true
	}

	readString := func() (string, bool) {
		n, ok := readField(8)
		if !ok {
			return "", false
		}
		var sb strings.Builder
		for i := 0; i < int(n); i++ {
			c, ok := readField(8)
			if !ok {
				return "", false
			}
			sb.WriteString(descriptorChar(byte(c)))
		}
		return sb.String(), true
	}

	station, ok := readField(12)
	if !ok {
		return DeviceDescriptor{}, false
	}
	d.StationID = int(station)

	if d.AntennaDescriptor, ok = readString(); !ok {
		return DeviceDescriptor{}, false
	}
	if _, ok = readField(8); !ok { // antenna setup id
		return DeviceDescriptor{}, false
	}
	if d.AntennaSerial, ok = readString(); !ok {
		return DeviceDescriptor{}, false
	}
	if d.ReceiverType, ok = readString(); !ok {
		return DeviceDescriptor{}, false
	}
	if d.Firmware, ok = readString(); !ok {
		return DeviceDescriptor{}, false
	}
	if d.ReceiverSerial, ok = readString(); !ok {
		return DeviceDescriptor{}, false
	}

	return d, true
}

// descriptorChar renders one descriptor byte. Zero bytes are padding
// and disappear; other non-printable bytes become their numeric value,
// matching how embedded receivers stuff binary into these fields.
func descriptorChar(c byte) string {
	if c == 0 {
		return ""
	}
	if c < 0x20 || c > 0x7e {
		return fmt.Sprintf("%d", c)
	}
	return string(rune(c))
}

// EncodeStationPosition builds a 1005/1006 payload from a position.
// Test fixture helper; the caster itself never synthesizes these.
func EncodeStationPosition(msgType int, stationID int, x, y, z float64) []byte {
	bits := 152
	if msgType == 1006 {
		bits = 168
	}
	payload := make([]byte, (bits+7)/8)

	setBitU(payload, 0, 12, uint64(msgType))
	setBitU(payload, 12, 12, uint64(stationID))

	bit := 34
	setBitU(payload, bit, 38, uint64(int64(x/coordUnit))&((1<<38)-1))
	bit += 40
	setBitU(payload, bit, 38, uint64(int64(y/coordUnit))&((1<<38)-1))
	bit += 40
	setBitU(payload, bit, 38, uint64(int64(z/coordUnit))&((1<<38)-1))

	return payload
}

// EncodeDeviceDescriptor builds a 1033 payload. Test fixture helper.
func EncodeDeviceDescriptor(stationID int, antenna, antennaSerial, receiver, firmware, receiverSerial string) []byte {
	var buf []byte
	var bit int

	appendField := func(width int, v uint64) {
		for len(buf)*8 < bit+width {
			buf = append(buf, 0)
		}
		setBitU(buf, bit, width, v)
		bit += width
	}
	appendString := func(s string) {
		appendField(8, uint64(len(s)))
		for i := 0; i < len(s); i++ {
			appendField(8, uint64(s[i]))
		}
	}

	appendField(12, 1033)
	appendField(12, uint64(stationID))
	appendString(antenna)
	appendField(8, 0) // antenna setup id
	appendString(antennaSerial)
	appendString(receiver)
	appendString(firmware)
	appendString(receiverSerial)

	return buf
}

// setBitU writes an unsigned big-endian bit field.
func setBitU(buff []byte, pos, length int, value uint64) {
	for i := 0; i < length; i++ {
		bitPos := pos + i
		if value&(1<<uint(length-1-i)) != 0 {
			buff[bitPos/8] |= 1 << uint(7-bitPos%8)
		} else {
			buff[bitPos/8] &^= 1 << uint(7-bitPos%8)
		}
	}
}
