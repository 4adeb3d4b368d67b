// Package rtcm implements the bounded RTCM3 stream inspector: frame
// scanning with CRC validation, message classification, station
// position and descriptor extraction, MSM observables, and bitrate
// accounting. The inspector taps a copy of each producer stream and
// never touches the forwarding path.
package rtcm

// GetBitU reads an unsigned big-endian bit field from buff starting at
// bit position pos.
func GetBitU(buff []byte, pos, length int) uint32 {
	return uint32(GetBitU64(buff, pos, length))
}

// GetBitU64 reads an unsigned bit field of up to 64 bits.
func GetBitU64(buff []byte, pos, length int) uint64 {
	var bits uint64
	for i := pos; i < pos+length; i++ {
		bits = (bits << 1) | uint64((buff[i/8]>>(7-i%8))&1)
	}
	return bits
}

// GetBits reads a two's-complement signed bit field of up to 32 bits.
func GetBits(buff []byte, pos, length int) int32 {
	return int32(GetBits64(buff, pos, length))
}

// GetBits64 reads a two's-complement signed bit field of up to 64 bits.
// Station ECEF coordinates (DF025/026/027) are 38-bit signed fields.
func GetBits64(buff []byte, pos, length int) int64 {
	bits := GetBitU64(buff, pos, length)
	if length <= 0 || length >= 64 {
		return int64(bits)
	}
	if bits&(1<<uint(length-1)) == 0 {
		return int64(bits)
	}
	return int64(bits | (^uint64(0) << uint(length)))
}
