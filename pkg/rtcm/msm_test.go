package rtcm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encodeMSM builds an MSM payload with a full cell mask, zeroed
// observables and the given lock/CNR cells. Test fixture only.
func encodeMSM(msgType, stationID int, epochTime uint32, prns, sigIDs []int, locks, cnrs []uint32) []byte {
	variant := msmVariant(msgType)
	layout := msmLayouts[variant]
	nsat, nsig := len(prns), len(sigIDs)
	ncell := nsat * nsig

	satBits := 0
	for _, w := range msmSatelliteBits(variant) {
		satBits += w * nsat
	}
	perCell := layout.pseudorange + layout.phase + layout.lock + layout.half + layout.cnr + layout.rate
	total := 73 + 64 + 32 + ncell + satBits + ncell*perCell

	buf := make([]byte, (total+7)/8)
	bit := 0
	put := func(width int, v uint64) {
		setBitU(buf, bit, width, v)
		bit += width
	}

	put(12, uint64(msgType))
	put(12, uint64(stationID))
	put(30, uint64(epochTime))
	put(19, 0) // multi-message, IODS, reserved, clock steering, smoothing

	var satMask uint64
	for _, p := range prns {
		satMask |= 1 << uint(64-p)
	}
	put(64, satMask)

	var sigMask uint64
	for _, s := range sigIDs {
		sigMask |= 1 << uint(32-s)
	}
	put(32, sigMask)

	for i := 0; i < ncell; i++ {
		put(1, 1)
	}

	bit += satBits
	bit += layout.pseudorange * ncell
	bit += layout.phase * ncell
	if layout.lock > 0 {
		for i := 0; i < ncell; i++ {
			put(layout.lock, uint64(locks[i]))
		}
	}
	bit += layout.half * ncell
	if layout.cnr > 0 {
		for i := 0; i < ncell; i++ {
			put(layout.cnr, uint64(cnrs[i]))
		}
	}

	return buf
}

func TestParseMSM4(t *testing.T) {
	payload := encodeMSM(1074, 2101, 345600000,
		[]int{5, 12}, []int{2, 15},
		[]uint32{7, 8, 9, 10}, []uint32{45, 44, 38, 41})

	epoch, ok := ParseMSM(Frame{Type: 1074, Payload: payload})

	require.True(t, ok)
	assert.Equal(t, 2101, epoch.StationID)
	assert.Equal(t, uint32(345600000), epoch.EpochTime)
	require.Len(t, epoch.Satellites, 4)

	first := epoch.Satellites[0]
	assert.Equal(t, "GPS", first.Constellation)
	assert.Equal(t, 5, first.PRN)
	assert.Equal(t, "1C", first.Signal)
	assert.Equal(t, 7, first.LockTime)
	assert.Equal(t, 45.0, first.CNR)

	last := epoch.Satellites[3]
	assert.Equal(t, 12, last.PRN)
	assert.Equal(t, "2S", last.Signal)
	assert.Equal(t, 41.0, last.CNR)
}

func TestParseMSM7CNRScale(t *testing.T) {
	// MSM7 carries CNR in 0.0625 dB-Hz units
	payload := encodeMSM(1077, 1, 100, []int{3}, []int{2},
		[]uint32{512}, []uint32{720})

	epoch, ok := ParseMSM(Frame{Type: 1077, Payload: payload})

	require.True(t, ok)
	require.Len(t, epoch.Satellites, 1)
	assert.Equal(t, 512, epoch.Satellites[0].LockTime)
	assert.InDelta(t, 45.0, epoch.Satellites[0].CNR, 1e-9)
}

func TestParseMSMGlonass(t *testing.T) {
	payload := encodeMSM(1084, 9, 86399000, []int{1, 7}, []int{2},
		[]uint32{1, 2}, []uint32{40, 33})

	epoch, ok := ParseMSM(Frame{Type: 1084, Payload: payload})

	require.True(t, ok)
	require.Len(t, epoch.Satellites, 2)
	assert.Equal(t, "GLO", epoch.Satellites[0].Constellation)
	assert.Equal(t, "1C", epoch.Satellites[0].Signal)
	assert.Equal(t, 7, epoch.Satellites[1].PRN)
}

func TestParseMSMUnknownSignalFallsBack(t *testing.T) {
	payload := encodeMSM(1074, 1, 0, []int{1}, []int{29},
		[]uint32{0}, []uint32{30})

	epoch, ok := ParseMSM(Frame{Type: 1074, Payload: payload})

	require.True(t, ok)
	require.Len(t, epoch.Satellites, 1)
	assert.Equal(t, "S29", epoch.Satellites[0].Signal)
}

func TestParseMSMRejectsTruncated(t *testing.T) {
	payload := encodeMSM(1074, 1, 0, []int{5}, []int{2}, []uint32{1}, []uint32{40})

	_, ok := ParseMSM(Frame{Type: 1074, Payload: payload[:20]})
	assert.False(t, ok)
}

func TestParseMSMRejectsNonMSMVariant(t *testing.T) {
	// x079 ids are reserved, not MSM levels 1-7
	_, ok := ParseMSM(Frame{Type: 1079, Payload: make([]byte, 64)})
	assert.False(t, ok)
}

func TestLookupCarrier(t *testing.T) {
	info, ok := LookupCarrier(1077)
	require.True(t, ok)
	assert.Equal(t, "GPS", info.Constellation)
	assert.Equal(t, "L1+L2+L5", info.Carrier)

	info, ok = LookupCarrier(1127)
	require.True(t, ok)
	assert.Equal(t, "BDS", info.Constellation)

	_, ok = LookupCarrier(1005)
	assert.False(t, ok)
}
