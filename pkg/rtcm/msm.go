package rtcm

import "fmt"

// SatelliteSignal is one satellite/signal cell from an MSM message.
type SatelliteSignal struct {
	Constellation string
	PRN           int
	Signal        string
	CNR           float64 // carrier-to-noise ratio, dB-Hz; 0 for MSM1-3
	LockTime      int     // lock time indicator, raw units
}

// MSMEpoch is the decoded observable set of one MSM message.
type MSMEpoch struct {
	MsgType    int
	StationID  int
	EpochTime  uint32 // milliseconds within the constellation's epoch
	Satellites []SatelliteSignal
}

// msmCellLayout gives the per-cell field widths of each MSM level.
// Fields are stored field-major: all pseudoranges, then all phases, and
// so on. Zero width means the level does not carry the field.
type msmCellLayout struct {
	pseudorange int
	phase       int
	lock        int
	half        int
	cnr         int
	rate        int
	cnrScale    float64
}

var msmLayouts = map[int]msmCellLayout{
	1: {pseudorange: 15},
	2: {phase: 22, lock: 4, half: 1},
	3: {pseudorange: 15, phase: 22, lock: 4, half: 1},
	4: {pseudorange: 15, phase: 22, lock: 4, half: 1, cnr: 6, cnrScale: 1},
	5: {pseudorange: 15, phase: 22, lock: 4, half: 1, cnr: 6, rate: 15, cnrScale: 1},
	6: {pseudorange: 20, phase: 24, lock: 10, half: 1, cnr: 10, cnrScale: 0.0625},
	7: {pseudorange: 20, phase: 24, lock: 10, half: 1, cnr: 10, rate: 15, cnrScale: 0.0625},
}

// satellite-block field widths per MSM level
func msmSatelliteBits(variant int) []int {
	switch variant {
	case 1, 2, 3:
		return []int{10} // rough range modulo only
	case 4, 6:
		return []int{8, 10} // rough range integer ms + modulo
	case 5, 7:
		return []int{8, 4, 10, 14} // + extended info + rough phase rate
	default:
		return nil
	}
}

// ParseMSM decodes the satellite/signal cells of an MSM message.
// Only the fields the inspector reports (PRN, signal, CNR, lock) are
// interpreted; remaining observables are skipped by width.
func ParseMSM(f Frame) (MSMEpoch, bool) {
	variant := msmVariant(f.Type)
	if variant == 0 {
		return MSMEpoch{}, false
	}

	totalBits := len(f.Payload) * 8
	if totalBits < 169 {
		return MSMEpoch{}, false
	}

	epoch := MSMEpoch{MsgType: f.Type}

	bit := 12
	epoch.StationID = int(GetBitU(f.Payload, bit, 12))
	bit += 12
	epoch.EpochTime = GetBitU(f.Payload, bit, 30)
	bit += 30
	bit += 1 + 3 + 7 + 2 + 2 + 1 + 3 // flags through smoothing interval

	satMask := GetBitU64(f.Payload, bit, 64)
	bit += 64
	sigMask := GetBitU64(f.Payload, bit, 32)
	bit += 32

	var prns []int
	for i := 0; i < 64; i++ {
		if satMask&(1<<uint(63-i)) != 0 {
			prns = append(prns, i+1)
		}
	}
	var sigIDs []int
	for i := 0; i < 32; i++ {
		if sigMask&(1<<uint(31-i)) != 0 {
			sigIDs = append(sigIDs, i+1)
		}
	}

	nsat, nsig := len(prns), len(sigIDs)
	if nsat == 0 || nsig == 0 || nsat*nsig > 64 {
		return MSMEpoch{}, false
	}

	cellBits := nsat * nsig
	if bit+cellBits > totalBits {
		return MSMEpoch{}, false
	}

	type cell struct {
		prn int
		sig int
	}
	var cells []cell
	for s := 0; s < nsat; s++ {
		for g := 0; g < nsig; g++ {
			if GetBitU(f.Payload, bit, 1) == 1 {
				cells = append(cells, cell{prn: prns[s], sig: sigIDs[g]})
			}
			bit++
		}
	}

	// Skip the satellite data block.
	for _, width := range msmSatelliteBits(variant) {
		bit += width * nsat
	}

	layout := msmLayouts[variant]
	ncell := len(cells)

	skip := func(width int) bool {
		if width == 0 {
			return true
		}
		if bit+width*ncell > totalBits {
			return false
		}
		bit += width * ncell
		return true
	}

	readAll := func(width int) ([]uint32, bool) {
		if width == 0 {
			return nil, true
		}
		if bit+width*ncell > totalBits {
			return nil, false
		}
		out := make([]uint32, ncell)
		for i := range out {
			out[i] = GetBitU(f.Payload, bit, width)
			bit += width
		}
		return out, true
	}

	if !skip(layout.pseudorange) || !skip(layout.phase) {
		return MSMEpoch{}, false
	}
	locks, ok := readAll(layout.lock)
	if !ok {
		return MSMEpoch{}, false
	}
	if !skip(layout.half) {
		return MSMEpoch{}, false
	}
	cnrs, ok := readAll(layout.cnr)
	if !ok {
		return MSMEpoch{}, false
	}

	constellation := msmConstellation(f.Type)
	for i, c := range cells {
		ss := SatelliteSignal{
			Constellation: constellation,
			PRN:           c.prn,
			Signal:        msmSignalName(constellation, c.sig),
		}
		if locks != nil {
			ss.LockTime = int(locks[i])
		}
		if cnrs != nil {
			ss.CNR = float64(cnrs[i]) * layout.cnrScale
		}
		epoch.Satellites = append(epoch.Satellites, ss)
	}

	return epoch, true
}

// msmSignalName maps an MSM signal mask id to a RINEX-style observation
// code for the given constellation.
func msmSignalName(constellation string, id int) string {
	var table map[int]string
	switch constellation {
	case "GPS":
		table = gpsSignals
	case "GLO":
		table = gloSignals
	case "GAL":
		table = galSignals
	case "BDS":
		table = bdsSignals
	case "QZSS":
		table = qzssSignals
	}
	if name, ok := table[id]; ok {
		return name
	}
	return fmt.Sprintf("S%d", id)
}

var gpsSignals = map[int]string{
	2: "1C", 3: "1P", 4: "1W",
	8: "2C", 9: "2P", 10: "2W",
	15: "2S", 16: "2L", 17: "2X",
	22: "5I", 23: "5Q", 24: "5X",
	30: "1S", 31: "1L", 32: "1X",
}

var gloSignals = map[int]string{
	2: "1C", 3: "1P",
	8: "2C", 9: "2P",
}

var galSignals = map[int]string{
	2: "1C", 3: "1A", 4: "1B", 5: "1X", 6: "1Z",
	8: "6C", 9: "6A", 10: "6B", 11: "6X", 12: "6Z",
	14: "7I", 15: "7Q", 16: "7X",
	18: "8I", 19: "8Q", 20: "8X",
	22: "5I", 23: "5Q", 24: "5X",
}

var bdsSignals = map[int]string{
	2: "2I", 3: "2Q", 4: "2X",
	8: "6I", 9: "6Q", 10: "6X",
	14: "7I", 15: "7Q", 16: "7X",
}

var qzssSignals = map[int]string{
	2: "1C",
	9: "6S", 10: "6L", 11: "6X",
	16: "2S", 17: "2L", 18: "2X",
	22: "5I", 23: "5Q", 24: "5X",
	30: "1S", 31: "1L", 32: "1X",
}
