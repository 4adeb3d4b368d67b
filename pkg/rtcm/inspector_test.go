package rtcm

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// beijingECEF is a reference position inside Beijing.
var beijingECEF = [3]float64{-2168000, 4386000, 4078000}

func inspectionStream(t *testing.T) []byte {
	t.Helper()

	var stream []byte
	stream = append(stream, EncodeFrame(EncodeStationPosition(1005, 2101,
		beijingECEF[0], beijingECEF[1], beijingECEF[2]))...)
	stream = append(stream, []byte("$GNGGA,000000.00,,,,,0,00,,,M,,M,,*66\r\n")...)
	stream = append(stream, EncodeFrame(EncodeDeviceDescriptor(2101,
		"TRM57971.00 NONE", "", "TRIMBLE NETR9", "5.45", ""))...)
	for i := 0; i < 5; i++ {
		stream = append(stream, EncodeFrame(encodeMSM(1074, 2101, uint32(i*1000),
			[]int{5, 12}, []int{2}, []uint32{1, 2}, []uint32{45, 40}))...)
	}
	return stream
}

func TestInspectorSTRFix(t *testing.T) {
	var geos []Geography
	var devices []DeviceInfo

	insp := NewInspector(Config{
		Mount:         "RTCM32",
		Mode:          ModeSTRFix,
		WarmUp:        time.Nanosecond,
		ParseDuration: 5 * time.Second,
	}, Callbacks{
		OnGeography:  func(g Geography) { geos = append(geos, g) },
		OnDeviceInfo: func(d DeviceInfo) { devices = append(devices, d) },
	})

	result := insp.Run(context.Background(), bytes.NewReader(inspectionStream(t)))

	assert.Equal(t, "RTCM32", result.Mount)
	assert.Equal(t, 1, result.Types[1005])
	assert.Equal(t, 1, result.Types[1033])
	assert.Equal(t, 5, result.Types[1074])

	assert.Equal(t, []string{"GPS"}, result.Constellations)
	assert.Equal(t, []string{"L5"}, result.Carriers)

	require.True(t, result.HasPosition)
	assert.InDelta(t, 40.0009087, result.Latitude, 1e-4)
	assert.InDelta(t, 116.3031893, result.Longitude, 1e-4)
	assert.Equal(t, "Beijing", result.City)
	assert.Equal(t, "CHN", result.CountryISO3)

	assert.Equal(t, "TRIMBLE NETR9", result.Receiver)
	assert.Equal(t, "TRM57971.00 NONE", result.Antenna)
	assert.Equal(t, "5.45", result.Firmware)

	assert.Positive(t, result.BitrateBPS)
	assert.GreaterOrEqual(t, result.Frequency[1074], 1)

	require.Len(t, geos, 1)
	assert.Equal(t, "Beijing", geos[0].City)
	assert.Equal(t, "CN", geos[0].CountryCode)
	require.Len(t, devices, 1)
	assert.Equal(t, "TRIMBLE NETR9", devices[0].Receiver)
}

func TestInspectorRealtimeEmitsMSM(t *testing.T) {
	var epochs []MsmSatellite
	var stats []MessageStats

	insp := NewInspector(Config{
		Mount:  "LIVE",
		Mode:   ModeRealtime,
		WarmUp: time.Nanosecond,
	}, Callbacks{
		OnMSM:          func(m MsmSatellite) { epochs = append(epochs, m) },
		OnMessageStats: func(s MessageStats) { stats = append(stats, s) },
	})

	result := insp.Run(context.Background(), bytes.NewReader(inspectionStream(t)))

	assert.Len(t, epochs, 5)
	assert.Equal(t, "LIVE", epochs[0].Mount)
	assert.Len(t, epochs[0].Epoch.Satellites, 2)

	// EOF flush emits a final stats record
	require.NotEmpty(t, stats)
	assert.Equal(t, 5, stats[len(stats)-1].Types[1074])
	assert.Equal(t, result.Types, stats[len(stats)-1].Types)
}

func TestInspectorStopsAtParseWindow(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	go func() {
		pw.Write(inspectionStream(t))
		// keep the pipe open; the window must end the run
	}()

	insp := NewInspector(Config{
		Mount:         "WINDOW",
		Mode:          ModeSTRFix,
		WarmUp:        time.Nanosecond,
		ParseDuration: 200 * time.Millisecond,
	}, Callbacks{})

	done := make(chan Result, 1)
	go func() {
		done <- insp.Run(context.Background(), pr)
	}()

	select {
	case result := <-done:
		assert.Equal(t, 5, result.Types[1074])
	case <-time.After(5 * time.Second):
		t.Fatal("inspector did not stop at the parse window")
	}
}

func TestInspectorContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	insp := NewInspector(Config{Mount: "CANCEL", Mode: ModeRealtime}, Callbacks{})

	done := make(chan Result, 1)
	go func() {
		done <- insp.Run(ctx, pr)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("inspector did not stop on cancel")
	}
}

func TestSplitCarrier(t *testing.T) {
	assert.Equal(t, []string{"L1", "L2", "L5"}, splitCarrier("L1+L2+L5"))
	assert.Equal(t, []string{"G1"}, splitCarrier("G1"))
	assert.Nil(t, splitCarrier(""))
}
