package caster

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/ntrip"
	"github.com/2rtk/ntripcaster/pkg/rtcm"
)

type closerFunc func()

func (f closerFunc) Close() error { f(); return nil }

func testRegistry(grace time.Duration) *Registry {
	fwd := NewForwarder(testForwardingConfig())
	return NewRegistry(
		config.CasterConfig{Country: "CHN", Latitude: 25.20341154, Longitude: 110.277492},
		config.AppConfig{Name: "2RTK Ntrip Caster", Author: "2rtk", Website: "https://2rtk.com", Contact: "admin@2rtk.com"},
		grace,
		fwd,
	)
}

func TestRegistryAdmitAndLookup(t *testing.T) {
	reg := testRegistry(time.Second)

	err := reg.Admit("BASE1", "10.0.0.1:40001", "NTRIP Client", ntrip.DialectV10Native, closerFunc(func() {}))
	require.NoError(t, err)

	info, ok := reg.Lookup("BASE1")
	require.True(t, ok)
	assert.Equal(t, "BASE1", info.Name)
	assert.Equal(t, "INITIAL", info.StrState)

	fields := strings.Split(info.StrRow, ";")
	require.Len(t, fields, 19)
	assert.Equal(t, "STR", fields[0])
	assert.Equal(t, "BASE1", fields[1])
	assert.Equal(t, "Guilin", fields[2]) // caster coordinates reverse-geocode
	assert.Equal(t, "CHN", fields[8])
	assert.Equal(t, "25.2034", fields[9])
	assert.Equal(t, "110.2775", fields[10])
	assert.Equal(t, "NO", fields[18])
}

func TestRegistryConflictFromDifferentAddress(t *testing.T) {
	reg := testRegistry(time.Second)

	var firstClosed bool
	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:40001", "", ntrip.DialectV10Native,
		closerFunc(func() { firstClosed = true })))

	err := reg.Admit("BASE1", "10.0.0.2:40002", "", ntrip.DialectV10Native, closerFunc(func() {}))
	assert.ErrorIs(t, err, ntrip.ErrMountConflict)

	// Original holder undisturbed.
	assert.False(t, firstClosed)
	info, ok := reg.Lookup("BASE1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:40001", info.Addr)
}

func TestRegistrySelfHealSameAddress(t *testing.T) {
	reg := testRegistry(time.Second)

	var firstClosed bool
	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:40001", "", ntrip.DialectV10Native,
		closerFunc(func() { firstClosed = true })))

	// Same host, new source port after a reconnect.
	err := reg.Admit("BASE1", "10.0.0.1:40555", "", ntrip.DialectV10Native, closerFunc(func() {}))
	require.NoError(t, err)

	assert.True(t, firstClosed)
	info, ok := reg.Lookup("BASE1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1:40555", info.Addr)
}

func TestRegistryApplyInspection(t *testing.T) {
	reg := testRegistry(time.Second)
	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:1", "", ntrip.DialectV10Native, closerFunc(func() {})))

	result := rtcm.Result{
		Mount:          "BASE1",
		Types:          map[int]int{1005: 30, 1033: 3, 1074: 300},
		Frequency:      map[int]int{1005: 1, 1033: 1, 1074: 10},
		Constellations: []string{"GPS"},
		Carriers:       []string{"L5"},
		HasPosition:    true,
		Latitude:       40.00090870,
		Longitude:      116.30318930,
		City:           "Beijing",
		CountryISO3:    "CHN",
		Receiver:       "TRIMBLE NETR9",
		BitrateBPS:     2400,
	}
	reg.ApplyInspection("BASE1", result)

	info, _ := reg.Lookup("BASE1")
	assert.Equal(t, "CORRECTED", info.StrState)

	fields := strings.Split(info.StrRow, ";")
	require.Len(t, fields, 19)
	assert.Equal(t, "Beijing", fields[2])
	assert.Equal(t, "1005(1),1033(1),1074(10)", fields[4])
	assert.Equal(t, "L5", fields[5])
	assert.Equal(t, "GPS", fields[6])
	assert.Equal(t, "CHN", fields[8])
	assert.Equal(t, "40.0009", fields[9])
	assert.Equal(t, "116.3032", fields[10])
	assert.Equal(t, "TRIMBLE NETR9", fields[13])
	assert.Equal(t, "2400", fields[17])
	assert.Equal(t, "YES", fields[18])

	// Idempotent: applying the same result changes nothing.
	before := info.StrRow
	reg.ApplyInspection("BASE1", result)
	after, _ := reg.Lookup("BASE1")
	assert.Equal(t, before, after.StrRow)
}

func TestRegistryApplyEmptyInspection(t *testing.T) {
	reg := testRegistry(time.Second)
	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:1", "", ntrip.DialectV10Native, closerFunc(func() {})))

	before, _ := reg.Lookup("BASE1")
	reg.ApplyInspection("BASE1", rtcm.Result{Mount: "BASE1"})
	after, _ := reg.Lookup("BASE1")

	assert.Equal(t, before.StrRow, after.StrRow)
	assert.Equal(t, "INITIAL", after.StrState)
}

func TestRegistryRemove(t *testing.T) {
	reg := testRegistry(time.Second)

	var closed bool
	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:1", "", ntrip.DialectV10Native,
		closerFunc(func() { closed = true })))

	reg.Remove("BASE1", "test")

	assert.True(t, closed)
	_, ok := reg.Lookup("BASE1")
	assert.False(t, ok)
}

func TestRegistryScheduledRemovalSkippedAfterReadmission(t *testing.T) {
	reg := testRegistry(30 * time.Millisecond)

	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:1", "", ntrip.DialectV10Native, closerFunc(func() {})))
	reg.ScheduleRemoval("BASE1", "producer disconnected")

	// Readmission within the grace window replaces the entry; the
	// pending removal must not kill the new producer.
	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:2", "", ntrip.DialectV10Native, closerFunc(func() {})))

	time.Sleep(100 * time.Millisecond)
	_, ok := reg.Lookup("BASE1")
	assert.True(t, ok)
}

func TestRegistryScheduledRemovalFires(t *testing.T) {
	reg := testRegistry(20 * time.Millisecond)

	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:1", "", ntrip.DialectV10Native, closerFunc(func() {})))
	reg.ScheduleRemoval("BASE1", "producer disconnected")

	assert.Eventually(t, func() bool {
		_, ok := reg.Lookup("BASE1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRegistryMarkData(t *testing.T) {
	reg := testRegistry(time.Second)
	require.NoError(t, reg.Admit("BASE1", "10.0.0.1:1", "", ntrip.DialectV10Native, closerFunc(func() {})))

	reg.MarkData("BASE1", 1024)
	reg.MarkData("BASE1", 512)

	info, _ := reg.Lookup("BASE1")
	assert.Equal(t, int64(1536), info.TotalBytes)
	assert.False(t, info.LastDataAt.IsZero())
}

func TestRegistryReconcileWithOS(t *testing.T) {
	reg := testRegistry(time.Second)
	require.NoError(t, reg.Admit("ALIVE", "10.0.0.1:40001", "", ntrip.DialectV10Native, closerFunc(func() {})))
	require.NoError(t, reg.Admit("ZOMBIE", "10.0.0.2:40002", "", ntrip.DialectV10Native, closerFunc(func() {})))

	// nil set: probe unavailable, nothing evicted
	reg.ReconcileWithOS(nil)
	assert.Len(t, reg.List(), 2)

	reg.ReconcileWithOS(map[string]struct{}{"10.0.0.1:40001": {}})

	_, ok := reg.Lookup("ALIVE")
	assert.True(t, ok)
	_, ok = reg.Lookup("ZOMBIE")
	assert.False(t, ok)
}

func TestRegistryListSorted(t *testing.T) {
	reg := testRegistry(time.Second)
	for _, name := range []string{"CCC", "AAA", "BBB"} {
		require.NoError(t, reg.Admit(name, "10.0.0.1:1", "", ntrip.DialectV10Native, closerFunc(func() {})))
	}

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "AAA", infos[0].Name)
	assert.Equal(t, "BBB", infos[1].Name)
	assert.Equal(t, "CCC", infos[2].Name)

	rows := reg.StrRows()
	require.Len(t, rows, 3)
	assert.True(t, strings.HasPrefix(rows[0], "STR;AAA;"))
}
