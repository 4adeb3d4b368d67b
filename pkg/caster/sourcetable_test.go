package caster

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2rtk/ntripcaster/pkg/config"
)

func testSourcetable() *Sourcetable {
	return NewSourcetable(
		config.CasterConfig{Country: "CHN", Latitude: 25.20341154, Longitude: 110.277492},
		config.AppConfig{Name: "2RTK Ntrip Caster", Author: "2rtk", Website: "https://2rtk.com", Contact: "admin@2rtk.com"},
		"0.0.0.0", 2101,
	)
}

func TestSourcetableBody(t *testing.T) {
	table := testSourcetable()
	rows := []string{"STR;BASE1;none;RTCM 3.2;1005;0;GPS;2rtk;CHN;25.2034;110.2775;0;0;2RTK Ntrip Caster;N;B;N;500;NO"}

	body := string(table.Body(rows))
	lines := strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n")
	require.Len(t, lines, 3)

	assert.Equal(t, "CAS;2rtk;2101;2RTK Ntrip Caster;2rtk;0;CHN;25.20;110.28;0.0.0.0;0;https://2rtk.com", lines[0])
	assert.Equal(t, "NET;2rtk;2rtk;B;CHN;https://2rtk.com;https://2rtk.com;admin@2rtk.com;none", lines[1])
	assert.Equal(t, rows[0], lines[2])
}

func TestSourcetableRenderV1Framing(t *testing.T) {
	table := testSourcetable()
	rows := []string{"STR;BASE1;a;b;c;d;e;f;g;h;i;0;0;j;N;B;N;500;NO"}

	out := string(table.RenderV1(rows))
	assert.True(t, strings.HasPrefix(out, "SOURCETABLE 200 OK\r\n"))
	assert.True(t, strings.HasSuffix(out, "ENDSOURCETABLE\r\n"))

	header, payload, found := strings.Cut(out, "\r\n\r\n")
	require.True(t, found)

	// Content-Length covers the body only, not the terminator.
	var declared int
	for _, line := range strings.Split(header, "\r\n") {
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			n, err := strconv.Atoi(v)
			require.NoError(t, err)
			declared = n
		}
	}
	body := strings.TrimSuffix(payload, "ENDSOURCETABLE\r\n")
	assert.Equal(t, len(body), declared)
	assert.Equal(t, string(table.Body(rows)), body)
}

func TestSourcetableRenderV2Framing(t *testing.T) {
	table := testSourcetable()
	rows := []string{"STR;BASE1;a;b;c;d;e;f;g;h;i;0;0;j;N;B;N;500;NO"}

	out := string(table.RenderV2(rows))
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, out, "Ntrip-Version: Ntrip/2.0\r\n")
	assert.Contains(t, out, "Content-Type: text/plain\r\n")
	assert.Contains(t, out, "Connection: close\r\n")

	header, payload, found := strings.Cut(out, "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, header, fmt.Sprintf("Content-Length: %d", len(payload)))
	assert.True(t, strings.HasSuffix(payload, "ENDSOURCETABLE\r\n"))
}

func TestSourcetableRowAppearsOnce(t *testing.T) {
	table := testSourcetable()
	row := "STR;ONLY;a;b;c;d;e;f;g;h;i;0;0;j;N;B;N;500;NO"

	out := string(table.RenderV1([]string{row}))
	assert.Equal(t, 1, strings.Count(out, row))
}

func TestSourcetableEmptyMounts(t *testing.T) {
	table := testSourcetable()
	body := string(table.Body(nil))
	lines := strings.Split(strings.TrimSuffix(body, "\r\n"), "\r\n")
	assert.Len(t, lines, 2) // CAS and NET only
}
