package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Debug("debug line")
	Info("info line")
	Warn("warn line")
	Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("client connected", KeyMount, "BASE1", KeyClientIP, "10.0.0.7")

	out := buf.String()
	assert.Contains(t, out, "mount=BASE1")
	assert.Contains(t, out, "client_ip=10.0.0.7")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)
	defer SetFormat("text")

	Info("hello", "k", "v")

	out := buf.String()
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"k":"v"`)
}

func TestThrottlerWindow(t *testing.T) {
	tr := NewThrottler(60*time.Second, 3)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := tr.Allow("auth-fail:10.0.0.7")
		require.True(t, ok, "event %d should pass", i)
	}

	ok, _ := tr.Allow("auth-fail:10.0.0.7")
	assert.False(t, ok, "fourth event in window must be suppressed")

	// Other keys are unaffected.
	ok, _ = tr.Allow("auth-fail:10.0.0.8")
	assert.True(t, ok)

	// After the window rolls over the key passes again and reports
	// how many events were dropped.
	now = now.Add(61 * time.Second)
	ok, suppressed := tr.Allow("auth-fail:10.0.0.7")
	assert.True(t, ok)
	assert.Equal(t, 1, suppressed)
}

func TestThrottledHelperEmitsSuppressedCount(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	old := defaultThrottler
	defer func() { defaultThrottler = old }()

	tr := NewThrottler(60*time.Second, 1)
	now := time.Unix(2000, 0)
	tr.now = func() time.Time { return now }
	defaultThrottler = tr

	InfoThrottled("k", "noisy event")
	InfoThrottled("k", "noisy event")
	InfoThrottled("k", "noisy event")
	require.Equal(t, 1, strings.Count(buf.String(), "noisy event"))

	now = now.Add(2 * time.Minute)
	InfoThrottled("k", "noisy event")
	assert.Contains(t, buf.String(), "suppressed=2")
}
