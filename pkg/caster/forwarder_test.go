package caster

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2rtk/ntripcaster/pkg/config"
)

func testForwardingConfig() config.ForwardingConfig {
	return config.ForwardingConfig{
		RingBufferSize:     60,
		OutboxSize:         16,
		DataSendTimeout:    5 * time.Second,
		SlowConsumerEvents: 32,
		SlowConsumerWindow: 60 * time.Second,
		RemovalGrace:       100 * time.Millisecond,
	}
}

func readExactly(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func TestForwarderDeliversInOrder(t *testing.T) {
	fwd := NewForwarder(testForwardingConfig())
	fwd.AddMount("BASE1")

	client, server := net.Pipe()
	defer client.Close()

	_, err := fwd.Subscribe("BASE1", server)
	require.NoError(t, err)

	fwd.Publish("BASE1", []byte{0x01, 0x02})
	fwd.Publish("BASE1", []byte{0x03})
	fwd.Publish("BASE1", []byte{0x04, 0x05, 0x06})

	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, readExactly(t, client, 6))
}

func TestForwarderSubscribeUnknownMount(t *testing.T) {
	fwd := NewForwarder(testForwardingConfig())

	_, server := net.Pipe()
	defer server.Close()

	_, err := fwd.Subscribe("NOPE", server)
	assert.ErrorIs(t, err, ErrMountNotLive)
}

func TestForwarderPublisherNotBlockedBySlowConsumer(t *testing.T) {
	cfg := testForwardingConfig()
	cfg.OutboxSize = 2
	fwd := NewForwarder(cfg)
	fwd.AddMount("BASE1")

	// net.Pipe writes block until read; the stalled server side means
	// the sender goroutine wedges on the first chunk.
	_, server := net.Pipe()
	defer server.Close()

	_, err := fwd.Subscribe("BASE1", server)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			fwd.Publish("BASE1", []byte{byte(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by a stalled consumer")
	}
}

func TestForwarderEvictsSlowConsumer(t *testing.T) {
	cfg := testForwardingConfig()
	cfg.OutboxSize = 2
	cfg.SlowConsumerEvents = 5
	fwd := NewForwarder(cfg)
	fwd.AddMount("BASE1")

	slowClient, slowServer := net.Pipe()
	defer slowClient.Close()
	fastClient, fastServer := net.Pipe()
	defer fastClient.Close()

	slow, err := fwd.Subscribe("BASE1", slowServer)
	require.NoError(t, err)
	_, err = fwd.Subscribe("BASE1", fastServer)
	require.NoError(t, err)

	// Fast consumer drains continuously.
	var fastBytes int
	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		buf := make([]byte, 4096)
		for {
			fastClient.SetReadDeadline(time.Now().Add(time.Second))
			n, err := fastClient.Read(buf)
			fastBytes += n
			if err != nil {
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		fwd.Publish("BASE1", []byte{byte(i)})
		time.Sleep(time.Millisecond)
	}

	// Slow subscriber should be gone and its sink closed.
	select {
	case <-slow.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("slow consumer was not evicted")
	}

	stats, ok := fwd.Stats("BASE1")
	require.True(t, ok)
	assert.Equal(t, 1, stats.Subscribers)
	assert.GreaterOrEqual(t, stats.SlowEvictions, uint64(1))

	fastClient.Close()
	<-fastDone
	assert.Greater(t, fastBytes, 40)
}

func TestForwarderDropMountClosesSubscribers(t *testing.T) {
	fwd := NewForwarder(testForwardingConfig())
	fwd.AddMount("BASE1")

	client, server := net.Pipe()
	defer client.Close()

	handle, err := fwd.Subscribe("BASE1", server)
	require.NoError(t, err)

	fwd.DropMount("BASE1")

	select {
	case <-handle.Done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not torn down on mount drop")
	}

	_, ok := fwd.Stats("BASE1")
	assert.False(t, ok)
}

func TestForwarderPipeSubscription(t *testing.T) {
	fwd := NewForwarder(testForwardingConfig())
	fwd.AddMount("BASE1")

	pr, handle, err := fwd.SubscribePipe("BASE1")
	require.NoError(t, err)

	fwd.Publish("BASE1", []byte{0xd3, 0x00, 0x01})

	buf := make([]byte, 3)
	_, err = io.ReadFull(pr, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xd3, 0x00, 0x01}, buf)

	fwd.Unsubscribe(handle)
	<-handle.Done

	_, err = pr.Read(buf)
	assert.Error(t, err)
}

func TestForwarderUnsubscribeIdempotent(t *testing.T) {
	fwd := NewForwarder(testForwardingConfig())
	fwd.AddMount("BASE1")

	client, server := net.Pipe()
	defer client.Close()

	handle, err := fwd.Subscribe("BASE1", server)
	require.NoError(t, err)

	fwd.Unsubscribe(handle)
	fwd.Unsubscribe(handle)
	<-handle.Done
}
