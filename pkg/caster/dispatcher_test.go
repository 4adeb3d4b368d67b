package caster

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2rtk/ntripcaster/pkg/config"
	"github.com/2rtk/ntripcaster/pkg/store"
)

type testEnv struct {
	caster *Caster
	store  *store.Store
	addr   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Network.Host = "127.0.0.1"
	cfg.Ntrip.Port = 0
	cfg.TCP.SocketTimeout = 2 * time.Second
	cfg.Forwarding.RemovalGrace = 50 * time.Millisecond
	cfg.RTCM.ParseDuration = 250 * time.Millisecond
	cfg.ShutdownTimeout = time.Second

	st, err := store.NewInMemory()
	require.NoError(t, err)

	ctx := context.Background()
	_, err = st.CreateUser(ctx, "u1", "pw1")
	require.NoError(t, err)
	_, err = st.CreateMount(ctx, "BASE1", "pw1", nil)
	require.NoError(t, err)

	// legacy plaintext record so Digest can be recomputed server-side
	require.NoError(t, st.DB().Create(&store.User{Username: "u2", PasswordHash: "pw2"}).Error)

	c := New(cfg, st, nil)

	serveCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Serve(serveCtx)
	}()

	addr := c.Server.Addr().String()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Log("server did not stop in time")
		}
	})

	return &testEnv{caster: c, store: st, addr: addr}
}

func (e *testEnv) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", e.addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readResponseHead reads until the blank line ending the status line
// and headers.
func readResponseHead(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var sb strings.Builder
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		require.NoError(t, err, "while reading response head: %q", sb.String())
		sb.WriteByte(buf[0])
		if strings.HasSuffix(sb.String(), "\r\n\r\n") {
			return sb.String()
		}
	}
}

// startProducer connects a native 1.0 producer for BASE1 and waits for
// its admission.
func (e *testEnv) startProducer(t *testing.T) net.Conn {
	t.Helper()
	conn := e.dial(t)
	_, err := conn.Write([]byte("SOURCE pw1 /BASE1\r\nSource-Agent: NTRIP Test\r\n\r\n"))
	require.NoError(t, err)
	head := readResponseHead(t, conn)
	require.Equal(t, "ICY 200 OK\r\n\r\n", head)

	require.Eventually(t, func() bool {
		_, ok := e.caster.Registry.Lookup("BASE1")
		return ok
	}, time.Second, 5*time.Millisecond)

	// let the admission-time inspection pipe expire so subscriber
	// counts in tests refer to real consumers only
	require.Eventually(t, func() bool {
		stats, ok := e.caster.Forwarder.Stats("BASE1")
		return ok && stats.Subscribers == 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestNativeUploadAndDownload(t *testing.T) {
	env := newTestEnv(t)
	producer := env.startProducer(t)

	consumer := env.dial(t)
	fmt.Fprintf(consumer, "GET /BASE1 HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", basicAuth("u1", "pw1"))
	head := readResponseHead(t, consumer)
	assert.Equal(t, "ICY 200 OK\r\nConnection: keep-alive\r\n\r\n", head)

	// give the subscription a moment to attach before publishing
	require.Eventually(t, func() bool {
		stats, ok := env.caster.Forwarder.Stats("BASE1")
		return ok && stats.Subscribers >= 1
	}, time.Second, 5*time.Millisecond)

	_, err := producer.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)

	assert.Equal(t, []byte{0x01, 0x02, 0x03}, readExactly(t, consumer, 3))
}

func TestUploadWithoutPasswordChallenged(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	conn.Write([]byte("SOURCE /BASE1\r\n\r\n"))
	head := readResponseHead(t, conn)

	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 401 Unauthorized\r\n"))
	assert.Contains(t, head, `WWW-Authenticate: Basic realm="NTRIP"`)
	assert.Contains(t, head, `WWW-Authenticate: Digest realm="NTRIP"`)
}

func TestUploadWrongSecret(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	conn.Write([]byte("SOURCE wrong /BASE1\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(line), "ERROR 401"))
}

func TestV20UploadPreamble(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	fmt.Fprintf(conn, "POST /BASE1 HTTP/1.1\r\nHost: x\r\nNtrip-Version: NTRIP/2.0\r\nAuthorization: %s\r\n\r\n", basicAuth("u1", "pw1"))
	head := readResponseHead(t, conn)

	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, head, "Ntrip-Version: NTRIP/2.0\r\n")
	assert.Contains(t, head, "Connection: keep-alive\r\n")
}

func TestV20DownloadWithoutHost(t *testing.T) {
	env := newTestEnv(t)
	producer := env.startProducer(t)

	consumer := env.dial(t)
	fmt.Fprintf(consumer, "GET /BASE1 HTTP/1.1\r\nNtrip-Version: NTRIP/2.0\r\nAuthorization: %s\r\n\r\n", basicAuth("u1", "pw1"))
	head := readResponseHead(t, consumer)

	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, head, "Content-Type: application/octet-stream\r\n")

	require.Eventually(t, func() bool {
		stats, ok := env.caster.Forwarder.Stats("BASE1")
		return ok && stats.Subscribers >= 1
	}, time.Second, 5*time.Millisecond)

	producer.Write([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, readExactly(t, consumer, 3))
}

func TestDownloadUnknownMount(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	fmt.Fprintf(conn, "GET /NOPE HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", basicAuth("u1", "pw1"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(out), "401")
}

func TestDownloadMountNotLive(t *testing.T) {
	env := newTestEnv(t)

	// BASE1 exists in the store but no producer is connected.
	conn := env.dial(t)
	fmt.Fprintf(conn, "GET /BASE1 HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", basicAuth("u1", "pw1"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(out), "404")
}

func TestSourcetablePathsIdentical(t *testing.T) {
	env := newTestEnv(t)
	env.startProducer(t)

	fetch := func(path string) string {
		conn := env.dial(t)
		fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: x\r\n\r\n", path)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		out, err := io.ReadAll(conn)
		require.NoError(t, err)
		return string(out)
	}

	root := fetch("/")
	named := fetch("/sourcetable")

	assert.True(t, strings.HasPrefix(root, "SOURCETABLE 200 OK\r\n"))
	assert.Equal(t, root, named)
	assert.Contains(t, root, "STR;BASE1;")
	assert.Equal(t, 1, strings.Count(root, "STR;BASE1;"))
	assert.True(t, strings.HasSuffix(root, "ENDSOURCETABLE\r\n"))
}

func TestSourcetableV2(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	conn.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nNtrip-Version: NTRIP/2.0\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(out), "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, string(out), "Ntrip-Version: Ntrip/2.0\r\n")
}

func TestAdminMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	conn.Write([]byte("ADMIN pw /status\r\n\r\n"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "ERROR 405"))
}

func TestOptionsRequest(t *testing.T) {
	env := newTestEnv(t)

	conn := env.dial(t)
	conn.Write([]byte("OPTIONS / HTTP/1.1\r\nHost: x\r\n\r\n"))
	head := readResponseHead(t, conn)
	assert.True(t, strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, head, "Content-Length: 0\r\n")
}

func TestPerUserConnectionCap(t *testing.T) {
	env := newTestEnv(t)
	env.startProducer(t)

	open := func() string {
		conn := env.dial(t)
		fmt.Fprintf(conn, "GET /BASE1 HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", basicAuth("u1", "pw1"))
		return readResponseHead(t, conn)
	}

	// default cap is 3 concurrent connections per user
	for i := 0; i < 3; i++ {
		head := open()
		require.True(t, strings.HasPrefix(head, "ICY 200 OK"), "conn %d: %q", i, head)
	}

	conn := env.dial(t)
	fmt.Fprintf(conn, "GET /BASE1 HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", basicAuth("u1", "pw1"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(out), "403")
}

func TestPerUserCapCoversV20Producers(t *testing.T) {
	env := newTestEnv(t)

	ctx := context.Background()
	for _, name := range []string{"UP2", "UP3", "UP4"} {
		_, err := env.store.CreateMount(ctx, name, "s", nil)
		require.NoError(t, err)
	}

	upload := func(mount string) string {
		conn := env.dial(t)
		fmt.Fprintf(conn, "POST /%s HTTP/1.1\r\nHost: x\r\nNtrip-Version: NTRIP/2.0\r\nAuthorization: %s\r\n\r\n",
			mount, basicAuth("u1", "pw1"))
		return readResponseHead(t, conn)
	}

	// 2.0 producers authenticate as a user account and share the
	// per-user cap with consumers.
	for _, name := range []string{"BASE1", "UP2", "UP3"} {
		head := upload(name)
		require.True(t, strings.HasPrefix(head, "HTTP/1.1 200 OK"), "%s: %q", name, head)
	}

	conn := env.dial(t)
	fmt.Fprintf(conn, "POST /UP4 HTTP/1.1\r\nHost: x\r\nNtrip-Version: NTRIP/2.0\r\nAuthorization: %s\r\n\r\n",
		basicAuth("u1", "pw1"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(out), "403")
}

var nonceRe = regexp.MustCompile(`nonce="([0-9a-f]{16})"`)

func TestDigestDownload(t *testing.T) {
	env := newTestEnv(t)
	env.startProducer(t)

	// First request without credentials harvests the challenge nonce.
	probe := env.dial(t)
	probe.Write([]byte("GET /BASE1 HTTP/1.1\r\nHost: x\r\n\r\n"))
	head := readResponseHead(t, probe)
	require.Contains(t, head, "401")
	m := nonceRe.FindStringSubmatch(head)
	require.NotNil(t, m, "challenge carries no digest nonce: %q", head)
	nonce := m[1]

	response := digestResponse("u2", "pw2", nonce, "GET", "/BASE1")
	authHeader := fmt.Sprintf(
		`Digest username="u2", realm="NTRIP", nonce="%s", uri="/BASE1", response="%s"`,
		nonce, response)

	conn := env.dial(t)
	fmt.Fprintf(conn, "GET /BASE1 HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", authHeader)
	ok := readResponseHead(t, conn)
	assert.True(t, strings.HasPrefix(ok, "ICY 200 OK"), "digest download refused: %q", ok)

	// Any corrupted response byte must fail.
	bad := "0" + response[1:]
	if bad == response {
		bad = "1" + response[1:]
	}
	badHeader := strings.Replace(authHeader, response, bad, 1)

	conn2 := env.dial(t)
	fmt.Fprintf(conn2, "GET /BASE1 HTTP/1.1\r\nHost: x\r\nAuthorization: %s\r\n\r\n", badHeader)
	refused := readResponseHead(t, conn2)
	assert.Contains(t, refused, "401")
}

func TestProducerDisconnectRemovesMountAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	producer := env.startProducer(t)

	producer.Close()

	assert.Eventually(t, func() bool {
		_, ok := env.caster.Registry.Lookup("BASE1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
