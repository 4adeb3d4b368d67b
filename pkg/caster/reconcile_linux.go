//go:build linux

package caster

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const tcpEstablished = "01"

// establishedPeers reads the kernel socket table and returns the remote
// addresses of every ESTABLISHED connection to the given local port.
// Returns nil when the table cannot be read, which callers treat as
// "reconciliation unavailable".
func establishedPeers(port int) map[string]struct{} {
	peers := make(map[string]struct{})
	found := false
	for _, path := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
		if scanProcNetTCP(path, port, peers) {
			found = true
		}
	}
	if !found {
		return nil
	}
	return peers
}

func scanProcNetTCP(path string, port int, peers map[string]struct{}) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[3] != tcpEstablished {
			continue
		}

		localPort, ok := hexPort(fields[1])
		if !ok || localPort != port {
			continue
		}

		remote, ok := decodeProcAddr(fields[2])
		if ok {
			peers[remote] = struct{}{}
		}
	}
	return true
}

// hexPort extracts the port from a "ADDR:PORT" /proc/net/tcp field.
func hexPort(field string) (int, bool) {
	_, portHex, found := strings.Cut(field, ":")
	if !found {
		return 0, false
	}
	p, err := strconv.ParseInt(portHex, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(p), true
}

// decodeProcAddr converts a /proc/net/tcp hex address to "ip:port".
// IPv4 addresses are stored as one little-endian 32-bit word; IPv6 as
// four of them.
func decodeProcAddr(field string) (string, bool) {
	addrHex, portHex, found := strings.Cut(field, ":")
	if !found {
		return "", false
	}
	port, err := strconv.ParseInt(portHex, 16, 32)
	if err != nil {
		return "", false
	}

	raw, err := hex.DecodeString(addrHex)
	if err != nil {
		return "", false
	}

	var ip net.IP
	switch len(raw) {
	case 4:
		ip = make(net.IP, 4)
		binary.BigEndian.PutUint32(ip, binary.LittleEndian.Uint32(raw))
	case 16:
		ip = make(net.IP, 16)
		for i := 0; i < 4; i++ {
			word := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
			binary.BigEndian.PutUint32(ip[i*4:i*4+4], word)
		}
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
	default:
		return "", false
	}

	return fmt.Sprintf("%s:%d", ip.String(), port), true
}
