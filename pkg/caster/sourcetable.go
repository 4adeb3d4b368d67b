package caster

import (
	"fmt"
	"strings"
	"time"

	"github.com/2rtk/ntripcaster/pkg/config"
)

// Sourcetable renders the caster catalogue: one CAS line for the caster
// itself, one NET line for the operator network, and one STR line per
// live mount.
type Sourcetable struct {
	caster config.CasterConfig
	app    config.AppConfig
	host   string
	port   int
}

// NewSourcetable builds a renderer from the caster identity.
func NewSourcetable(casterCfg config.CasterConfig, appCfg config.AppConfig, host string, port int) *Sourcetable {
	return &Sourcetable{caster: casterCfg, app: appCfg, host: host, port: port}
}

func (s *Sourcetable) casLine() string {
	return fmt.Sprintf("CAS;%s;%d;%s;%s;0;%s;%.2f;%.2f;%s;0;%s",
		s.app.Author, s.port, s.app.Name, s.app.Author,
		s.caster.Country, s.caster.Latitude, s.caster.Longitude,
		s.host, s.app.Website)
}

func (s *Sourcetable) netLine() string {
	return fmt.Sprintf("NET;%s;%s;B;%s;%s;%s;%s;none",
		s.app.Author, s.app.Author, s.caster.Country,
		s.app.Website, s.app.Website, s.app.Contact)
}

// Body renders the catalogue lines without the terminator. Every
// download of the table, whatever the path or dialect, shares this
// byte-identical body.
func (s *Sourcetable) Body(strRows []string) []byte {
	var b strings.Builder
	b.WriteString(s.casLine())
	b.WriteString("\r\n")
	b.WriteString(s.netLine())
	b.WriteString("\r\n")
	for _, row := range strRows {
		b.WriteString(row)
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// RenderV1 frames the table for native NTRIP 1.0 clients. The declared
// Content-Length covers the body only; the ENDSOURCETABLE terminator
// follows it outside the count, which is what fielded 1.0 rovers
// expect.
func (s *Sourcetable) RenderV1(strRows []string) []byte {
	body := s.Body(strRows)

	var b strings.Builder
	b.WriteString("SOURCETABLE 200 OK\r\n")
	fmt.Fprintf(&b, "Server: %s\r\n", s.app.Name)
	b.WriteString("Content-Type: text/plain\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("\r\n")
	b.Write(body)
	b.WriteString("ENDSOURCETABLE\r\n")
	return []byte(b.String())
}

// RenderV2 frames the table as plain HTTP/1.1 for NTRIP 2.0 clients.
// Here the terminator is part of the body and counted, since 2.0
// clients parse standard HTTP framing.
func (s *Sourcetable) RenderV2(strRows []string) []byte {
	body := append(s.Body(strRows), []byte("ENDSOURCETABLE\r\n")...)

	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n")
	b.WriteString("Ntrip-Version: Ntrip/2.0\r\n")
	fmt.Fprintf(&b, "Server: %s\r\n", s.app.Name)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123))
	b.WriteString("Content-Type: text/plain\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")
	b.Write(body)
	return []byte(b.String())
}
