//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/bassosimone/dnsoverstream/blob/main/quic.go
//
// See https://datatracker.ietf.org/doc/rfc9114/
//

package doh3probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/netip"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// NewTLSConfigDNSOverHTTP3 returns the [*tls.Config] to use for DNS-over-HTTP/3.
//
// The config only offers the "h3" ALPN and requires TLS 1.3, which QUIC
// mandates anyway. A nil rootCAs means using the platform trust store. A nil
// keyLog disables session-key logging.
func NewTLSConfigDNSOverHTTP3(serverName string, rootCAs *x509.CertPool, keyLog io.Writer) *tls.Config {
	return &tls.Config{
		KeyLogWriter: keyLog,
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{http3.NextProtoH3},
		RootCAs:      rootCAs,
		ServerName:   serverName,
	}
}

// QUICDialer allows to dial a [*quic.Conn] with a given [netip.AddrPort] and
// the [*quic.Config], [*tls.Config], and [*quic.Transport] fields.
type QUICDialer struct {
	// QUICConfig contains OPTIONAL [*quic.Config].
	QUICConfig *quic.Config

	// TLSConfig is the MANDATORY [*tls.Config].
	TLSConfig *tls.Config

	// Transport is the MANDATORY [*quic.Transport].
	Transport *quic.Transport
}

// NewQUICDialer creates a new [*QUICDialer] using the given [*tls.Config]
// and [net.PacketConn] for QUIC.
//
// The caller owns pconn and must close it after closing the Transport.
func NewQUICDialer(pconn net.PacketConn, tlsConfig *tls.Config) *QUICDialer {
	return &QUICDialer{
		TLSConfig:  tlsConfig,
		QUICConfig: &quic.Config{},
		Transport:  &quic.Transport{Conn: pconn},
	}
}

// Dial creates a [*quic.Conn] using the given argument and the structure fields.
//
// The returned connection has completed the QUIC and TLS handshakes.
func (qdd *QUICDialer) Dial(ctx context.Context, address netip.AddrPort) (*quic.Conn, error) {
	udpAddr := net.UDPAddrFromAddrPort(address)
	return qdd.Transport.Dial(ctx, udpAddr, qdd.TLSConfig, qdd.QUICConfig)
}

// Close closes the [*quic.Transport].
//
// Connections dialed using the transport should be closed before.
func (qdd *QUICDialer) Close() error {
	return qdd.Transport.Close()
}
