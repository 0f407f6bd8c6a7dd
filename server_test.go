// SPDX-License-Identifier: GPL-3.0-or-later

package doh3probe

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"testing"

	"github.com/bassosimone/pkitest"
	"github.com/quic-go/quic-go/http3"
	"github.com/stretchr/testify/require"
)

// testServerName is the name in the certificate of the test server.
const testServerName = "dns.example.com"

// observedRequest is what the test server saw of a request.
type observedRequest struct {
	// Method is the request method.
	Method string

	// ContentLength is the parsed Content-Length or -1.
	ContentLength int64

	// Header contains the request headers.
	Header http.Header

	// Body is the request body.
	Body []byte

	// Settings contains the additional client SETTINGS.
	Settings map[uint64]uint64
}

// testServer is an HTTP/3 server listening on the loopback.
type testServer struct {
	// server is the HTTP/3 server.
	server *http3.Server

	// conn is the UDP socket.
	conn net.PacketConn

	// rootCAs trusts the server certificate.
	rootCAs *x509.CertPool

	// mu protects requests.
	mu sync.Mutex

	// requests contains the observed requests.
	requests []observedRequest
}

// newTestServer starts an HTTP/3 server that records each request and
// then calls handler to produce the response.
func newTestServer(t *testing.T, handler http.HandlerFunc) *testServer {
	t.Helper()

	// Create the PKI and the server certificate.
	//
	// See https://github.com/bassosimone/pkitest
	pki := pkitest.MustNewPKI("testdata")
	cert := pki.MustNewCert(&pkitest.SelfSignedCertConfig{
		CommonName:   testServerName,
		DNSNames:     []string{testServerName},
		IPAddrs:      []net.IP{net.IPv4(127, 0, 0, 1)},
		Organization: []string{"doh3probe"},
	})
	rootCAs := pki.CertPool()

	srv := &testServer{rootCAs: rootCAs}

	mux := http.NewServeMux()
	mux.HandleFunc("/dns-query", func(w http.ResponseWriter, r *http.Request) {
		obs := observedRequest{
			Method:        r.Method,
			ContentLength: r.ContentLength,
			Header:        r.Header.Clone(),
		}
		buf, _ := io.ReadAll(r.Body)
		obs.Body = buf
		r.Body = io.NopCloser(bytes.NewReader(buf))
		if s, ok := w.(http3.Settingser); ok {
			<-s.ReceivedSettings()
			obs.Settings = s.Settings().Other
		}
		srv.mu.Lock()
		srv.requests = append(srv.requests, obs)
		srv.mu.Unlock()
		handler(w, r)
	})

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv.conn = conn
	srv.server = &http3.Server{
		TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
		}),
		Handler: mux,
	}
	go func() {
		_ = srv.server.Serve(conn)
	}()
	t.Cleanup(srv.close)
	return srv
}

// close stops the server.
func (s *testServer) close() {
	_ = s.server.Close()
	_ = s.conn.Close()
}

// endpoint returns the server endpoint.
func (s *testServer) endpoint() netip.AddrPort {
	return s.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// observed returns a copy of the observed requests.
func (s *testServer) observed() []observedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]observedRequest{}, s.requests...)
}

// newTestProbe returns a [*Probe] configured to use the server and
// printing into a [*syncBuffer].
func (s *testServer) newTestProbe() (*Probe, *syncBuffer) {
	out := &syncBuffer{}
	probe := NewProbe()
	probe.Endpoint = s.endpoint()
	probe.ServerName = testServerName
	probe.URL = "https://" + testServerName + "/dns-query"
	probe.RootCAs = s.rootCAs
	probe.Output = out
	return probe, out
}

// syncBuffer is a goroutine safe [bytes.Buffer] replacement.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

// Write implements [io.Writer].
func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the written data.
func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
