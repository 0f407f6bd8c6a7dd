//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// See https://datatracker.ietf.org/doc/rfc8484/
//
// See https://datatracker.ietf.org/doc/rfc9114/
//

package doh3probe

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// Default values used by [NewProbe].
const (
	// DefaultEndpoint is the default server endpoint.
	DefaultEndpoint = "1.1.1.1:443"

	// DefaultServerName is the default server name used for SNI and verification.
	DefaultServerName = "cloudflare-dns.com"

	// DefaultURL is the default DNS-over-HTTPS URL.
	DefaultURL = "https://cloudflare-dns.com/dns-query"
)

// bodyChunkSize is the size of the buffer used to read the response body.
const bodyChunkSize = 16 << 10

// ErrInvalidProbe indicates that the [*Probe] fields are not usable.
var ErrInvalidProbe = errors.New("doh3probe: invalid probe configuration")

// RunConfig contains the knobs varied across runs.
type RunConfig struct {
	// EmitTransportPadding causes the HTTP/3 SETTINGS to include a reserved setting.
	EmitTransportPadding bool

	// EmitLengthHeader causes the request to include a Content-Length header.
	EmitLengthHeader bool
}

// DefaultRunConfigs returns the four [RunConfig] executed by the probe, in order.
func DefaultRunConfigs() []RunConfig {
	return []RunConfig{
		{EmitTransportPadding: true, EmitLengthHeader: false},
		{EmitTransportPadding: true, EmitLengthHeader: true},
		{EmitTransportPadding: false, EmitLengthHeader: false},
		{EmitTransportPadding: false, EmitLengthHeader: true},
	}
}

// Stats counts the resources created and released by a [*Probe].
type Stats struct {
	// Connections is the number of QUIC connections dialed.
	Connections int64

	// ConnectionsReleased is the number of QUIC connections closed.
	ConnectionsReleased int64

	// Streams is the number of request streams opened.
	Streams int64

	// StreamsReleased is the number of request streams no longer in use.
	StreamsReleased int64

	// Tasks is the number of session background tasks started.
	Tasks int64

	// TasksJoined is the number of session background tasks joined.
	TasksJoined int64
}

// probeStats is the concurrency safe implementation of [Stats].
type probeStats struct {
	connections         atomic.Int64
	connectionsReleased atomic.Int64
	streams             atomic.Int64
	streamsReleased     atomic.Int64
	tasks               atomic.Int64
	tasksJoined         atomic.Int64
}

// Probe sends a DNS-over-HTTPS query over HTTP/3 and prints the response.
//
// Construct using [NewProbe] and then modify the fields as needed.
//
// Each [*Probe.Run] call dials a new QUIC connection and releases it before
// returning. Run calls must not overlap.
type Probe struct {
	// Endpoint is the MANDATORY server endpoint.
	Endpoint netip.AddrPort

	// ServerName is the MANDATORY server name for SNI and certificate verification.
	ServerName string

	// URL is the MANDATORY DNS-over-HTTPS URL.
	URL string

	// Payload is the MANDATORY pre-encoded DNS query.
	Payload []byte

	// RootCAs contains the OPTIONAL trusted root certificates. When nil,
	// we use the platform trust store.
	RootCAs *x509.CertPool

	// KeyLogWriter is the OPTIONAL destination of the session keys.
	KeyLogWriter io.Writer

	// Output is the MANDATORY writer where to print results.
	Output io.Writer

	// Logger is the OPTIONAL [*slog.Logger] to use.
	Logger *slog.Logger

	// ListenConfig is the OPTIONAL [*net.ListenConfig] used to create the UDP socket.
	ListenConfig *net.ListenConfig

	// Rand is the OPTIONAL randomness source for greasing.
	Rand func() uint64

	stats probeStats
}

// NewProbe creates a new [*Probe] targeting Cloudflare's DNS-over-HTTPS service
// with the embedded query, printing to the standard output.
func NewProbe() *Probe {
	return &Probe{
		Endpoint:   netip.MustParseAddrPort(DefaultEndpoint),
		ServerName: DefaultServerName,
		URL:        DefaultURL,
		Payload:    QueryMessage(),
		Output:     os.Stdout,
	}
}

// Stats returns a snapshot of the resources counters.
func (p *Probe) Stats() Stats {
	return Stats{
		Connections:         p.stats.connections.Load(),
		ConnectionsReleased: p.stats.connectionsReleased.Load(),
		Streams:             p.stats.streams.Load(),
		StreamsReleased:     p.stats.streamsReleased.Load(),
		Tasks:               p.stats.tasks.Load(),
		TasksJoined:         p.stats.tasksJoined.Load(),
	}
}

// RunAll calls [*Probe.Run] for each config in sequence and stops
// at the first error, which it returns.
func (p *Probe) RunAll(ctx context.Context, configs []RunConfig) error {
	for _, config := range configs {
		if err := p.Run(ctx, config); err != nil {
			return err
		}
	}
	return nil
}

// Run performs a single DNS-over-HTTPS exchange using config.
//
// The returned error names the failing step. Output already printed
// for the run stays printed. All the resources created by Run are released
// before it returns, regardless of the outcome.
func (p *Probe) Run(ctx context.Context, config RunConfig) error {
	logger := p.logger().With(
		slog.Bool("grease", config.EmitTransportPadding),
		slog.Bool("contentLength", config.EmitLengthHeader),
	)

	// 1. Make sure the configuration is usable, introduce the run, and
	// build the TLS config.
	if err := p.validate(); err != nil {
		return newStepError("config", err)
	}
	printer := NewPrinter(p.Output)
	if err := printer.PrintRunConfig(config); err != nil {
		return newStepError("print", err)
	}
	tlsConfig := NewTLSConfigDNSOverHTTP3(p.ServerName, p.RootCAs, p.KeyLogWriter)

	// 2. Create an unbound UDP socket and dial the QUIC connection. We own the
	// socket, so we close it after the transport stops using it.
	pconn, err := p.listenConfig().ListenPacket(ctx, "udp", "0.0.0.0:0")
	if err != nil {
		return newStepError("listen", err)
	}
	defer pconn.Close()
	dialer := NewQUICDialer(pconn, tlsConfig)
	defer dialer.Close()

	logger.Debug("dialing", slog.String("endpoint", p.Endpoint.String()))
	conn, err := dialer.Dial(ctx, p.Endpoint)
	if err != nil {
		return newStepError("dial", err)
	}
	p.stats.connections.Add(1)
	defer func() {
		conn.CloseWithError(sessionNoError, "")
		p.stats.connectionsReleased.Add(1)
	}()

	// 3. Negotiate the HTTP/3 session, which also starts its background task.
	sess, err := NewSession(ctx, conn, &SessionConfig{
		Grease: config.EmitTransportPadding,
		Logger: logger,
		Rand:   p.Rand,
	})
	if err != nil {
		return newStepError("session", err)
	}
	p.stats.tasks.Add(1)

	// 4. Make sure we always join the background task exactly once.
	shutdown := sync.OnceValue(func() error {
		err := sess.Shutdown()
		p.stats.tasksJoined.Add(1)
		return err
	})
	defer shutdown()

	// 5. Build the request, open the stream, and send the request head.
	req, err := NewQueryRequest(ctx, p.URL, p.Payload, config.EmitLengthHeader)
	if err != nil {
		return newStepError("request", err)
	}
	str, err := sess.OpenRequestStream(ctx)
	if err != nil {
		return newStepError("open stream", err)
	}
	p.stats.streams.Add(1)
	var streamDone bool
	defer func() {
		if !streamDone {
			str.CancelWrite(quic.StreamErrorCode(http3.ErrCodeRequestCanceled))
			str.CancelRead(quic.StreamErrorCode(http3.ErrCodeRequestCanceled))
		}
		p.stats.streamsReleased.Add(1)
	}()
	if err := str.SendRequestHeader(req); err != nil {
		return newStepError("send request header", err)
	}

	// 6. Send the body and close the send side of the stream, which tells
	// the peer that the body is complete.
	if _, err := str.Write(p.Payload); err != nil {
		return newStepError("send request body", err)
	}
	if err := str.Close(); err != nil {
		return newStepError("finish request", err)
	}

	// 7. Receive and print the response head.
	resp, err := str.ReadResponse()
	if err != nil {
		return newStepError("receive response", err)
	}
	if err := printer.PrintResponseHead(resp); err != nil {
		return newStepError("print", err)
	}

	// 8. Receive and print the body chunk by chunk.
	body, err := readBodyChunks(resp.Body, printer)
	if err != nil {
		return newStepError("receive response body", err)
	}
	streamDone = true
	p.logDNSResponse(logger, resp, body)

	// 9. Shutdown the session and join the background task.
	if err := shutdown(); err != nil {
		return newStepError("shutdown", err)
	}

	// 10. Terminate the run's output.
	if err := printer.PrintSeparator(); err != nil {
		return newStepError("print", err)
	}
	return nil
}

// readBodyChunks reads r until [io.EOF], printing each chunk as it arrives,
// and returns the whole body.
func readBodyChunks(r io.Reader, printer *Printer) ([]byte, error) {
	var body []byte
	buf := make([]byte, bodyChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := slices.Clone(buf[:n])
			if err := printer.PrintBodyChunk(chunk); err != nil {
				return body, err
			}
			body = append(body, chunk...)
		}
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return body, err
		}
	}
}

// logDNSResponse logs a summary of the DNS response contained in body, if any.
func (p *Probe) logDNSResponse(logger *slog.Logger, resp *http.Response, body []byte) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if resp.StatusCode != http.StatusOK || mediaType != dnsMessageContentType {
		logger.Info("not a DNS response", slog.Int("status", resp.StatusCode), slog.String("contentType", mediaType))
		return
	}
	query, err := ParseQueryMessage(p.Payload)
	if err != nil {
		logger.Warn("cannot parse the query", slog.Any("err", err))
		return
	}
	summary, err := SummarizeResponse(query, body)
	if summary == nil {
		logger.Warn("cannot parse the DNS response", slog.Any("err", err))
		return
	}
	logger.Info("DNS response",
		slog.String("rcode", summary.Rcode),
		slog.Int("answers", summary.Answers),
		slog.Any("addrsA", summary.AddrsA),
		slog.Any("err", err),
	)
}

// validate ensures that the fields of the probe are usable.
func (p *Probe) validate() error {
	if !p.Endpoint.IsValid() {
		return fmt.Errorf("%w: invalid endpoint", ErrInvalidProbe)
	}
	if p.ServerName == "" {
		return fmt.Errorf("%w: empty server name", ErrInvalidProbe)
	}
	URL, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProbe, err)
	}
	if URL.Scheme != "https" || URL.Host == "" {
		return fmt.Errorf("%w: URL must be an absolute https URL", ErrInvalidProbe)
	}
	if len(p.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidProbe)
	}
	if p.Output == nil {
		return fmt.Errorf("%w: nil output", ErrInvalidProbe)
	}
	return nil
}

// listenConfig returns the [*net.ListenConfig] to use.
func (p *Probe) listenConfig() *net.ListenConfig {
	if p.ListenConfig != nil {
		return p.ListenConfig
	}
	return &net.ListenConfig{}
}

// logger returns the [*slog.Logger] to use.
func (p *Probe) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return discardLogger()
}

// StepError is the error returned by [*Probe.Run] on failure.
type StepError struct {
	// Step names the failing step (e.g., "dial").
	Step string

	// Err is the underlying error.
	Err error
}

// newStepError creates a new [*StepError].
func newStepError(step string, err error) *StepError {
	return &StepError{Step: step, Err: err}
}

// Error implements [error].
func (e *StepError) Error() string {
	return fmt.Sprintf("doh3probe: %s: %s", e.Step, e.Err.Error())
}

// Unwrap allows using [errors.Is] and [errors.As] with the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}
