//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// See https://datatracker.ietf.org/doc/rfc9114/
//

package doh3probe

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"
)

// sessionNoError is the H3_NO_ERROR application error code.
const sessionNoError = quic.ApplicationErrorCode(http3.ErrCodeNoError)

// sessionConn abstracts over [*http3.ClientConn].
type sessionConn interface {
	// Context returns a context that is done when the connection is closed
	// and whose cause is the error that closed the connection.
	Context() context.Context

	// CloseWithError closes the connection.
	CloseWithError(code quic.ApplicationErrorCode, desc string) error
}

var _ sessionConn = &http3.ClientConn{}

// SessionConfig configures [NewSession].
type SessionConfig struct {
	// Grease OPTIONALLY causes the SETTINGS frame to include a reserved setting.
	Grease bool

	// Logger is the OPTIONAL [*slog.Logger] to use.
	Logger *slog.Logger

	// Rand is the OPTIONAL randomness source for greasing.
	Rand func() uint64
}

// Session is an HTTP/3 client session running on top of a [*quic.Conn].
//
// Construct using [NewSession]. Each session owns a background task that
// keeps running until the connection closes or [*Session.Shutdown] is called.
type Session struct {
	// client is the HTTP/3 client connection.
	client *http3.ClientConn

	// conn is the connection watched by the background task.
	conn sessionConn

	// group runs the background task.
	group *errgroup.Group

	// logger is the logger to use.
	logger *slog.Logger

	// shutdown is closed to request the background task to close the connection.
	shutdown chan struct{}

	// shutdownOnce guards closing shutdown.
	shutdownOnce sync.Once
}

// NewSession negotiates an HTTP/3 session on conn and starts its background task.
//
// Negotiation consists of sending our SETTINGS frame and waiting for the peer
// SETTINGS frame. On failure, the caller is responsible for closing conn.
func NewSession(ctx context.Context, conn *quic.Conn, config *SessionConfig) (*Session, error) {
	logger := config.Logger
	if logger == nil {
		logger = discardLogger()
	}

	// 1. Create the client connection, which sends the SETTINGS on the control stream
	// and accepts the peer's unidirectional streams in the background.
	transport := &http3.Transport{
		DisableCompression: true,
		Logger:             logger,
	}
	if config.Grease {
		transport.AdditionalSettings = NewGreaseSettings(config.Rand)
	}
	client := transport.NewClientConn(conn)

	// 2. Wait for the peer SETTINGS. The connection could also die in the
	// meanwhile or the caller could give up waiting.
	select {
	case <-client.ReceivedSettings():
	case <-client.Context().Done():
		return nil, context.Cause(client.Context())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	logger.Debug("http3 session established",
		slog.Bool("grease", config.Grease),
		slog.Any("additionalSettings", transport.AdditionalSettings),
	)

	// 3. Start the background task.
	sess := newSession(client, logger)
	sess.client = client
	sess.start()
	return sess, nil
}

// newSession creates a [*Session] whose background task watches conn.
func newSession(conn sessionConn, logger *slog.Logger) *Session {
	return &Session{
		conn:     conn,
		group:    &errgroup.Group{},
		logger:   logger,
		shutdown: make(chan struct{}),
	}
}

// start starts the background task.
func (s *Session) start() {
	s.group.Go(s.maintain)
}

// maintain runs until either the connection closes on its own or
// shutdown is requested, in which case it closes the connection.
func (s *Session) maintain() error {
	ctx := s.conn.Context()
	select {
	case <-ctx.Done():
		err := sessionCloseError(context.Cause(ctx))
		s.logger.Debug("http3 session closed by itself", slog.Any("err", err))
		return err

	case <-s.shutdown:
		s.logger.Debug("http3 session shutdown requested")
		return s.conn.CloseWithError(sessionNoError, "")
	}
}

// sessionCloseError maps the cause of a connection close to the error that
// the background task should return. A close without error is not an error.
func sessionCloseError(cause error) error {
	var appErr *quic.ApplicationError
	if errors.As(cause, &appErr) {
		switch appErr.ErrorCode {
		case 0, sessionNoError:
			return nil
		}
	}
	return cause
}

// OpenRequestStream opens a new request stream on the session.
func (s *Session) OpenRequestStream(ctx context.Context) (*http3.RequestStream, error) {
	return s.client.OpenRequestStream(ctx)
}

// Settings returns the peer's HTTP/3 settings.
func (s *Session) Settings() *http3.Settings {
	return s.client.Settings()
}

// Shutdown requests the background task to close the session and waits
// for it to terminate, returning the task's error.
//
// It is safe to call Shutdown more than once; each call returns the same error.
func (s *Session) Shutdown() error {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
	return s.group.Wait()
}
