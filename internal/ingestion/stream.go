package ingestion

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hypetrain/hypetrain/internal/metrics"
	"github.com/hypetrain/hypetrain/internal/models"
	"github.com/hypetrain/hypetrain/internal/social"
)

var (
	// ErrConnectionLimit stops the consumer when Twitter refuses another connection.
	ErrConnectionLimit = errors.New("stream connection limit reached")

	// ErrStreamFatal stops the consumer on an error a reconnect cannot fix.
	ErrStreamFatal = errors.New("stream stopped on unrecoverable error")

	// ErrStreamStalled reports a connection that went quiet past the idle timeout.
	ErrStreamStalled = errors.New("stream stalled")

	errReconnectNow = errors.New("provider requested reconnect")
)

// maxFrameSize bounds a single newline-delimited frame.
const maxFrameSize = 1 << 20

// StreamState is the consumer's position in its connection lifecycle.
type StreamState int32

const (
	StateConnecting StreamState = iota
	StateStreaming
	StateReconnectBackoff
	StateFatalStop
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnectBackoff:
		return "reconnect_backoff"
	case StateFatalStop:
		return "fatal_stop"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StreamOpener opens the filtered stream body.
type StreamOpener interface {
	OpenStream(ctx context.Context, streamURL string) (io.ReadCloser, error)
}

// TweetSink receives every event frame.
type TweetSink interface {
	Consider(ctx context.Context, tweet models.Tweet) (Decision, error)
}

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	URL    string
	Policy ReconnectPolicy
	// IdleTimeout drops a connection that delivered nothing for this long.
	// Zero disables the watchdog.
	IdleTimeout time.Duration
}

// StreamConsumer owns the single long-lived stream connection.
type StreamConsumer struct {
	opener  StreamOpener
	sink    TweetSink
	url     string
	policy  ReconnectPolicy
	idle    time.Duration
	metrics *metrics.Pipeline
	logger  *slog.Logger
	state   atomic.Int32
	now     func() time.Time
}

// NewStreamConsumer creates a consumer in the connecting state.
func NewStreamConsumer(opener StreamOpener, sink TweetSink, cfg StreamConsumerConfig, m *metrics.Pipeline, logger *slog.Logger) *StreamConsumer {
	return &StreamConsumer{
		opener:  opener,
		sink:    sink,
		url:     cfg.URL,
		policy:  cfg.Policy,
		idle:    cfg.IdleTimeout,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// State returns the current lifecycle state.
func (s *StreamConsumer) State() StreamState {
	return StreamState(s.state.Load())
}

func (s *StreamConsumer) setState(state StreamState) {
	s.state.Store(int32(state))
}

// Run streams until ctx is done, returning ctx.Err(), or until a fatal
// condition, returning an error wrapping ErrConnectionLimit or ErrStreamFatal.
// Connection resets never end the run.
func (s *StreamConsumer) Run(ctx context.Context) error {
	backoff := NewBackoff(s.policy)
	s.logger.Info("initiating twitter stream connection", "url", s.url)

	for {
		s.setState(StateConnecting)
		streamed, err := s.consume(ctx)

		if ctx.Err() != nil {
			s.setState(StateStopped)
			return ctx.Err()
		}

		if backoff.ObserveHealthy(streamed) {
			s.logger.Debug("stream was healthy, retry counter reset", "streamed", streamed)
		}

		switch {
		case errors.Is(err, errReconnectNow):
			backoff.Skip()
			s.metrics.ObserveReconnect()
			s.logger.Warn("stream reported a connection issue, reconnecting now", "attempt", backoff.Attempt())

		case IsRetryable(err):
			delay := backoff.Next()
			s.metrics.ObserveReconnect()
			s.setState(StateReconnectBackoff)
			s.logger.Warn("stream connection error, reconnecting",
				"delay", delay,
				"attempt", backoff.Attempt(),
				"error", err)
			if err := sleep(ctx, delay); err != nil {
				s.setState(StateStopped)
				return err
			}

		default:
			s.setState(StateFatalStop)
			s.logger.Error("stream stopped", "error", err)
			return err
		}
	}
}

// consume opens one connection and reads it until it fails. It reports how
// long the connection was streaming. A connection that delivers no line,
// keep-alives included, for the idle timeout is closed and reported as stalled.
func (s *StreamConsumer) consume(ctx context.Context) (time.Duration, error) {
	body, err := s.opener.OpenStream(ctx, s.url)
	if err != nil {
		return 0, classifyOpenError(err)
	}
	defer body.Close()

	s.setState(StateStreaming)
	s.metrics.SetStreamConnected(true)
	defer s.metrics.SetStreamConnected(false)

	started := s.now()
	s.logger.Info("streaming tweets")

	var stalled atomic.Bool
	resetIdle := func() {}
	if s.idle > 0 {
		watchdog := time.AfterFunc(s.idle, func() {
			stalled.Store(true)
			body.Close()
		})
		defer watchdog.Stop()
		resetIdle = func() { watchdog.Reset(s.idle) }
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for scanner.Scan() {
		resetIdle()
		if err := s.handleFrame(ctx, ClassifyFrame(scanner.Bytes())); err != nil {
			return s.now().Sub(started), err
		}
	}

	readErr := scanner.Err()
	switch {
	case ctx.Err() != nil:
		return s.now().Sub(started), ctx.Err()
	case stalled.Load():
		return s.now().Sub(started), NewRetryableError(fmt.Errorf("%w after %s", ErrStreamStalled, s.idle))
	case errors.Is(readErr, bufio.ErrTooLong):
		return s.now().Sub(started), NewRetryableError(fmt.Errorf("stream frame exceeds %d bytes: %w", maxFrameSize, readErr))
	case readErr == nil:
		return s.now().Sub(started), classifyReadError(io.EOF)
	default:
		return s.now().Sub(started), classifyReadError(readErr)
	}
}

func (s *StreamConsumer) handleFrame(ctx context.Context, frame Frame) error {
	s.metrics.ObserveFrame(frame.Kind.String())

	switch frame.Kind {
	case FrameKeepAlive:
		return nil

	case FrameConnectionLimit:
		s.logger.Error(ConnectionLimitDetail, "payload", string(frame.Raw))
		return fmt.Errorf("%w: %s", ErrConnectionLimit, frame.Raw)

	case FrameReconnect:
		return errReconnectNow

	case FrameEvent:
		s.logger.Info("received new tweet in the stream",
			"tweet_id", frame.Tweet.ID,
			"author_id", frame.Tweet.AuthorID)
		if _, err := s.sink.Consider(ctx, frame.Tweet); err != nil {
			s.logger.Error("failed to consider tweet",
				"tweet_id", frame.Tweet.ID,
				"error", err)
		}
		return nil

	default:
		s.logger.Warn("dropping unrecognised stream frame", "payload", string(frame.Raw))
		return nil
	}
}

// classifyOpenError maps a failed connect onto the fatal or retryable class.
func classifyOpenError(err error) error {
	var apiErr *social.APIError
	if errors.As(err, &apiErr) {
		switch {
		case strings.Contains(apiErr.Body, ConnectionLimitDetail):
			return fmt.Errorf("%w: %w", ErrConnectionLimit, err)
		case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
			return NewRetryableError(err)
		default:
			return fmt.Errorf("%w: %w", ErrStreamFatal, err)
		}
	}
	return classifyReadError(err)
}

func classifyReadError(err error) error {
	if isReconnectable(err) {
		return NewRetryableError(err)
	}
	return fmt.Errorf("%w: %w", ErrStreamFatal, err)
}

// isReconnectable reports whether err is a connection-reset class failure.
func isReconnectable(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "GOAWAY") ||
		strings.Contains(msg, "stream error")
}
