// Package eventsource reads agent events from a JetStream-backed bus.
// It exposes a lazy time-range iterator: the pipeline consumes events
// as they are fetched instead of loading a whole window up front.
package eventsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alberthild/vainplex-openclaw-sub000/pkg/events"
)

// ErrNotConnected is returned when an operation runs before Connect.
var ErrNotConnected = errors.New("eventsource: not connected")

// Options configure the bus connection.
type Options struct {
	URL             string `json:"url"`
	Stream          string `json:"stream"`
	SubjectPrefix   string `json:"subjectPrefix"` // e.g. "openclaw.events"
	CredentialsFile string `json:"credentialsFile,omitempty"`
	User            string `json:"user,omitempty"`
	Password        string `json:"password,omitempty"`
	FetchTimeout    time.Duration
}

// Source is a JetStream event reader for one stream.
type Source struct {
	opts   Options
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// New builds an unconnected source.
func New(opts Options) *Source {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 5 * time.Second
	}
	return &Source{
		opts:   opts,
		logger: slog.Default().With("component", "eventsource"),
	}
}

// Connect dials the bus. The caller decides whether a failure is fatal;
// the pipeline treats it as "no events this run".
func (s *Source) Connect(ctx context.Context) error {
	natsOpts := []nats.Option{
		nats.Name("trace-analyzer"),
		nats.Timeout(10 * time.Second),
		nats.MaxReconnects(2),
	}
	if s.opts.CredentialsFile != "" {
		natsOpts = append(natsOpts, nats.UserCredentials(s.opts.CredentialsFile))
	} else if s.opts.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(s.opts.User, s.opts.Password))
	}

	nc, err := nats.Connect(s.opts.URL, natsOpts...)
	if err != nil {
		return fmt.Errorf("eventsource: connect %s: %w", s.opts.URL, err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return fmt.Errorf("eventsource: jetstream context: %w", err)
	}
	s.nc = nc
	s.js = js
	return nil
}

// Fetched is one decoded event plus its bus sequence.
type Fetched struct {
	Event events.Event
	Seq   uint64
}

// FetchByTimeRange streams decoded events with startMs <= ts < endMs in
// bus order. The returned err function reports the terminal error once
// the channel closes. Malformed events are dropped and counted; the
// dropped count is available from the err func's second return.
func (s *Source) FetchByTimeRange(ctx context.Context, startMs, endMs int64) (<-chan Fetched, func() (dropped int, err error)) {
	out := make(chan Fetched, 64)
	var dropped int
	var termErr error
	done := make(chan struct{})

	if s.js == nil {
		close(out)
		close(done)
		return out, func() (int, error) { return 0, ErrNotConnected }
	}

	go func() {
		defer close(out)
		defer close(done)

		subject := s.opts.SubjectPrefix + ".>"
		sub, err := s.js.SubscribeSync(subject,
			nats.BindStream(s.opts.Stream),
			nats.OrderedConsumer(),
			nats.StartTime(time.UnixMilli(startMs)),
		)
		if err != nil {
			termErr = fmt.Errorf("eventsource: subscribe %s: %w", subject, err)
			return
		}
		defer sub.Unsubscribe()

		for {
			if err := ctx.Err(); err != nil {
				termErr = err
				return
			}
			msg, err := sub.NextMsg(s.opts.FetchTimeout)
			if err != nil {
				// Timeout means we drained everything currently stored.
				if !errors.Is(err, nats.ErrTimeout) {
					termErr = fmt.Errorf("eventsource: next message: %w", err)
				}
				return
			}

			meta, err := msg.Metadata()
			var seq uint64
			if err == nil {
				seq = meta.Sequence.Stream
				if meta.Timestamp.UnixMilli() >= endMs {
					return
				}
			}

			ev, err := events.Normalize(msg.Data, msg.Subject, seq)
			if err != nil {
				dropped++
				continue
			}
			if !inWindow(ev.TS, startMs, endMs) {
				continue
			}
			select {
			case out <- Fetched{Event: ev, Seq: seq}:
			case <-ctx.Done():
				termErr = ctx.Err()
				return
			}
		}
	}()

	return out, func() (int, error) {
		<-done
		return dropped, termErr
	}
}

// inWindow applies the half-open window on the event's own timestamp,
// which is authoritative over the bus receive time.
func inWindow(ts, startMs, endMs int64) bool {
	return ts >= startMs && ts < endMs
}

// Status describes the stream for the eventstatus probe.
type Status struct {
	Connected     bool   `json:"connected"`
	URL           string `json:"url"`
	Stream        string `json:"stream"`
	Messages      uint64 `json:"messages"`
	FirstSeq      uint64 `json:"firstSeq"`
	LastSeq       uint64 `json:"lastSeq"`
	SubjectPrefix string `json:"subjectPrefix"`
}

// ProbeStatus reports connectivity and stream counters.
func (s *Source) ProbeStatus(ctx context.Context) (Status, error) {
	st := Status{URL: s.opts.URL, Stream: s.opts.Stream, SubjectPrefix: s.opts.SubjectPrefix}
	if s.js == nil || s.nc == nil || !s.nc.IsConnected() {
		return st, ErrNotConnected
	}
	info, err := s.js.StreamInfo(s.opts.Stream, nats.Context(ctx))
	if err != nil {
		return st, fmt.Errorf("eventsource: stream info: %w", err)
	}
	st.Connected = true
	st.Messages = info.State.Msgs
	st.FirstSeq = info.State.FirstSeq
	st.LastSeq = info.State.LastSeq
	return st, nil
}

// Close drains the connection. Safe on an unconnected source.
func (s *Source) Close() {
	if s.nc != nil {
		s.nc.Close()
		s.nc = nil
		s.js = nil
	}
}
