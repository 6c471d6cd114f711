// Package natsub feeds GuardDuty finding events from a NATS subject into
// the isolation engine.
package natsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/guardrail/internal/engine"
)

// Conn is the subset of *nats.Conn used by Subscriber.
type Conn interface {
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
}

// EventCounter receives per-message counts. Optional.
type EventCounter interface {
	IncEventsReceived()
	IncEventsInvalid()
}

// DefaultDrainTimeout bounds how long Run waits at shutdown for events
// already being isolated.
const DefaultDrainTimeout = 2 * time.Minute

const drainPoll = 20 * time.Millisecond

// ErrDrainTimeout is returned by Run when in-flight events outlive the
// drain timeout.
var ErrDrainTimeout = errors.New("drain timed out with events in flight")

// Reply is published to msg.Reply when the sender asked for one.
type Reply struct {
	Result *engine.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
	Kind   engine.Kind    `json:"kind,omitempty"`
}

// Subscriber joins a queue group so several replicas share the event load;
// each event is delivered to exactly one member.
type Subscriber struct {
	conn     Conn
	subject  string
	queue    string
	isolator engine.Isolator
	counter  EventCounter
	log      zerolog.Logger

	// DrainTimeout bounds the wait for in-flight events once ctx is done.
	DrainTimeout time.Duration

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// NewSubscriber returns a Subscriber. counter may be nil.
func NewSubscriber(c Conn, subject, queue string, iso engine.Isolator, counter EventCounter, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		conn:     c,
		subject:  subject,
		queue:    queue,
		isolator: iso,
		counter:  counter,
		log:      log.With().Str("component", "natsub").Str("subject", subject).Logger(),

		DrainTimeout: DefaultDrainTimeout,
	}
}

// Run subscribes and blocks until ctx is done. It then drains the
// subscription and returns only once every event already handed to the
// isolator has finished, or DrainTimeout expires.
func (s *Subscriber) Run(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(s.subject, s.queue, func(m *nats.Msg) {
		s.handle(ctx, m)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	s.log.Info().Str("queue", s.queue).Msg("subscribed")

	<-ctx.Done()
	s.log.Info().Msg("draining subscription")
	if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("drain %s: %w", s.subject, err)
	}
	return s.awaitDrained(sub)
}

// awaitDrained waits for the subscription to close, then for handlers
// still running. nats.go counts a message as delivered before its callback
// runs, so a closed subscription alone does not mean the callback is done.
func (s *Subscriber) awaitDrained(sub *nats.Subscription) error {
	deadline := time.NewTimer(s.DrainTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(drainPoll)
	defer tick.Stop()

	for sub.IsValid() {
		select {
		case <-deadline.C:
			s.stop()
			return fmt.Errorf("drain %s: %w", s.subject, ErrDrainTimeout)
		case <-tick.C:
		}
	}
	s.stop()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("subscription drained")
		return nil
	case <-deadline.C:
		return fmt.Errorf("drain %s: %w", s.subject, ErrDrainTimeout)
	}
}

// stop refuses any event not yet started.
func (s *Subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// begin registers an in-flight event. It reports false once stopped.
func (s *Subscriber) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

// handle processes one message. Invalid payloads are logged and dropped;
// they are never retried.
func (s *Subscriber) handle(ctx context.Context, m *nats.Msg) {
	if !s.begin() {
		s.log.Warn().Int("bytes", len(m.Data)).Msg("event arrived after drain; dropped before isolation")
		return
	}
	defer s.inflight.Done()

	if s.counter != nil {
		s.counter.IncEventsReceived()
	}

	f, err := engine.DecodeEvent(m.Data)
	if err != nil {
		if s.counter != nil {
			s.counter.IncEventsInvalid()
		}
		s.log.Warn().Err(err).Int("bytes", len(m.Data)).Msg("dropping undecodable event")
		s.reply(m, Reply{Error: err.Error()})
		return
	}

	// The flow runs to completion even if shutdown begins mid-event.
	res, err := s.isolator.Isolate(context.WithoutCancel(ctx), f)
	if err != nil {
		s.reply(m, Reply{Error: err.Error(), Kind: engine.KindOf(err)})
		return
	}
	s.reply(m, Reply{Result: res})
}

func (s *Subscriber) reply(m *nats.Msg, r Reply) {
	if m.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		s.log.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := s.conn.Publish(m.Reply, data); err != nil {
		s.log.Warn().Err(err).Str("reply", m.Reply).Msg("reply not published")
	}
}
