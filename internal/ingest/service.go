// Package ingest feeds stream events and say requests from the bus into the
// orchestrator and reports utterance outcomes back onto the bus.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-announcer/internal/bus"
	"github.com/loqalabs/loqa-announcer/internal/config"
	"github.com/loqalabs/loqa-announcer/internal/events"
	"github.com/loqalabs/loqa-announcer/internal/orchestrator"
	"github.com/loqalabs/loqa-announcer/internal/protocol"
)

// Sink receives decoded input. *orchestrator.Orchestrator satisfies it.
type Sink interface {
	ReceiveEvent(evt events.Event) bool
	EnqueueFrom(text, source string) bool
}

type Service struct {
	cfg    config.IngestConfig
	bus    *bus.Client
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewService(parent context.Context, cfg config.IngestConfig, busClient *bus.Client, sink Sink, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "ingest")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	eventSub, err := s.bus.Conn().Subscribe(s.cfg.EventSubject, s.handleEvent)
	if err != nil {
		return err
	}
	saySub, err := s.bus.Conn().Subscribe(s.cfg.SaySubject, s.handleSay)
	if err != nil {
		_ = eventSub.Unsubscribe()
		return err
	}
	s.mu.Lock()
	s.subs = []*nats.Subscription{eventSub, saySub}
	s.mu.Unlock()
	s.logger.Info("ingest subscribed",
		slog.String("events", s.cfg.EventSubject),
		slog.String("say", s.cfg.SaySubject))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) > 0
}

func (s *Service) handleEvent(msg *nats.Msg) {
	if s.ctx.Err() != nil {
		return
	}
	evt, err := events.Decode(msg.Data)
	if err != nil {
		s.logger.Warn("failed to decode stream event", slog.String("subject", msg.Subject), slogError(err))
		return
	}
	if evt.Meta().Platform == "" {
		evt = withPlatform(evt, platformFromSubject(msg.Subject))
	}
	accepted := s.sink.ReceiveEvent(evt)
	s.logger.Debug("stream event received",
		slog.String("kind", string(evt.Kind())),
		slog.String("platform", evt.Meta().Platform),
		slog.Bool("announced", accepted))
}

func (s *Service) handleSay(msg *nats.Msg) {
	if s.ctx.Err() != nil {
		return
	}
	var req protocol.SayRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode say request", slogError(err))
		return
	}
	source := req.Source
	if source == "" {
		source = "bus"
	}
	if !s.sink.EnqueueFrom(req.Text, source) {
		s.logger.Debug("say request not queued", slog.String("source", source))
	}
}

// PublishResult reports a terminal utterance state on the status subject.
// Use it as orchestrator.Options.OnResult.
func (s *Service) PublishResult(res orchestrator.Result) {
	if !s.cfg.PublishStatus || s.ctx.Err() != nil {
		return
	}
	status := protocol.UtteranceStatus{
		UtteranceID: res.ID,
		Text:        res.Text,
		Engine:      res.Engine,
		Voice:       res.Voice,
		Status:      string(res.Status),
		Timestamp:   res.FinishedAt,
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now().UTC()
	}
	if res.Err != nil {
		status.Error = res.Err.Error()
	}
	if err := s.bus.PublishJSON(protocol.SubjectUtteranceStatus, status); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.Warn("failed to publish utterance status", slogError(err))
	}
}

// platformFromSubject returns the token after the stream event prefix.
func platformFromSubject(subject string) string {
	rest, ok := strings.CutPrefix(subject, protocol.SubjectStreamEventPrefix+".")
	if !ok {
		return ""
	}
	platform, _, _ := strings.Cut(rest, ".")
	return platform
}

func withPlatform(evt events.Event, platform string) events.Event {
	if platform == "" {
		return evt
	}
	switch e := evt.(type) {
	case events.Donation:
		e.Platform = platform
		return e
	case events.Subscription:
		e.Platform = platform
		return e
	case events.Membership:
		e.Platform = platform
		return e
	case events.Follow:
		e.Platform = platform
		return e
	case events.Raid:
		e.Platform = platform
		return e
	case events.Unknown:
		e.Platform = platform
		return e
	}
	return evt
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
