package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hwbot/internal/eventbus"
	"hwbot/internal/failure"
	kit "hwbot/internal/transport"
	logx "hwbot/pkg/logx"
)

var ErrEmptyText = errors.New("notifier: empty text")

// Service sends plain-text messages to one fixed recipient. It is safe for
// concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender kit.Sender
	bus    eventbus.Bus
	log    logx.Logger

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, bus: bus, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text and reports the outcome. Transport failures come back
// as failure.ErrDelivery.
func (s *Service) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	if s.sender == nil {
		err := failure.New(failure.ErrDelivery, "no transport configured")
		s.record(ctx, cfg, text, OutcomeFailed, err)
		return err
	}
	if err := lim.Wait(ctx); err != nil {
		err = failure.Wrap(failure.ErrDelivery, err, "rate limit wait")
		s.record(ctx, cfg, text, OutcomeFailed, err)
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	start := time.Now()
	ref, err := s.sender.SendText(callCtx, cfg.Target, text, &kit.SendOptions{DisablePreview: true})
	if err != nil {
		err = failure.Wrap(failure.ErrDelivery, err, "send to chat %d", cfg.Target.ChatID)
		s.record(ctx, cfg, text, OutcomeFailed, err)
		return err
	}
	s.log.Debug("message delivered",
		logx.Int64("chat_id", ref.ChatID),
		logx.Int("message_id", ref.MessageID),
		logx.Duration("took", time.Since(start)),
	)
	s.record(ctx, cfg, text, OutcomeSent, nil)
	return nil
}

// Suppressed records a message the caller chose not to send.
func (s *Service) Suppressed(ctx context.Context, text string) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	s.record(ctx, cfg, text, OutcomeSuppressed, nil)
}

// History returns the recent outcomes, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) record(ctx context.Context, cfg Config, text string, outcome Outcome, err error) {
	now := time.Now()
	item := HistoryItem{At: now, Text: text, Outcome: outcome}
	if err != nil {
		item.Error = err.Error()
	}

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()

	if s.bus == nil {
		return
	}
	typ := eventbus.TypeNotifierSent
	switch outcome {
	case OutcomeFailed:
		typ = eventbus.TypeNotifierFailed
	case OutcomeSuppressed:
		typ = eventbus.TypeNotifierSuppressed
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: NotificationEvent{
		TickID:   eventbus.TickID(ctx),
		ChatID:   cfg.Target.ChatID,
		ThreadID: cfg.Target.ThreadID,
		Text:     text,
		At:       now,
		Error:    item.Error,
	}})
}
