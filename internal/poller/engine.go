// Package poller runs the homework status loop: fetch, validate, format,
// notify, wait.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"hwbot/internal/eventbus"
	"hwbot/internal/failure"
	"hwbot/internal/homework"
	logx "hwbot/pkg/logx"
)

// FailurePrefix starts every failure notification.
const FailurePrefix = "Сбой в работе программы: "

// Source returns the raw status payload for changes since cursor.
type Source interface {
	Fetch(ctx context.Context, cursor int64) ([]byte, error)
}

// Notifier delivers a message to the recipient.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// suppressionRecorder is implemented by notifiers that track messages the
// engine decided not to send.
type suppressionRecorder interface {
	Suppressed(ctx context.Context, text string)
}

// Config configures an Engine.
type Config struct {
	Schedule      Schedule // default Every(10m)
	InitialCursor int64
	Validate      homework.ValidateOptions
}

// Outcome is how a tick ended.
type Outcome string

const (
	OutcomeIdle               Outcome = "idle"
	OutcomeNotified           Outcome = "notified"
	OutcomeFailureSent        Outcome = "failure_sent"
	OutcomeFailureSuppressed  Outcome = "failure_suppressed"
	OutcomeFailureUndelivered Outcome = "failure_undelivered"
)

// TickResult describes one tick. It is the Data of poller.tick events.
type TickResult struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Took     time.Duration `json:"took"`
	Outcome  Outcome       `json:"outcome"`
	Kind     string        `json:"kind,omitempty"`
	Message  string        `json:"message,omitempty"`
	Cursor   int64         `json:"cursor"`
	Err      error         `json:"-"`
	ErrorMsg string        `json:"error,omitempty"`
}

// State is a snapshot of the engine.
type State struct {
	Cursor       int64
	LastNotified string
	Ticks        uint64
	LastTick     time.Time
	LastOutcome  Outcome
	LastError    string
}

// Engine polls the source on a schedule and reports status changes and
// failures through the notifier. Ticks never run concurrently.
type Engine struct {
	src      Source
	notifier Notifier
	bus      eventbus.Bus
	log      logx.Logger
	sched    Schedule
	validate homework.ValidateOptions

	mu    sync.Mutex
	state State

	now   func() time.Time
	newID func() string
}

// New builds an Engine. A nil schedule means Every(10m).
func New(cfg Config, src Source, n Notifier, bus eventbus.Bus, log logx.Logger) (*Engine, error) {
	if src == nil {
		return nil, errors.New("poller: nil source")
	}
	if n == nil {
		return nil, errors.New("poller: nil notifier")
	}
	if cfg.Schedule == nil {
		cfg.Schedule = Every(10 * time.Minute)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		src:      src,
		notifier: n,
		bus:      bus,
		log:      log,
		sched:    cfg.Schedule,
		validate: cfg.Validate,
		state:    State{Cursor: cfg.InitialCursor},
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// State returns a copy of the current state. Safe to call while Run is active.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run ticks until ctx is cancelled, waiting for the schedule between ticks.
// It returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("poller started",
		logx.String("schedule", e.sched.String()),
		logx.Int64("cursor", e.State().Cursor),
	)
	for {
		if err := ctx.Err(); err != nil {
			e.log.Info("poller stopped", logx.Uint64("ticks", e.State().Ticks))
			return err
		}
		e.Tick(ctx)

		now := e.now()
		wait := e.sched.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-t.C:
		}
	}
}

// Tick runs one poll cycle. Every error raised inside it, panics included,
// ends in the failure path; Tick itself never fails.
func (e *Engine) Tick(ctx context.Context) TickResult {
	res := TickResult{ID: e.newID(), Started: e.now()}
	ctx = eventbus.WithTickID(ctx, res.ID)
	log := e.log.With(logx.String("tick", res.ID))

	msg, err := e.poll(ctx, log)
	switch {
	case err != nil:
		res.Err = err
		res.ErrorMsg = err.Error()
		res.Kind = failure.KindOf(err)
		log.Error("tick failed", logx.String("kind", res.Kind), logx.Err(err))
		res.Message, res.Outcome = e.reportFailure(ctx, log, err)
	case msg == "":
		res.Outcome = OutcomeIdle
		log.Debug("no new statuses")
	default:
		serr := e.notifier.Send(ctx, msg)
		// An attempted status message counts as notified either way.
		e.mu.Lock()
		e.state.LastNotified = msg
		e.mu.Unlock()
		if serr != nil {
			res.Err = serr
			res.ErrorMsg = serr.Error()
			res.Kind = failure.KindOf(serr)
			log.Error("status message not delivered", logx.Err(serr))
			res.Message, res.Outcome = e.reportFailure(ctx, log, serr)
			break
		}
		res.Message = msg
		res.Outcome = OutcomeNotified
		log.Info("status message sent", logx.String("message", msg))
	}

	e.mu.Lock()
	e.state.Ticks++
	e.state.LastTick = res.Started
	e.state.LastOutcome = res.Outcome
	e.state.LastError = res.ErrorMsg
	res.Cursor = e.state.Cursor
	e.mu.Unlock()
	res.Took = e.now().Sub(res.Started)

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Time: res.Started, Data: res})
	}
	return res
}

// poll fetches and validates one response and returns the message to send,
// or "" when there is nothing new. The cursor moves only once the response
// has been validated.
func (e *Engine) poll(ctx context.Context, log logx.Logger) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("tick panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			msg, err = "", fmt.Errorf("panic: %v", r)
		}
	}()

	cursor := e.State().Cursor
	payload, err := e.src.Fetch(ctx, cursor)
	if err != nil {
		return "", err
	}
	resp, err := homework.Validate(payload, e.validate)
	if err != nil {
		return "", err
	}
	if resp.HasCurrentDate {
		e.mu.Lock()
		e.state.Cursor = resp.CurrentDate
		e.mu.Unlock()
		log.Debug("cursor advanced", logx.Int64("from", cursor), logx.Int64("to", resp.CurrentDate))
	}
	rec, ok := resp.Latest()
	if !ok {
		return "", nil
	}
	return homework.Format(rec)
}

// reportFailure sends the failure message unless it equals the last one.
// Delivery errors are logged and dropped.
func (e *Engine) reportFailure(ctx context.Context, log logx.Logger, cause error) (string, Outcome) {
	msg := FailurePrefix + cause.Error()

	e.mu.Lock()
	dup := msg == e.state.LastNotified
	if !dup {
		e.state.LastNotified = msg
	}
	e.mu.Unlock()

	if dup {
		log.Debug("failure message suppressed", logx.String("message", msg))
		if rec, ok := e.notifier.(suppressionRecorder); ok {
			rec.Suppressed(ctx, msg)
		}
		return msg, OutcomeFailureSuppressed
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		log.Error("failure message not delivered", logx.Err(err))
		return msg, OutcomeFailureUndelivered
	}
	log.Info("failure message sent", logx.String("message", msg))
	return msg, OutcomeFailureSent
}
