package app

import (
	"context"
	"time"

	"hwbot/internal/eventbus"
	"hwbot/internal/notifier"
	"hwbot/internal/poller"
	"hwbot/internal/storage"
	logx "hwbot/pkg/logx"
)

// auditRecorder persists tick and delivery outcomes from the bus.
type auditRecorder struct {
	store storage.Store
	log   logx.Logger
}

// entryFor converts a bus event into an audit row. ok is false for events
// that are not audited.
func entryFor(e eventbus.Event) (storage.AuditEntry, bool) {
	switch d := e.Data.(type) {
	case poller.TickResult:
		return storage.AuditEntry{
			At:      e.Time,
			TickID:  d.ID,
			Event:   "tick",
			Outcome: string(d.Outcome),
			Kind:    d.Kind,
			Cursor:  d.Cursor,
			Message: d.Message,
			Error:   d.ErrorMsg,
		}, true
	case notifier.NotificationEvent:
		outcome := ""
		switch e.Type {
		case eventbus.TypeNotifierSent:
			outcome = string(notifier.OutcomeSent)
		case eventbus.TypeNotifierFailed:
			outcome = string(notifier.OutcomeFailed)
		case eventbus.TypeNotifierSuppressed:
			outcome = string(notifier.OutcomeSuppressed)
		default:
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:      e.Time,
			TickID:  d.TickID,
			Event:   "notification",
			Outcome: outcome,
			Message: d.Text,
			Error:   d.Error,
		}, true
	}
	return storage.AuditEntry{}, false
}

func (r *auditRecorder) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := entryFor(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			if err := r.store.AppendAudit(wctx, entry); err != nil {
				r.log.Warn("audit write failed", logx.String("event", entry.Event), logx.Err(err))
			}
			cancel()
		}
	}
}

// logLastRun reports the most recent audited tick left by a previous run.
func (r *auditRecorder) logLastRun(ctx context.Context) {
	rows, err := r.store.RecentAudit(ctx, 1)
	if err != nil {
		r.log.Warn("reading audit trail failed", logx.Err(err))
		return
	}
	if len(rows) == 0 {
		return
	}
	last := rows[len(rows)-1]
	r.log.Info("previous run",
		logx.Time("at", last.At),
		logx.String("event", last.Event),
		logx.String("outcome", last.Outcome),
		logx.Int64("cursor", last.Cursor),
	)
}
