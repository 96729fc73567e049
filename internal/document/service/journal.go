package service

import (
	"context"
	"time"

	"medshare/internal/document/model"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Journal records the outcome of every mutating flow. It is an audit trail
// only: nothing reads it back to decide state.
type Journal interface {
	Record(ctx context.Context, a model.Activity) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, model.Activity) error { return nil }

// NopJournal discards every entry.
var NopJournal Journal = nopJournal{}

// record fills in id, time and outcome, then writes a; journal failures are
// logged and never change the flow's result.
func record(ctx context.Context, j Journal, a model.Activity, err error) {
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now().UTC()
	a.Outcome = "confirmed"
	if err != nil {
		a.Outcome = "failed"
		if fe, ok := fault.As(err); ok {
			a.Reason = fe.Kind.String() + ": " + fe.Message()
		} else {
			a.Reason = err.Error()
		}
	}
	if jerr := j.Record(context.WithoutCancel(ctx), a); jerr != nil {
		logger.Log.Warn("activity not journaled",
			zap.String("action", a.Action),
			zap.String("account", a.Account),
			zap.Error(jerr),
		)
	}
}
