package service

import (
	"context"

	"medshare/internal/ledger"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"go.uber.org/zap"
)

// verifier reports whether the ledger now reflects the intended change.
type verifier func(ctx context.Context) (bool, error)

// settle decides the outcome of a mutating ledger call. A submit error that
// proves nothing was broadcast is final. Otherwise the transaction is
// confirmed and the ledger is re-read through verify, and the re-read wins
// over whatever Confirm or the submit step reported. Once a transaction may
// have been broadcast the caller's cancellation no longer applies.
func settle(ctx context.Context, l ledger.Client, stage fault.Stage, tx *ledger.Tx, submitErr error, verify verifier) (*ledger.Receipt, error) {
	if submitErr != nil && tx == nil && !maybeBroadcast(submitErr) {
		return nil, fault.WithStage(submitErr, stage)
	}

	wctx := context.WithoutCancel(ctx)
	var receipt *ledger.Receipt
	outcomeErr := submitErr
	if tx != nil {
		receipt, outcomeErr = l.Confirm(wctx, tx)
	}

	ok, err := verify(wctx)
	if err != nil {
		if fault.KindOf(outcomeErr) == fault.ChainRejected {
			return receipt, fault.WithStage(outcomeErr, stage)
		}
		logger.Log.Error("ledger outcome could not be verified",
			zap.String("stage", string(stage)),
			zap.NamedError("submit_error", outcomeErr),
			zap.Error(err),
		)
		return receipt, fault.Newf(fault.Unknown, stage, "outcome could not be verified: %v", err)
	}
	if ok {
		if outcomeErr != nil {
			logger.Log.Warn("ledger reflects the change despite a local error",
				zap.String("stage", string(stage)),
				zap.Error(outcomeErr),
			)
		}
		return receipt, nil
	}
	if outcomeErr != nil {
		return receipt, fault.WithStage(outcomeErr, stage)
	}
	return receipt, fault.New(fault.Unknown, stage, "transaction confirmed but the ledger does not reflect it")
}

// maybeBroadcast is true for errors that do not rule out a sent transaction.
func maybeBroadcast(err error) bool {
	return fault.KindOf(err) == fault.Unknown
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func count(list []string, v string) int {
	n := 0
	for _, s := range list {
		if s == v {
			n++
		}
	}
	return n
}
