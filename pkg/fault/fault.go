// Package fault classifies failures of the upload, registration and sharing
// flows into a fixed set of kinds, each tied to the stage that produced it.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	EnvironmentMissing
	UserRejected
	NetworkMismatch
	PayloadTooLarge
	StoreUnavailable
	StoreRejected
	InsufficientFunds
	SubmissionRejected
	ChainRejected
	PreconditionFailed
)

var kindNames = map[Kind]string{
	Unknown:            "unknown",
	EnvironmentMissing: "environment_missing",
	UserRejected:       "user_rejected",
	NetworkMismatch:    "network_mismatch",
	PayloadTooLarge:    "payload_too_large",
	StoreUnavailable:   "store_unavailable",
	StoreRejected:      "store_rejected",
	InsufficientFunds:  "insufficient_funds",
	SubmissionRejected: "submission_rejected",
	ChainRejected:      "chain_rejected",
	PreconditionFailed: "precondition_failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type Stage string

const (
	StageWallet             Stage = "wallet"
	StageUpload             Stage = "upload"
	StageRegistration       Stage = "registration"
	StageSharing            Stage = "sharing"
	StageRevocation         Stage = "revocation"
	StageDoctorRegistration Stage = "doctor-registration"
)

var stageLabels = map[Stage]string{
	StageWallet:             "Wallet",
	StageUpload:             "Upload",
	StageRegistration:       "Registration",
	StageSharing:            "Sharing",
	StageRevocation:         "Revoking access",
	StageDoctorRegistration: "Doctor registration",
}

// Error is a classified failure. Reason carries the human-readable cause; for
// ChainRejected it is the on-chain revert reason, forwarded verbatim.
type Error struct {
	Kind   Kind
	Stage  Stage
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg = string(e.Stage) + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && (e.Reason == "" || e.Reason != e.Err.Error()) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: X}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Stage == "" || t.Stage == e.Stage)
}

// Message is the single line shown to the user for this failure.
func (e *Error) Message() string {
	label := stageLabels[e.Stage]
	if label == "" {
		label = "Operation"
	}
	switch e.Kind {
	case EnvironmentMissing:
		return label + " failed: no signing environment is available"
	case UserRejected:
		return label + " cancelled: the request was declined"
	case NetworkMismatch:
		return label + " failed: wallet is not on the expected network"
	case PayloadTooLarge:
		return label + " failed: file exceeds the 10 MiB limit"
	case StoreUnavailable:
		return label + " failed: content store is unreachable or credentials were rejected"
	case StoreRejected:
		return label + " failed: content store rejected the file: " + e.reason()
	case InsufficientFunds:
		return label + " failed: insufficient funds to cover the fee and gas"
	case SubmissionRejected:
		return label + " cancelled: the transaction was not signed"
	case ChainRejected:
		return label + " rejected by the ledger: " + e.reason()
	case PreconditionFailed:
		return label + " not allowed: " + e.reason()
	default:
		return label + " failed: " + e.reason()
	}
}

func (e *Error) reason() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unexpected error"
}

func New(kind Kind, stage Stage, reason string) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: reason}
}

func Newf(kind Kind, stage Stage, format string, args ...any) *Error {
	return &Error{Kind: kind, Stage: stage, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, stage Stage, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// As extracts the classified error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or Unknown for unclassified errors.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return Unknown
}

// WithStage returns err classified under stage. A classified error keeps its
// kind and reason; anything else becomes Unknown.
func WithStage(err error, stage Stage) *Error {
	if err == nil {
		return nil
	}
	if fe, ok := As(err); ok {
		if fe.Stage == stage {
			return fe
		}
		return &Error{Kind: fe.Kind, Stage: stage, Reason: fe.Reason, Err: fe.Err}
	}
	return &Error{Kind: Unknown, Stage: stage, Err: err}
}
