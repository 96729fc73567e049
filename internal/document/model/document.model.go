package model

import (
	"fmt"
	"math/big"
	"time"

	"medshare/pkg/fault"
)

// UnknownOwner is shown when a shared document's owner cannot be resolved.
const UnknownOwner = "Unknown"

// Role selects which capability set a dashboard lists.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDoctor:
		return Role(s), nil
	case "":
		return RolePatient, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type DocumentEntry struct {
	Fingerprint string `json:"fingerprint"`
	Owner       string `json:"owner"`
	URL         string `json:"url"`
}

type DoctorProfile struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

type File struct {
	Name      string
	MediaType string
	Data      []byte
}

type UploadState string

const (
	StateIdle         UploadState = "idle"
	StateFileSelected UploadState = "file_selected"
	StateUploading    UploadState = "uploading"
	StateRegistering  UploadState = "registering"
	StateConfirmed    UploadState = "confirmed"
	StateFailed       UploadState = "failed"
)

var uploadTransitions = map[UploadState][]UploadState{
	StateIdle:         {StateFileSelected},
	StateFileSelected: {StateUploading, StateFailed},
	StateUploading:    {StateRegistering, StateFailed},
	StateRegistering:  {StateConfirmed, StateFailed},
}

// CanTransition reports whether an upload attempt may move from one state to another.
func CanTransition(from, to UploadState) bool {
	for _, next := range uploadTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s UploadState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Failure is the user-facing form of a classified error.
type Failure struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func NewFailure(err error) *Failure {
	fe, ok := fault.As(err)
	if !ok {
		fe = fault.Wrap(fault.Unknown, "", err)
	}
	return &Failure{Kind: fe.Kind.String(), Stage: string(fe.Stage), Reason: fe.Reason, Message: fe.Message()}
}

// UploadAttempt is one run of the upload flow. A retry is a new attempt.
type UploadAttempt struct {
	ID          string      `json:"id"`
	State       UploadState `json:"state"`
	FileName    string      `json:"file_name"`
	MediaType   string      `json:"media_type"`
	Size        int64       `json:"size"`
	Account     string      `json:"account,omitempty"`
	QuotedFee   *big.Int    `json:"quoted_fee,omitempty"`
	Fee         *big.Int    `json:"fee,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
	TxHash      string      `json:"tx_hash,omitempty"`
	URL         string      `json:"url,omitempty"`
	Failure     *Failure    `json:"failure,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// AccessChange is the outcome of a share, unshare or doctor registration.
type AccessChange struct {
	Action      string `json:"action"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Account     string `json:"account"`
	Doctor      string `json:"doctor,omitempty"`
	TxHash      string `json:"tx_hash"`
	Block       uint64 `json:"block"`
}

type ShareRequest struct {
	Fingerprint string `json:"fingerprint"`
	Doctor      string `json:"doctor"`
}

type RegisterDoctorRequest struct {
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

type FeeResponse struct {
	Wei   string `json:"wei"`
	Ether string `json:"ether"`
}

type SessionResponse struct {
	Account string `json:"account"`
	ChainID uint64 `json:"chain_id"`
	Network string `json:"network"`
}

// Activity is one journal entry.
type Activity struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Account     string    `json:"account"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Doctor      string    `json:"doctor,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FormatEther renders wei as a decimal ether amount without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(1e18))
	s := r.FloatString(18)
	for len(s) > 1 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
