// Package ledger is the typed boundary to the document-access contract.
//
// Reads never need a signer. Every mutating call returns a Tx that must be
// passed to Confirm; Confirm blocks only its caller. Errors are classified
// with pkg/fault: SubmissionRejected when the signer declines,
// InsufficientFunds when fee plus gas cannot be covered, ChainRejected with
// the revert reason for every other on-chain rejection. An Unknown error from
// a mutating call means the transaction may or may not have been broadcast.
package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Tx is the handle of a submitted transaction.
type Tx struct {
	Hash   common.Hash
	Method string
	From   common.Address
	Nonce  uint64
	Raw    *types.Transaction
}

type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
}

// Doctor is a registered doctor profile as stored on the ledger.
type Doctor struct {
	Address        common.Address `json:"address"`
	Name           string         `json:"name"`
	Specialization string         `json:"specialization"`
	Registered     bool           `json:"is_registered"`
}

type Reader interface {
	CurrentFee(ctx context.Context) (*big.Int, error)
	// DocumentOwner returns the zero address for an unregistered fingerprint.
	DocumentOwner(ctx context.Context, fingerprint string) (common.Address, error)
	OwnedDocuments(ctx context.Context, account common.Address) ([]string, error)
	AccessibleDocuments(ctx context.Context, account common.Address) ([]string, error)
	// RegisteredDoctor returns nil when addr has no registration.
	RegisteredDoctor(ctx context.Context, addr common.Address) (*Doctor, error)
	// DoctorRegistrations lists the addresses of every DoctorRegistered log, oldest first.
	DoctorRegistrations(ctx context.Context) ([]common.Address, error)
}

type Client interface {
	Reader
	RegisterDocument(ctx context.Context, fingerprint string, fee *big.Int) (*Tx, error)
	GrantAccess(ctx context.Context, doctor common.Address, fingerprint string) (*Tx, error)
	RevokeAccess(ctx context.Context, doctor common.Address, fingerprint string) (*Tx, error)
	RegisterDoctor(ctx context.Context, name, specialization string) (*Tx, error)
	Confirm(ctx context.Context, tx *Tx) (*Receipt, error)
}

// Contract method names.
const (
	MethodUploadFee           = "uploadFee"
	MethodStoreDocument       = "storeDocument"
	MethodDocumentOwner       = "getDocumentOwner"
	MethodUserDocuments       = "getUserDocuments"
	MethodAccessibleDocuments = "getDoctorAccessibleDocuments"
	MethodGrantAccess         = "grantAccess"
	MethodRevokeAccess        = "revokeAccess"
	MethodRegisterDoctor      = "registerDoctor"
	MethodDoctors             = "doctors"
	EventDoctorRegistered     = "DoctorRegistered"
)

// Contract revert reasons.
const (
	ReasonIncorrectFee        = "Incorrect upload fee"
	ReasonAlreadyOwned        = "Document already owned by another account"
	ReasonNotOwner            = "Only document owner can grant access"
	ReasonNotOwnerRevoke      = "Only document owner can revoke access"
	ReasonDoctorNotRegistered = "Doctor is not registered"
	ReasonDoctorRegistered    = "Doctor already registered"
	ReasonEmptyHash           = "IPFS hash cannot be empty"
)

// DefaultGasLimit is the gas ceiling attached to every mutating call.
const DefaultGasLimit uint64 = 1_000_000
