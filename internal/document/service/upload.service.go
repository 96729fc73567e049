package service

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"medshare/internal/contentstore"
	"medshare/internal/document/model"
	"medshare/internal/eventbus"
	"medshare/internal/ledger"
	"medshare/internal/wallet"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Wallet is the slice of the wallet session the coordinators use. Both
// methods re-read the signing environment on every call.
type Wallet interface {
	Account(ctx context.Context) (common.Address, error)
	EnsureNetwork(ctx context.Context, target wallet.Network) error
}

// Progress observes every state an upload attempt enters, including the
// terminal one.
type Progress func(model.UploadAttempt)

type UploadService struct {
	Wallet  Wallet
	Store   contentstore.Store
	Ledger  ledger.Client
	Bus     eventbus.Publisher
	Journal Journal
	Network wallet.Network
	Gateway string
}

func NewUploadService(w Wallet, store contentstore.Store, l ledger.Client, bus eventbus.Publisher, journal Journal, network wallet.Network, gateway string) *UploadService {
	if journal == nil {
		journal = NopJournal
	}
	return &UploadService{Wallet: w, Store: store, Ledger: l, Bus: bus, Journal: journal, Network: network, Gateway: gateway}
}

// QuoteFee reads the registration fee for display. Upload re-reads it right
// before submitting.
func (s *UploadService) QuoteFee(ctx context.Context) (*big.Int, error) {
	fee, err := s.Ledger.CurrentFee(ctx)
	if err != nil {
		return nil, fault.WithStage(err, fault.StageRegistration)
	}
	return fee, nil
}

// attempt drives one UploadAttempt through its states.
type attempt struct {
	model.UploadAttempt
	progress Progress
}

func (a *attempt) enter(to model.UploadState) {
	if !model.CanTransition(a.State, to) {
		panic(fmt.Sprintf("upload attempt %s: illegal transition %s -> %s", a.ID, a.State, to))
	}
	a.State = to
	if to.Terminal() {
		a.FinishedAt = time.Now().UTC()
	}
	if a.progress != nil {
		a.progress(a.UploadAttempt)
	}
}

func (a *attempt) fail(err error) error {
	a.Failure = model.NewFailure(err)
	a.enter(model.StateFailed)
	return err
}

// Upload pushes file to the content store and registers its fingerprint on
// the ledger with the current fee. The returned attempt is always terminal.
// On Confirmed, DocumentUploaded has been published before Upload returns.
func (s *UploadService) Upload(ctx context.Context, file model.File, progress Progress) (*model.UploadAttempt, error) {
	a := &attempt{
		UploadAttempt: model.UploadAttempt{
			ID:        uuid.NewString(),
			State:     model.StateIdle,
			FileName:  file.Name,
			MediaType: file.MediaType,
			Size:      int64(len(file.Data)),
			StartedAt: time.Now().UTC(),
		},
		progress: progress,
	}
	a.enter(model.StateFileSelected)

	err := s.run(ctx, a, file)
	record(ctx, s.Journal, model.Activity{
		Action:      string(eventbus.DocumentUploaded),
		Account:     a.Account,
		Fingerprint: a.Fingerprint,
		TxHash:      a.TxHash,
	}, err)
	if err != nil {
		logger.Log.Warn("upload failed",
			zap.String("attempt", a.ID),
			zap.String("file", a.FileName),
			zap.Error(err),
		)
		return &a.UploadAttempt, err
	}
	logger.Log.Info("upload confirmed",
		zap.String("attempt", a.ID),
		zap.String("fingerprint", a.Fingerprint),
		zap.String("tx", a.TxHash),
	)
	return &a.UploadAttempt, nil
}

func (s *UploadService) run(ctx context.Context, a *attempt, file model.File) error {
	if len(file.Data) == 0 {
		return a.fail(fault.New(fault.PreconditionFailed, fault.StageUpload, "no file selected"))
	}
	if err := contentstore.CheckSize(a.Size); err != nil {
		return a.fail(err)
	}

	account, err := s.Wallet.Account(ctx)
	if err != nil {
		return a.fail(fault.WithStage(err, fault.StageWallet))
	}
	a.Account = account.Hex()
	if err := s.Wallet.EnsureNetwork(ctx, s.Network); err != nil {
		return a.fail(fault.WithStage(err, fault.StageWallet))
	}
	quoted, err := s.QuoteFee(ctx)
	if err != nil {
		return a.fail(err)
	}
	a.QuotedFee = quoted

	a.enter(model.StateUploading)
	fp, err := s.Store.Put(ctx, file.Data, contentstore.Metadata{Name: file.Name, MediaType: file.MediaType, Size: a.Size})
	if err != nil {
		return a.fail(fault.WithStage(err, fault.StageUpload))
	}
	a.Fingerprint = fp
	a.URL = contentstore.GatewayURL(s.Gateway, fp)

	a.enter(model.StateRegistering)
	fee, err := s.Ledger.CurrentFee(ctx)
	if err != nil {
		return a.fail(fault.WithStage(err, fault.StageRegistration))
	}
	if fee.Cmp(quoted) != 0 {
		logger.Log.Warn("upload fee changed since quote",
			zap.String("attempt", a.ID),
			zap.String("quoted", quoted.String()),
			zap.String("current", fee.String()),
		)
	}
	a.Fee = fee

	signer, err := s.Wallet.Account(ctx)
	if err != nil {
		return a.fail(fault.WithStage(err, fault.StageWallet))
	}
	before, err := s.Ledger.OwnedDocuments(ctx, signer)
	if err != nil {
		return a.fail(fault.WithStage(err, fault.StageRegistration))
	}
	prior := count(before, fp)

	tx, submitErr := s.Ledger.RegisterDocument(ctx, fp, fee)
	if tx != nil {
		a.TxHash = tx.Hash.Hex()
		signer = tx.From
		a.Account = signer.Hex()
	}
	_, err = settle(ctx, s.Ledger, fault.StageRegistration, tx, submitErr, func(ctx context.Context) (bool, error) {
		owner, err := s.Ledger.DocumentOwner(ctx, fp)
		if err != nil {
			return false, err
		}
		if owner != signer {
			return false, nil
		}
		if prior == 0 {
			return true, nil
		}
		// A re-registration only counts if it added an entry.
		after, err := s.Ledger.OwnedDocuments(ctx, signer)
		if err != nil {
			return false, err
		}
		return count(after, fp) > prior, nil
	})
	if err != nil {
		return a.fail(err)
	}

	a.enter(model.StateConfirmed)
	s.Bus.Publish(eventbus.Event{
		Name:        eventbus.DocumentUploaded,
		Fingerprint: fp,
		Account:     signer,
		TxHash:      common.HexToHash(a.TxHash),
		At:          a.FinishedAt,
	})
	return nil
}
