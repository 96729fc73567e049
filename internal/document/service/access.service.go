package service

import (
	"context"
	"strings"
	"time"

	"medshare/internal/contentstore"
	"medshare/internal/document/model"
	"medshare/internal/eventbus"
	"medshare/internal/ledger"
	"medshare/internal/wallet"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// View lists the documents one role can see for an account. Every call is
// a fresh ledger read.
type View interface {
	Role() model.Role
	Documents(ctx context.Context, account common.Address) ([]model.DocumentEntry, error)
}

// OwnerView lists the documents an account registered.
type OwnerView struct {
	Ledger  ledger.Reader
	Gateway string
}

func (OwnerView) Role() model.Role { return model.RolePatient }

func (v OwnerView) Documents(ctx context.Context, account common.Address) ([]model.DocumentEntry, error) {
	fps, err := v.Ledger.OwnedDocuments(ctx, account)
	if err != nil {
		return nil, err
	}
	entries := make([]model.DocumentEntry, 0, len(fps))
	for _, fp := range fps {
		entries = append(entries, model.DocumentEntry{
			Fingerprint: fp,
			Owner:       account.Hex(),
			URL:         contentstore.GatewayURL(v.Gateway, fp),
		})
	}
	return entries, nil
}

// GranteeView lists the documents shared with an account, each resolved to
// its owner. An owner lookup failure degrades that entry to UnknownOwner.
type GranteeView struct {
	Ledger  ledger.Reader
	Gateway string
}

func (GranteeView) Role() model.Role { return model.RoleDoctor }

func (v GranteeView) Documents(ctx context.Context, account common.Address) ([]model.DocumentEntry, error) {
	fps, err := v.Ledger.AccessibleDocuments(ctx, account)
	if err != nil {
		return nil, err
	}
	entries := make([]model.DocumentEntry, 0, len(fps))
	for _, fp := range fps {
		owner := model.UnknownOwner
		addr, err := v.Ledger.DocumentOwner(ctx, fp)
		switch {
		case err != nil:
			logger.Log.Warn("owner lookup failed", zap.String("fingerprint", fp), zap.Error(err))
		case addr != (common.Address{}):
			owner = addr.Hex()
		}
		entries = append(entries, model.DocumentEntry{
			Fingerprint: fp,
			Owner:       owner,
			URL:         contentstore.GatewayURL(v.Gateway, fp),
		})
	}
	return entries, nil
}

type AccessService struct {
	Wallet  Wallet
	Ledger  ledger.Client
	Bus     eventbus.Publisher
	Journal Journal
	Network wallet.Network

	views map[model.Role]View
}

func NewAccessService(w Wallet, l ledger.Client, bus eventbus.Publisher, journal Journal, network wallet.Network, gateway string) *AccessService {
	if journal == nil {
		journal = NopJournal
	}
	return &AccessService{
		Wallet:  w,
		Ledger:  l,
		Bus:     bus,
		Journal: journal,
		Network: network,
		views: map[model.Role]View{
			model.RolePatient: OwnerView{Ledger: l, Gateway: gateway},
			model.RoleDoctor:  GranteeView{Ledger: l, Gateway: gateway},
		},
	}
}

func (s *AccessService) View(role model.Role) View {
	if v, ok := s.views[role]; ok {
		return v
	}
	return s.views[model.RolePatient]
}

// Documents lists what the active account sees under role.
func (s *AccessService) Documents(ctx context.Context, role model.Role) ([]model.DocumentEntry, error) {
	account, err := s.Wallet.Account(ctx)
	if err != nil {
		return nil, fault.WithStage(err, fault.StageWallet)
	}
	entries, err := s.View(role).Documents(ctx, account)
	if err != nil {
		return nil, fault.WithStage(err, fault.StageSharing)
	}
	return entries, nil
}

// Doctors lists every address with an active registration, in registration
// order. The result is a snapshot.
func (s *AccessService) Doctors(ctx context.Context) ([]model.DoctorProfile, error) {
	addrs, err := s.Ledger.DoctorRegistrations(ctx)
	if err != nil {
		return nil, fault.WithStage(err, fault.StageSharing)
	}
	doctors := make([]model.DoctorProfile, 0, len(addrs))
	seen := make(map[common.Address]bool, len(addrs))
	for _, addr := range addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		d, err := s.Ledger.RegisteredDoctor(ctx, addr)
		if err != nil {
			logger.Log.Warn("doctor lookup failed", zap.String("doctor", addr.Hex()), zap.Error(err))
			continue
		}
		if d == nil {
			continue
		}
		doctors = append(doctors, model.DoctorProfile{Address: addr.Hex(), Name: d.Name, Specialization: d.Specialization})
	}
	return doctors, nil
}

// Share grants doctor read access to fingerprint. Ownership and the doctor's
// registration are checked first so a doomed transaction is never sent.
func (s *AccessService) Share(ctx context.Context, fingerprint string, doctor common.Address) (*model.AccessChange, error) {
	stage := fault.StageSharing
	account, err := s.prepare(ctx, stage, fingerprint, doctor)
	if err != nil {
		return nil, s.finish(ctx, eventbus.DocumentShared, account, fingerprint, doctor, nil, err)
	}
	d, err := s.Ledger.RegisteredDoctor(ctx, doctor)
	if err != nil {
		return nil, s.finish(ctx, eventbus.DocumentShared, account, fingerprint, doctor, nil, fault.WithStage(err, stage))
	}
	if d == nil {
		err := fault.Newf(fault.PreconditionFailed, stage, "%s is not a registered doctor", doctor.Hex())
		return nil, s.finish(ctx, eventbus.DocumentShared, account, fingerprint, doctor, nil, err)
	}

	tx, submitErr := s.Ledger.GrantAccess(ctx, doctor, fingerprint)
	receipt, err := settle(ctx, s.Ledger, stage, tx, submitErr, func(ctx context.Context) (bool, error) {
		visible, err := s.Ledger.AccessibleDocuments(ctx, doctor)
		return contains(visible, fingerprint), err
	})
	return s.complete(ctx, eventbus.DocumentShared, account, fingerprint, doctor, tx, receipt, err)
}

// Unshare revokes doctor's access to fingerprint. Revoking a pair that was
// never granted, or already revoked, succeeds.
func (s *AccessService) Unshare(ctx context.Context, fingerprint string, doctor common.Address) (*model.AccessChange, error) {
	stage := fault.StageRevocation
	account, err := s.prepare(ctx, stage, fingerprint, doctor)
	if err != nil {
		return nil, s.finish(ctx, eventbus.AccessRevoked, account, fingerprint, doctor, nil, err)
	}

	tx, submitErr := s.Ledger.RevokeAccess(ctx, doctor, fingerprint)
	receipt, err := settle(ctx, s.Ledger, stage, tx, submitErr, func(ctx context.Context) (bool, error) {
		visible, err := s.Ledger.AccessibleDocuments(ctx, doctor)
		return !contains(visible, fingerprint), err
	})
	return s.complete(ctx, eventbus.AccessRevoked, account, fingerprint, doctor, tx, receipt, err)
}

// RegisterDoctor registers the active account as a doctor.
func (s *AccessService) RegisterDoctor(ctx context.Context, name, specialization string) (*model.AccessChange, error) {
	stage := fault.StageDoctorRegistration
	name, specialization = strings.TrimSpace(name), strings.TrimSpace(specialization)
	account, err := s.Wallet.Account(ctx)
	if err != nil {
		return nil, fault.WithStage(err, fault.StageWallet)
	}
	if err := s.Wallet.EnsureNetwork(ctx, s.Network); err != nil {
		return nil, fault.WithStage(err, fault.StageWallet)
	}
	if name == "" || specialization == "" {
		return nil, fault.New(fault.PreconditionFailed, stage, "name and specialization are required")
	}
	existing, err := s.Ledger.RegisteredDoctor(ctx, account)
	if err != nil {
		return nil, fault.WithStage(err, stage)
	}
	if existing != nil {
		err := fault.New(fault.PreconditionFailed, stage, "this account is already registered as a doctor")
		return nil, s.finish(ctx, eventbus.DoctorRegistered, account, "", account, nil, err)
	}

	tx, submitErr := s.Ledger.RegisterDoctor(ctx, name, specialization)
	signer := account
	if tx != nil {
		signer = tx.From
	}
	receipt, err := settle(ctx, s.Ledger, stage, tx, submitErr, func(ctx context.Context) (bool, error) {
		d, err := s.Ledger.RegisteredDoctor(ctx, signer)
		return d != nil, err
	})
	return s.complete(ctx, eventbus.DoctorRegistered, signer, "", signer, tx, receipt, err)
}

// prepare resolves the active account and checks it owns fingerprint.
func (s *AccessService) prepare(ctx context.Context, stage fault.Stage, fingerprint string, doctor common.Address) (common.Address, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return common.Address{}, fault.New(fault.PreconditionFailed, stage, "a document fingerprint is required")
	}
	if doctor == (common.Address{}) {
		return common.Address{}, fault.New(fault.PreconditionFailed, stage, "a doctor address is required")
	}
	account, err := s.Wallet.Account(ctx)
	if err != nil {
		return common.Address{}, fault.WithStage(err, fault.StageWallet)
	}
	if err := s.Wallet.EnsureNetwork(ctx, s.Network); err != nil {
		return account, fault.WithStage(err, fault.StageWallet)
	}
	owner, err := s.Ledger.DocumentOwner(ctx, fingerprint)
	if err != nil {
		return account, fault.WithStage(err, stage)
	}
	if owner != account {
		return account, fault.New(fault.PreconditionFailed, stage, "only the document owner can change who may read it")
	}
	return account, nil
}

func (s *AccessService) complete(ctx context.Context, name eventbus.Name, account common.Address, fingerprint string, doctor common.Address, tx *ledger.Tx, receipt *ledger.Receipt, err error) (*model.AccessChange, error) {
	if tx != nil {
		account = tx.From
	}
	if err != nil {
		return nil, s.finish(ctx, name, account, fingerprint, doctor, tx, err)
	}
	change := &model.AccessChange{
		Action:      string(name),
		Fingerprint: fingerprint,
		Account:     account.Hex(),
		Doctor:      doctor.Hex(),
	}
	ev := eventbus.Event{Name: name, Fingerprint: fingerprint, Account: account, Doctor: doctor, At: time.Now().UTC()}
	if tx != nil {
		change.TxHash = tx.Hash.Hex()
		ev.TxHash = tx.Hash
	}
	if receipt != nil {
		change.Block = receipt.BlockNumber
	}
	s.finish(ctx, name, account, fingerprint, doctor, tx, nil)
	s.Bus.Publish(ev)
	logger.Log.Info("access change confirmed",
		zap.String("action", change.Action),
		zap.String("fingerprint", fingerprint),
		zap.String("doctor", change.Doctor),
		zap.String("tx", change.TxHash),
	)
	return change, nil
}

// finish journals the outcome and returns err unchanged.
func (s *AccessService) finish(ctx context.Context, name eventbus.Name, account common.Address, fingerprint string, doctor common.Address, tx *ledger.Tx, err error) error {
	a := model.Activity{Action: string(name), Fingerprint: fingerprint}
	if account != (common.Address{}) {
		a.Account = account.Hex()
	}
	if doctor != (common.Address{}) {
		a.Doctor = doctor.Hex()
	}
	if tx != nil {
		a.TxHash = tx.Hash.Hex()
	}
	record(ctx, s.Journal, a, err)
	if err != nil {
		logger.Log.Warn("access change failed", zap.String("action", a.Action), zap.Error(err))
	}
	return err
}
