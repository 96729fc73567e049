package service

import (
	"context"
	"math/big"
	"sync"

	"medshare/internal/contentstore"
	"medshare/internal/document/model"
	"medshare/internal/eventbus"
	"medshare/internal/ledger"
	"medshare/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
)

type mockLedger struct {
	mock.Mock
}

var _ ledger.Client = (*mockLedger)(nil)

func (m *mockLedger) CurrentFee(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	fee, _ := args.Get(0).(*big.Int)
	return fee, args.Error(1)
}

func (m *mockLedger) DocumentOwner(ctx context.Context, fp string) (common.Address, error) {
	args := m.Called(ctx, fp)
	return args.Get(0).(common.Address), args.Error(1)
}

func (m *mockLedger) OwnedDocuments(ctx context.Context, account common.Address) ([]string, error) {
	args := m.Called(ctx, account)
	list, _ := args.Get(0).([]string)
	return list, args.Error(1)
}

func (m *mockLedger) AccessibleDocuments(ctx context.Context, account common.Address) ([]string, error) {
	args := m.Called(ctx, account)
	list, _ := args.Get(0).([]string)
	return list, args.Error(1)
}

func (m *mockLedger) RegisteredDoctor(ctx context.Context, addr common.Address) (*ledger.Doctor, error) {
	args := m.Called(ctx, addr)
	d, _ := args.Get(0).(*ledger.Doctor)
	return d, args.Error(1)
}

func (m *mockLedger) DoctorRegistrations(ctx context.Context) ([]common.Address, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]common.Address)
	return list, args.Error(1)
}

func (m *mockLedger) RegisterDocument(ctx context.Context, fp string, fee *big.Int) (*ledger.Tx, error) {
	args := m.Called(ctx, fp, fee)
	tx, _ := args.Get(0).(*ledger.Tx)
	return tx, args.Error(1)
}

func (m *mockLedger) GrantAccess(ctx context.Context, doctor common.Address, fp string) (*ledger.Tx, error) {
	args := m.Called(ctx, doctor, fp)
	tx, _ := args.Get(0).(*ledger.Tx)
	return tx, args.Error(1)
}

func (m *mockLedger) RevokeAccess(ctx context.Context, doctor common.Address, fp string) (*ledger.Tx, error) {
	args := m.Called(ctx, doctor, fp)
	tx, _ := args.Get(0).(*ledger.Tx)
	return tx, args.Error(1)
}

func (m *mockLedger) RegisterDoctor(ctx context.Context, name, spec string) (*ledger.Tx, error) {
	args := m.Called(ctx, name, spec)
	tx, _ := args.Get(0).(*ledger.Tx)
	return tx, args.Error(1)
}

func (m *mockLedger) Confirm(ctx context.Context, tx *ledger.Tx) (*ledger.Receipt, error) {
	args := m.Called(ctx, tx)
	r, _ := args.Get(0).(*ledger.Receipt)
	return r, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Put(ctx context.Context, data []byte, meta contentstore.Metadata) (string, error) {
	args := m.Called(ctx, data, meta)
	return args.String(0), args.Error(1)
}

type fakeWallet struct {
	account    common.Address
	accountErr error
	networkErr error
}

func (w *fakeWallet) Account(context.Context) (common.Address, error) {
	return w.account, w.accountErr
}

func (w *fakeWallet) EnsureNetwork(context.Context, wallet.Network) error {
	return w.networkErr
}

type recordingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *recordingBus) Publish(e eventbus.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) Events() []eventbus.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]eventbus.Event(nil), b.events...)
}

type memJournal struct {
	mu      sync.Mutex
	entries []model.Activity
}

func (j *memJournal) Record(_ context.Context, a model.Activity) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, a)
	return nil
}

func (j *memJournal) Entries() []model.Activity {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.Activity(nil), j.entries...)
}

var (
	patientAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	doctorAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	otherAddr   = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	testNetwork = wallet.Network{ChainID: 1337, Name: "Localhost 8545", RPCURL: "http://127.0.0.1:8545"}
	gateway     = "https://gateway.pinata.cloud"
)
