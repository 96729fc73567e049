package service

import (
	"context"
	"errors"
	"testing"

	"medshare/internal/document/model"
	"medshare/internal/eventbus"
	"medshare/internal/ledger"
	"medshare/pkg/fault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newAccessFixture(account common.Address) (*AccessService, *mockLedger, *recordingBus) {
	l := new(mockLedger)
	bus := new(recordingBus)
	return NewAccessService(&fakeWallet{account: account}, l, bus, nil, testNetwork, gateway), l, bus
}

var registered = &ledger.Doctor{Address: doctorAddr, Name: "Dr. Dana", Specialization: "Cardiology", Registered: true}

func TestShareByNonOwnerNeverSubmits(t *testing.T) {
	svc, l, bus := newAccessFixture(otherAddr)
	l.On("DocumentOwner", mock.Anything, "QmScan").Return(patientAddr, nil)

	_, err := svc.Share(context.Background(), "QmScan", doctorAddr)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.PreconditionFailed, fe.Kind)
	assert.Equal(t, fault.StageSharing, fe.Stage)
	l.AssertNotCalled(t, "GrantAccess", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, bus.Events())
}

func TestShareWithUnregisteredDoctorNeverSubmits(t *testing.T) {
	svc, l, _ := newAccessFixture(patientAddr)
	l.On("DocumentOwner", mock.Anything, "QmScan").Return(patientAddr, nil)
	l.On("RegisteredDoctor", mock.Anything, otherAddr).Return(nil, nil)

	_, err := svc.Share(context.Background(), "QmScan", otherAddr)
	assert.Equal(t, fault.PreconditionFailed, fault.KindOf(err))
	l.AssertNotCalled(t, "GrantAccess", mock.Anything, mock.Anything, mock.Anything)
}

func TestShareConfirmedPublishes(t *testing.T) {
	svc, l, bus := newAccessFixture(patientAddr)
	tx := &ledger.Tx{Hash: common.HexToHash("0x10"), From: patientAddr}
	l.On("DocumentOwner", mock.Anything, "QmScan").Return(patientAddr, nil)
	l.On("RegisteredDoctor", mock.Anything, doctorAddr).Return(registered, nil)
	l.On("GrantAccess", mock.Anything, doctorAddr, "QmScan").Return(tx, nil)
	l.On("Confirm", mock.Anything, tx).Return(&ledger.Receipt{TxHash: tx.Hash, BlockNumber: 12}, nil)
	l.On("AccessibleDocuments", mock.Anything, doctorAddr).Return([]string{"QmScan"}, nil)

	change, err := svc.Share(context.Background(), "QmScan", doctorAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), change.Block)
	assert.Equal(t, doctorAddr.Hex(), change.Doctor)

	events := bus.Events()
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.DocumentShared, events[0].Name)
	assert.Equal(t, doctorAddr, events[0].Doctor)
}

func TestShareStaleCheckStillHandlesRevert(t *testing.T) {
	svc, l, bus := newAccessFixture(patientAddr)
	tx := &ledger.Tx{Hash: common.HexToHash("0x11"), From: patientAddr}
	l.On("DocumentOwner", mock.Anything, "QmScan").Return(patientAddr, nil)
	l.On("RegisteredDoctor", mock.Anything, doctorAddr).Return(registered, nil)
	l.On("GrantAccess", mock.Anything, doctorAddr, "QmScan").Return(tx, nil)
	l.On("Confirm", mock.Anything, tx).Return(&ledger.Receipt{}, fault.New(fault.ChainRejected, "", ledger.ReasonDoctorNotRegistered))
	l.On("AccessibleDocuments", mock.Anything, doctorAddr).Return([]string(nil), nil)

	_, err := svc.Share(context.Background(), "QmScan", doctorAddr)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.ChainRejected, fe.Kind)
	assert.Equal(t, ledger.ReasonDoctorNotRegistered, fe.Reason)
	assert.Empty(t, bus.Events())
}

func TestUnshareTwiceIsIdempotent(t *testing.T) {
	svc, l, bus := newAccessFixture(patientAddr)
	tx := &ledger.Tx{Hash: common.HexToHash("0x12"), From: patientAddr}
	l.On("DocumentOwner", mock.Anything, "QmScan").Return(patientAddr, nil)
	l.On("RevokeAccess", mock.Anything, doctorAddr, "QmScan").Return(tx, nil)
	l.On("Confirm", mock.Anything, tx).Return(&ledger.Receipt{}, nil)
	l.On("AccessibleDocuments", mock.Anything, doctorAddr).Return([]string{}, nil)

	_, err := svc.Unshare(context.Background(), "QmScan", doctorAddr)
	require.NoError(t, err)
	_, err = svc.Unshare(context.Background(), "QmScan", doctorAddr)
	require.NoError(t, err)
	assert.Len(t, bus.Events(), 2)
}

func TestGranteeViewDegradesUnknownOwner(t *testing.T) {
	svc, l, _ := newAccessFixture(doctorAddr)
	l.On("AccessibleDocuments", mock.Anything, doctorAddr).Return([]string{"QmA", "QmB"}, nil)
	l.On("DocumentOwner", mock.Anything, "QmA").Return(patientAddr, nil)
	l.On("DocumentOwner", mock.Anything, "QmB").Return(common.Address{}, errors.New("rpc timeout"))

	entries, err := svc.Documents(context.Background(), model.RoleDoctor)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, patientAddr.Hex(), entries[0].Owner)
	assert.Equal(t, model.UnknownOwner, entries[1].Owner)
	assert.Equal(t, "https://gateway.pinata.cloud/ipfs/QmB", entries[1].URL)
}

func TestOwnerViewNeedsNoResolution(t *testing.T) {
	svc, l, _ := newAccessFixture(patientAddr)
	l.On("OwnedDocuments", mock.Anything, patientAddr).Return([]string{"QmA"}, nil)

	entries, err := svc.Documents(context.Background(), model.RolePatient)
	require.NoError(t, err)
	assert.Equal(t, []model.DocumentEntry{{Fingerprint: "QmA", Owner: patientAddr.Hex(), URL: "https://gateway.pinata.cloud/ipfs/QmA"}}, entries)
	l.AssertNotCalled(t, "DocumentOwner", mock.Anything, mock.Anything)
	assert.Equal(t, model.RolePatient, svc.View(model.RolePatient).Role())
	assert.Equal(t, model.RoleDoctor, svc.View(model.RoleDoctor).Role())
}

func TestDoctorsFiltersInactive(t *testing.T) {
	svc, l, _ := newAccessFixture(patientAddr)
	l.On("DoctorRegistrations", mock.Anything).Return([]common.Address{doctorAddr, otherAddr, doctorAddr}, nil)
	l.On("RegisteredDoctor", mock.Anything, doctorAddr).Return(registered, nil)
	l.On("RegisteredDoctor", mock.Anything, otherAddr).Return(nil, nil)

	doctors, err := svc.Doctors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.DoctorProfile{{Address: doctorAddr.Hex(), Name: "Dr. Dana", Specialization: "Cardiology"}}, doctors)
}

func TestRegisterDoctorAlreadyRegistered(t *testing.T) {
	svc, l, _ := newAccessFixture(doctorAddr)
	l.On("RegisteredDoctor", mock.Anything, doctorAddr).Return(registered, nil)

	_, err := svc.RegisterDoctor(context.Background(), "Dr. Dana", "Cardiology")
	assert.Equal(t, fault.PreconditionFailed, fault.KindOf(err))
	l.AssertNotCalled(t, "RegisterDoctor", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegisterDoctorRequiresFields(t *testing.T) {
	svc, _, _ := newAccessFixture(doctorAddr)
	_, err := svc.RegisterDoctor(context.Background(), "  ", "Cardiology")
	assert.Equal(t, fault.PreconditionFailed, fault.KindOf(err))
}

func TestAccessChangesSettleAfterCancel(t *testing.T) {
	t.Run("share", func(t *testing.T) {
		svc, l, bus := newAccessFixture(patientAddr)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		tx := &ledger.Tx{Hash: common.HexToHash("0x20"), From: patientAddr}
		l.On("DocumentOwner", mock.Anything, "QmScan").Return(patientAddr, nil)
		l.On("RegisteredDoctor", mock.Anything, doctorAddr).Return(registered, nil)
		l.On("GrantAccess", mock.Anything, doctorAddr, "QmScan").Return(tx, nil).
			Run(func(mock.Arguments) { cancel() })
		l.On("Confirm", live(), tx).Return(&ledger.Receipt{BlockNumber: 3}, nil)
		l.On("AccessibleDocuments", live(), doctorAddr).Return([]string{"QmScan"}, nil)

		change, err := svc.Share(ctx, "QmScan", doctorAddr)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), change.Block)
		assert.Len(t, bus.Events(), 1)
	})

	t.Run("unshare", func(t *testing.T) {
		svc, l, bus := newAccessFixture(patientAddr)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		tx := &ledger.Tx{Hash: common.HexToHash("0x21"), From: patientAddr}
		l.On("DocumentOwner", mock.Anything, "QmScan").Return(patientAddr, nil)
		l.On("RevokeAccess", mock.Anything, doctorAddr, "QmScan").Return(tx, nil).
			Run(func(mock.Arguments) { cancel() })
		l.On("Confirm", live(), tx).Return(&ledger.Receipt{BlockNumber: 4}, nil)
		l.On("AccessibleDocuments", live(), doctorAddr).Return([]string{}, nil)

		_, err := svc.Unshare(ctx, "QmScan", doctorAddr)
		require.NoError(t, err)
		assert.Len(t, bus.Events(), 1)
	})

	t.Run("register doctor", func(t *testing.T) {
		svc, l, bus := newAccessFixture(doctorAddr)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		tx := &ledger.Tx{Hash: common.HexToHash("0x22"), From: doctorAddr}
		l.On("RegisteredDoctor", mock.Anything, doctorAddr).Return(nil, nil).Once()
		l.On("RegisterDoctor", mock.Anything, "Dr. Dana", "Cardiology").Return(tx, nil).
			Run(func(mock.Arguments) { cancel() })
		l.On("Confirm", live(), tx).Return(&ledger.Receipt{BlockNumber: 5}, nil)
		l.On("RegisteredDoctor", live(), doctorAddr).Return(registered, nil)

		_, err := svc.RegisterDoctor(ctx, "Dr. Dana", "Cardiology")
		require.NoError(t, err)
		require.Len(t, bus.Events(), 1)
		assert.Equal(t, eventbus.DoctorRegistered, bus.Events()[0].Name)
	})
}
