package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractABIMethods(t *testing.T) {
	for _, name := range []string{
		MethodUploadFee, MethodStoreDocument, MethodDocumentOwner, MethodUserDocuments,
		MethodAccessibleDocuments, MethodGrantAccess, MethodRevokeAccess,
		MethodRegisterDoctor, MethodDoctors,
	} {
		_, ok := ContractABI.Methods[name]
		assert.True(t, ok, name)
	}
	assert.True(t, ContractABI.Methods[MethodStoreDocument].IsPayable())
	assert.True(t, ContractABI.Methods[MethodDocumentOwner].IsConstant())
}

func TestGrantAccessCallDataRoundTrip(t *testing.T) {
	doctor := common.HexToAddress("0x00000000000000000000000000000000000000d0")
	data, err := ContractABI.Pack(MethodGrantAccess, doctor, "QmDoc")
	require.NoError(t, err)

	method, err := ContractABI.MethodById(data[:4])
	require.NoError(t, err)
	assert.Equal(t, MethodGrantAccess, method.Name)

	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, doctor, args[0])
	assert.Equal(t, "QmDoc", args[1])
}

func TestDoctorRegisteredEventIndexesDoctor(t *testing.T) {
	ev, ok := ContractABI.Events[EventDoctorRegistered]
	require.True(t, ok)
	assert.True(t, ev.Inputs[0].Indexed)
	assert.Equal(t, 2, len(ev.Inputs.NonIndexed()))
}
