package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const contractABIJSON = `[
  {"type":"function","name":"uploadFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"storeDocument","stateMutability":"payable","inputs":[{"name":"ipfsHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"getDocumentOwner","stateMutability":"view","inputs":[{"name":"ipfsHash","type":"string"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getUserDocuments","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string[]"}]},
  {"type":"function","name":"getDoctorAccessibleDocuments","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string[]"}]},
  {"type":"function","name":"grantAccess","stateMutability":"nonpayable","inputs":[{"name":"doctor","type":"address"},{"name":"ipfsHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"revokeAccess","stateMutability":"nonpayable","inputs":[{"name":"doctor","type":"address"},{"name":"ipfsHash","type":"string"}],"outputs":[]},
  {"type":"function","name":"registerDoctor","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"specialization","type":"string"}],"outputs":[]},
  {"type":"function","name":"doctors","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"name","type":"string"},{"name":"specialization","type":"string"},{"name":"isRegistered","type":"bool"}]},
  {"type":"event","name":"DoctorRegistered","anonymous":false,"inputs":[{"name":"doctor","type":"address","indexed":true},{"name":"name","type":"string","indexed":false},{"name":"specialization","type":"string","indexed":false}]}
]`

// ContractABI is the parsed interface of the document-access contract.
var ContractABI = mustParseABI(contractABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("ledger: invalid contract ABI: " + err.Error())
	}
	return parsed
}
