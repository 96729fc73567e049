package ledger

import (
	"context"
	"fmt"
	"math/big"

	"medshare/internal/wallet"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the node surface EthClient needs.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type EthConfig struct {
	RPCURL   string
	Contract common.Address
	GasLimit uint64
}

// EthClient talks to the deployed contract over JSON-RPC. Mutating calls are
// signed by whichever identity the SignerSource reports at call time.
type EthClient struct {
	backend  Backend
	address  common.Address
	contract *bind.BoundContract
	signers  wallet.SignerSource
	gasLimit uint64
}

// DialEth connects to cfg.RPCURL.
func DialEth(ctx context.Context, cfg EthConfig, signers wallet.SignerSource) (*EthClient, error) {
	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkMismatch, fault.StageWallet, err)
	}
	return NewEthClient(backend, cfg, signers)
}

func NewEthClient(backend Backend, cfg EthConfig, signers wallet.SignerSource) (*EthClient, error) {
	if cfg.Contract == (common.Address{}) {
		return nil, fault.New(fault.EnvironmentMissing, "", "contract address is not configured")
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &EthClient{
		backend:  backend,
		address:  cfg.Contract,
		contract: bind.NewBoundContract(cfg.Contract, ContractABI, backend, backend, backend),
		signers:  signers,
		gasLimit: gasLimit,
	}, nil
}

func (c *EthClient) CurrentFee(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, common.Address{}, MethodUploadFee)
	if err != nil {
		return nil, err
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, unexpected(MethodUploadFee, out[0])
	}
	return fee, nil
}

func (c *EthClient) DocumentOwner(ctx context.Context, fingerprint string) (common.Address, error) {
	out, err := c.call(ctx, common.Address{}, MethodDocumentOwner, fingerprint)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, unexpected(MethodDocumentOwner, out[0])
	}
	return owner, nil
}

func (c *EthClient) OwnedDocuments(ctx context.Context, account common.Address) ([]string, error) {
	return c.stringList(ctx, account, MethodUserDocuments)
}

func (c *EthClient) AccessibleDocuments(ctx context.Context, account common.Address) ([]string, error) {
	return c.stringList(ctx, account, MethodAccessibleDocuments)
}

func (c *EthClient) RegisteredDoctor(ctx context.Context, addr common.Address) (*Doctor, error) {
	out, err := c.call(ctx, common.Address{}, MethodDoctors, addr)
	if err != nil {
		return nil, err
	}
	if len(out) != 3 {
		return nil, fault.Newf(fault.Unknown, "", "%s returned %d values", MethodDoctors, len(out))
	}
	name, _ := out[0].(string)
	spec, _ := out[1].(string)
	registered, _ := out[2].(bool)
	if !registered {
		return nil, nil
	}
	return &Doctor{Address: addr, Name: name, Specialization: spec, Registered: true}, nil
}

func (c *EthClient) DoctorRegistrations(ctx context.Context) ([]common.Address, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{ContractABI.Events[EventDoctorRegistered].ID}},
	}
	logs, err := c.backend.FilterLogs(ctx, q)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	seen := make(map[common.Address]bool, len(logs))
	var out []common.Address
	for _, l := range logs {
		if len(l.Topics) < 2 {
			continue
		}
		addr := common.BytesToAddress(l.Topics[1].Bytes())
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out, nil
}

func (c *EthClient) RegisterDocument(ctx context.Context, fingerprint string, fee *big.Int) (*Tx, error) {
	return c.transact(ctx, MethodStoreDocument, fee, fingerprint)
}

func (c *EthClient) GrantAccess(ctx context.Context, doctor common.Address, fingerprint string) (*Tx, error) {
	return c.transact(ctx, MethodGrantAccess, nil, doctor, fingerprint)
}

func (c *EthClient) RevokeAccess(ctx context.Context, doctor common.Address, fingerprint string) (*Tx, error) {
	return c.transact(ctx, MethodRevokeAccess, nil, doctor, fingerprint)
}

func (c *EthClient) RegisterDoctor(ctx context.Context, name, specialization string) (*Tx, error) {
	return c.transact(ctx, MethodRegisterDoctor, nil, name, specialization)
}

// Confirm waits for tx to be mined. A failed transaction is replayed against
// the state before its block to recover the revert reason.
func (c *EthClient) Confirm(ctx context.Context, tx *Tx) (*Receipt, error) {
	if tx == nil || tx.Raw == nil {
		return nil, fault.New(fault.Unknown, "", "no transaction to confirm")
	}
	receipt, err := bind.WaitMined(ctx, c.backend, tx.Raw)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	r := &Receipt{TxHash: receipt.TxHash, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		r.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		reason := c.replayReason(ctx, tx, receipt.BlockNumber)
		logger.Log.Warn("transaction reverted",
			zap.String("method", tx.Method),
			zap.String("tx", tx.Hash.Hex()),
			zap.String("reason", reason),
		)
		return r, fault.New(fault.ChainRejected, "", reason)
	}
	logger.Log.Info("transaction confirmed",
		zap.String("method", tx.Method),
		zap.String("tx", tx.Hash.Hex()),
		zap.Uint64("block", r.BlockNumber),
		zap.Uint64("gas_used", r.GasUsed),
	)
	return r, nil
}

func (c *EthClient) replayReason(ctx context.Context, tx *Tx, block *big.Int) string {
	msg := ethereum.CallMsg{
		From:     tx.From,
		To:       tx.Raw.To(),
		Gas:      tx.Raw.Gas(),
		GasPrice: tx.Raw.GasPrice(),
		Value:    tx.Raw.Value(),
		Data:     tx.Raw.Data(),
	}
	var at *big.Int
	if block != nil && block.Sign() > 0 {
		at = new(big.Int).Sub(block, common.Big1)
	}
	_, err := c.backend.CallContract(ctx, msg, at)
	if err == nil {
		return "transaction reverted"
	}
	if reason, ok := RevertReason(err); ok {
		return reason
	}
	return err.Error()
}

func (c *EthClient) call(ctx context.Context, from common.Address, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx, From: from}, &out, method, args...)
	if err != nil {
		if reason, ok := RevertReason(err); ok {
			return nil, fault.New(fault.ChainRejected, "", reason)
		}
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	if len(out) == 0 {
		return nil, fault.Newf(fault.Unknown, "", "%s returned no values", method)
	}
	return out, nil
}

func (c *EthClient) stringList(ctx context.Context, account common.Address, method string) ([]string, error) {
	out, err := c.call(ctx, account, method)
	if err != nil {
		return nil, err
	}
	list, ok := out[0].([]string)
	if !ok {
		return nil, unexpected(method, out[0])
	}
	return list, nil
}

func (c *EthClient) transact(ctx context.Context, method string, value *big.Int, args ...interface{}) (*Tx, error) {
	signer, err := c.signers.Signer(ctx)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	from := signer.Address()
	opts := &bind.TransactOpts{
		From:     from,
		Context:  ctx,
		Value:    value,
		GasLimit: c.gasLimit,
		GasPrice: gasPrice,
		Signer: func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if addr != from {
				return nil, bind.ErrNotAuthorized
			}
			return signer.SignTx(ctx, tx)
		},
	}
	raw, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		classified := ClassifySubmitError(err)
		logger.Log.Warn("transaction not submitted",
			zap.String("method", method),
			zap.String("from", from.Hex()),
			zap.Error(classified),
		)
		return nil, classified
	}
	logger.Log.Info("transaction submitted",
		zap.String("method", method),
		zap.String("from", from.Hex()),
		zap.String("tx", raw.Hash().Hex()),
	)
	return &Tx{Hash: raw.Hash(), Method: method, From: from, Nonce: raw.Nonce(), Raw: raw}, nil
}

func unexpected(method string, v interface{}) error {
	return fault.Newf(fault.Unknown, "", "%s returned unexpected %s", method, fmt.Sprintf("%T", v))
}
