package devnet

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"medshare/internal/ledger"
	"medshare/internal/wallet"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"
)

const (
	keyFee       = "fee"
	keyHead      = "head"
	keyDoctorSeq = "doclog.next"
)

// Gas charged per executed call. A reverted call is charged revertGas.
var gasUsed = map[string]uint64{
	ledger.MethodStoreDocument:  110_000,
	ledger.MethodGrantAccess:    70_000,
	ledger.MethodRevokeAccess:   35_000,
	ledger.MethodRegisterDoctor: 95_000,
}

const revertGas = 25_000

// ContractAddress is where the devnet contract pretends to live.
var ContractAddress = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type Config struct {
	ChainID        *big.Int
	Fee            *big.Int
	GenesisBalance *big.Int
	GasPrice       *big.Int
	GasLimit       uint64
}

// Ledger implements ledger.Client on top of Storage.
type Ledger struct {
	store    *Storage
	signers  wallet.SignerSource
	txSigner types.Signer
	cfg      Config

	// submitMu serializes mutating calls from the nonce re-check to the batch write.
	submitMu sync.Mutex
}

var _ ledger.Client = (*Ledger)(nil)

func NewLedger(store *Storage, cfg Config, signers wallet.SignerSource) (*Ledger, error) {
	if cfg.ChainID == nil || cfg.Fee == nil || cfg.GenesisBalance == nil || cfg.GasPrice == nil {
		return nil, fmt.Errorf("devnet: chain id, fee, genesis balance and gas price are required")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = ledger.DefaultGasLimit
	}
	l := &Ledger{
		store:    store,
		signers:  signers,
		txSigner: types.LatestSignerForChainID(cfg.ChainID),
		cfg:      cfg,
	}
	if _, ok, err := store.get(keyFee); err != nil {
		return nil, err
	} else if !ok {
		if err := l.SetFee(cfg.Fee); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// SetFee changes the upload fee, as the contract owner would.
func (l *Ledger) SetFee(fee *big.Int) error {
	return l.store.db.Put([]byte(keyFee), []byte(fee.String()), nil)
}

func (l *Ledger) CurrentFee(ctx context.Context) (*big.Int, error) {
	return l.bigValue(keyFee, new(big.Int))
}

// Balance returns the spendable balance of addr in wei.
func (l *Ledger) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return l.bigValue(balanceKey(addr), l.cfg.GenesisBalance)
}

func (l *Ledger) DocumentOwner(ctx context.Context, fingerprint string) (common.Address, error) {
	raw, ok, err := l.store.get(ownerKey(fingerprint))
	if err != nil {
		return common.Address{}, fault.Wrap(fault.Unknown, "", err)
	}
	if !ok {
		return common.Address{}, nil
	}
	return common.HexToAddress(string(raw)), nil
}

func (l *Ledger) OwnedDocuments(ctx context.Context, account common.Address) ([]string, error) {
	return l.list(docsKey(account))
}

func (l *Ledger) AccessibleDocuments(ctx context.Context, account common.Address) ([]string, error) {
	return l.list(accessKey(account))
}

func (l *Ledger) RegisteredDoctor(ctx context.Context, addr common.Address) (*ledger.Doctor, error) {
	var d ledger.Doctor
	ok, err := l.store.getJSON(doctorKey(addr), &d)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	if !ok || !d.Registered {
		return nil, nil
	}
	return &d, nil
}

func (l *Ledger) DoctorRegistrations(ctx context.Context) ([]common.Address, error) {
	values, err := l.store.prefixed("doclog:")
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	out := make([]common.Address, 0, len(values))
	for _, v := range values {
		out = append(out, common.HexToAddress(string(v)))
	}
	return out, nil
}

func (l *Ledger) RegisterDocument(ctx context.Context, fingerprint string, fee *big.Int) (*ledger.Tx, error) {
	return l.transact(ctx, ledger.MethodStoreDocument, fee, fingerprint)
}

func (l *Ledger) GrantAccess(ctx context.Context, doctor common.Address, fingerprint string) (*ledger.Tx, error) {
	return l.transact(ctx, ledger.MethodGrantAccess, nil, doctor, fingerprint)
}

func (l *Ledger) RevokeAccess(ctx context.Context, doctor common.Address, fingerprint string) (*ledger.Tx, error) {
	return l.transact(ctx, ledger.MethodRevokeAccess, nil, doctor, fingerprint)
}

func (l *Ledger) RegisterDoctor(ctx context.Context, name, specialization string) (*ledger.Tx, error) {
	return l.transact(ctx, ledger.MethodRegisterDoctor, nil, name, specialization)
}

// Confirm returns at once: devnet transactions are mined when submitted.
func (l *Ledger) Confirm(ctx context.Context, tx *ledger.Tx) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	if tx == nil {
		return nil, fault.New(fault.Unknown, "", "no transaction to confirm")
	}
	var rec receiptRecord
	ok, err := l.store.getJSON(receiptKey(tx.Hash), &rec)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	if !ok {
		return nil, fault.Newf(fault.Unknown, "", "transaction %s is not known", tx.Hash.Hex())
	}
	r := &ledger.Receipt{TxHash: tx.Hash, BlockNumber: rec.Block, GasUsed: rec.GasUsed}
	if !rec.Success {
		return r, fault.New(fault.ChainRejected, "", rec.Reason)
	}
	return r, nil
}

type receiptRecord struct {
	Method  string `json:"method"`
	From    string `json:"from"`
	Block   uint64 `json:"block"`
	GasUsed uint64 `json:"gas_used"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func (l *Ledger) transact(ctx context.Context, method string, value *big.Int, args ...interface{}) (*ledger.Tx, error) {
	signer, err := l.signers.Signer(ctx)
	if err != nil {
		return nil, err
	}
	from := signer.Address()
	if value == nil {
		value = new(big.Int)
	}
	data, err := ledger.ContractABI.Pack(method, args...)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}

	nonce, err := l.store.getUint(nonceKey(from))
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	maxCost := new(big.Int).Mul(new(big.Int).SetUint64(l.cfg.GasLimit), l.cfg.GasPrice)
	maxCost.Add(maxCost, value)
	if _, err := l.fundsFor(ctx, from, maxCost); err != nil {
		return nil, err
	}

	// Signing may wait on a human, so it happens before submitMu is taken.
	to := ContractAddress
	unsigned := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      l.cfg.GasLimit,
		GasPrice: l.cfg.GasPrice,
		Data:     data,
	})
	signed, err := signer.SignTx(ctx, unsigned)
	if err != nil {
		return nil, ledger.ClassifySubmitError(err)
	}
	sender, err := types.Sender(l.txSigner, signed)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkMismatch, "", err)
	}
	if sender != from {
		return nil, fault.Newf(fault.Unknown, "", "transaction signed by %s, expected %s", sender.Hex(), from.Hex())
	}

	l.submitMu.Lock()
	defer l.submitMu.Unlock()

	current, err := l.store.getUint(nonceKey(from))
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	if current != nonce {
		return nil, fault.Newf(fault.SubmissionRejected, "", "nonce %d was used by another submission while signing; submit again", nonce)
	}
	balance, err := l.fundsFor(ctx, from, maxCost)
	if err != nil {
		return nil, err
	}

	rec, err := l.apply(sender, signed, balance)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	logger.Log.Info("devnet transaction mined",
		zap.String("method", method),
		zap.String("from", sender.Hex()),
		zap.String("tx", signed.Hash().Hex()),
		zap.Bool("success", rec.Success),
		zap.String("reason", rec.Reason),
	)
	return &ledger.Tx{Hash: signed.Hash(), Method: method, From: sender, Nonce: nonce, Raw: signed}, nil
}

// fundsFor returns from's balance if it covers maxCost.
func (l *Ledger) fundsFor(ctx context.Context, from common.Address, maxCost *big.Int) (*big.Int, error) {
	balance, err := l.Balance(ctx, from)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(maxCost) < 0 {
		return nil, fault.Newf(fault.InsufficientFunds, "", "balance %s wei cannot cover %s wei", balance, maxCost)
	}
	return balance, nil
}

// apply executes a verified transaction and writes its effects, the fee
// debit, the nonce bump and the receipt in one batch.
func (l *Ledger) apply(sender common.Address, tx *types.Transaction, balance *big.Int) (*receiptRecord, error) {
	batch := new(leveldb.Batch)
	method, err := ledger.ContractABI.MethodById(tx.Data())
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return nil, err
	}

	reason, err := l.execute(batch, sender, method.Name, tx.Value(), args)
	if err != nil {
		return nil, err
	}

	head, err := l.store.getUint(keyHead)
	if err != nil {
		return nil, err
	}
	rec := &receiptRecord{Method: method.Name, From: sender.Hex(), Block: head + 1, Success: reason == "", Reason: reason}
	rec.GasUsed = revertGas
	if rec.Success {
		rec.GasUsed = gasUsed[method.Name]
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(rec.GasUsed), tx.GasPrice())
	if rec.Success {
		cost.Add(cost, tx.Value())
	}
	batch.Put([]byte(balanceKey(sender)), []byte(new(big.Int).Sub(balance, cost).String()))
	putUint(batch, nonceKey(sender), tx.Nonce()+1)
	putUint(batch, keyHead, head+1)
	if err := putJSON(batch, receiptKey(tx.Hash()), rec); err != nil {
		return nil, err
	}
	return rec, l.store.db.Write(batch, nil)
}

// execute enforces the contract rules. It returns a revert reason without
// touching batch, or writes the call's effects and returns "".
func (l *Ledger) execute(batch *leveldb.Batch, sender common.Address, method string, value *big.Int, args []interface{}) (string, error) {
	switch method {
	case ledger.MethodStoreDocument:
		fp := args[0].(string)
		if fp == "" {
			return ledger.ReasonEmptyHash, nil
		}
		fee, err := l.CurrentFee(context.Background())
		if err != nil {
			return "", err
		}
		if value.Cmp(fee) != 0 {
			return ledger.ReasonIncorrectFee, nil
		}
		owner, err := l.DocumentOwner(context.Background(), fp)
		if err != nil {
			return "", err
		}
		if owner != (common.Address{}) && owner != sender {
			return ledger.ReasonAlreadyOwned, nil
		}
		if owner == (common.Address{}) {
			batch.Put([]byte(ownerKey(fp)), []byte(sender.Hex()))
		}
		// Every paid registration is a new entry, even for a fingerprint the
		// sender already owns.
		owned, err := l.list(docsKey(sender))
		if err != nil {
			return "", err
		}
		return "", putJSON(batch, docsKey(sender), append(owned, fp))

	case ledger.MethodGrantAccess, ledger.MethodRevokeAccess:
		doctor := args[0].(common.Address)
		fp := args[1].(string)
		owner, err := l.DocumentOwner(context.Background(), fp)
		if err != nil {
			return "", err
		}
		if method == ledger.MethodRevokeAccess {
			if owner != sender {
				return ledger.ReasonNotOwnerRevoke, nil
			}
			return "", l.removeFromList(batch, accessKey(doctor), fp)
		}
		if owner != sender {
			return ledger.ReasonNotOwner, nil
		}
		d, err := l.RegisteredDoctor(context.Background(), doctor)
		if err != nil {
			return "", err
		}
		if d == nil {
			return ledger.ReasonDoctorNotRegistered, nil
		}
		return "", l.addToList(batch, accessKey(doctor), fp)

	case ledger.MethodRegisterDoctor:
		d, err := l.RegisteredDoctor(context.Background(), sender)
		if err != nil {
			return "", err
		}
		if d != nil {
			return ledger.ReasonDoctorRegistered, nil
		}
		seq, err := l.store.getUint(keyDoctorSeq)
		if err != nil {
			return "", err
		}
		doc := ledger.Doctor{Address: sender, Name: args[0].(string), Specialization: args[1].(string), Registered: true}
		if err := putJSON(batch, doctorKey(sender), doc); err != nil {
			return "", err
		}
		batch.Put([]byte(fmt.Sprintf("doclog:%020d", seq)), []byte(sender.Hex()))
		putUint(batch, keyDoctorSeq, seq+1)
		return "", nil
	}
	return "", fmt.Errorf("devnet: method %s is not executable", method)
}

func (l *Ledger) list(key string) ([]string, error) {
	var out []string
	if _, err := l.store.getJSON(key, &out); err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	return out, nil
}

func (l *Ledger) addToList(batch *leveldb.Batch, key, fp string) error {
	current, err := l.list(key)
	if err != nil {
		return err
	}
	for _, v := range current {
		if v == fp {
			return nil
		}
	}
	return putJSON(batch, key, append(current, fp))
}

func (l *Ledger) removeFromList(batch *leveldb.Batch, key, fp string) error {
	current, err := l.list(key)
	if err != nil {
		return err
	}
	kept := current[:0]
	for _, v := range current {
		if v != fp {
			kept = append(kept, v)
		}
	}
	return putJSON(batch, key, kept)
}

func (l *Ledger) bigValue(key string, fallback *big.Int) (*big.Int, error) {
	raw, ok, err := l.store.get(key)
	if err != nil {
		return nil, fault.Wrap(fault.Unknown, "", err)
	}
	if !ok {
		return new(big.Int).Set(fallback), nil
	}
	v, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fault.Newf(fault.Unknown, "", "corrupt value under %s", key)
	}
	return v, nil
}

func ownerKey(fp string) string { return "owner:" + fp }
func docsKey(a common.Address) string { return "docs:" + a.Hex() }
func accessKey(a common.Address) string { return "access:" + a.Hex() }
func doctorKey(a common.Address) string { return "doctor:" + a.Hex() }
func balanceKey(a common.Address) string { return "balance:" + a.Hex() }
func nonceKey(a common.Address) string { return "nonce:" + a.Hex() }
func receiptKey(h common.Hash) string { return "receipt:" + h.Hex() }
