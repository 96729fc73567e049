package ledger

import (
	"errors"
	"strings"

	"medshare/internal/wallet"
	"medshare/pkg/fault"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

const revertPrefix = "execution reverted"

// ClassifySubmitError maps an error from signing or sending a transaction to
// a fault kind. Errors that are already classified pass through.
func ClassifySubmitError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := fault.As(err); ok {
		return err
	}
	if errors.Is(err, wallet.ErrDeclined) {
		return fault.New(fault.SubmissionRejected, "", "transaction was declined")
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "insufficient funds") {
		return fault.Wrap(fault.InsufficientFunds, "", err)
	}
	if reason, ok := RevertReason(err); ok {
		return fault.New(fault.ChainRejected, "", reason)
	}
	if strings.Contains(msg, "user denied") || strings.Contains(msg, "user rejected") {
		return fault.New(fault.SubmissionRejected, "", "transaction was declined")
	}
	return fault.Wrap(fault.Unknown, "", err)
}

// RevertReason extracts the revert reason string from a node error, first
// from the ABI-encoded error data and then from the message text.
func RevertReason(err error) (string, bool) {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, decErr := hexutil.Decode(s); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}
	msg := err.Error()
	i := strings.Index(msg, revertPrefix)
	if i < 0 {
		return "", false
	}
	reason := strings.TrimSpace(strings.TrimPrefix(msg[i+len(revertPrefix):], ":"))
	if reason == "" {
		reason = "transaction reverted"
	}
	return reason, true
}
