package wallet

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
)

type PromptKind string

const (
	PromptConnect     PromptKind = "connect"
	PromptSwitchChain PromptKind = "switch-chain"
	PromptAddChain    PromptKind = "add-chain"
	PromptTransaction PromptKind = "transaction"
)

type Prompt struct {
	Kind    PromptKind
	Account common.Address
	ChainID uint64
	Detail  string
}

// Approver decides prompts on behalf of the human operating the environment.
type Approver interface {
	Approve(ctx context.Context, p Prompt) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, p Prompt) (bool, error)

func (f ApproverFunc) Approve(ctx context.Context, p Prompt) (bool, error) { return f(ctx, p) }

// AutoApprove accepts every prompt. Used by the server, where the operator
// already acted by calling the API.
var AutoApprove Approver = ApproverFunc(func(context.Context, Prompt) (bool, error) { return true, nil })

// TerminalApprover asks y/n on a terminal.
type TerminalApprover struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewTerminalApprover(in io.Reader, out io.Writer) *TerminalApprover {
	return &TerminalApprover{in: bufio.NewReader(in), out: out}
}

func (a *TerminalApprover) Approve(ctx context.Context, p Prompt) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(a.out, "\n[%s] %s\n", p.Kind, describe(p))
	yellow.Fprint(a.out, "Approve? (y/n): ")

	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("read approval: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "y" || answer == "yes" {
		color.New(color.FgGreen).Fprintln(a.out, "  ✓ approved")
		return true, nil
	}
	color.New(color.FgRed).Fprintln(a.out, "  ✗ declined")
	return false, nil
}

func describe(p Prompt) string {
	switch p.Kind {
	case PromptConnect:
		return "Connect account " + p.Account.Hex()
	case PromptSwitchChain:
		return fmt.Sprintf("Switch to chain %d", p.ChainID)
	case PromptAddChain:
		return fmt.Sprintf("Add network %s (chain %d)", p.Detail, p.ChainID)
	case PromptTransaction:
		return fmt.Sprintf("Sign transaction from %s on chain %d: %s", p.Account.Hex(), p.ChainID, p.Detail)
	}
	return p.Detail
}
