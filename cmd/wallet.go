package cmd

import (
	"context"
	"fmt"
	"math/big"

	"medshare/internal/app"
	"medshare/internal/document/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// balancer is implemented by ledgers that can report an account balance.
type balancer interface {
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

var feeCmd = &cobra.Command{
	Use:   "fee",
	Short: "Show the current upload fee",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
			fee, err := a.Uploads.QuoteFee(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s wei)\n", model.FormatEther(fee), cfg.Network.Currency.Symbol, fee)
			return nil
		})
	},
}

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Connect the signing environment and show the active account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			active, err := a.Session.Account(ctx)
			if err != nil {
				return err
			}
			accounts, err := a.Env.Accounts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Network: %s (chain %d)\n", cfg.Network.Name, cfg.Network.ChainID)
			b, hasBalance := a.Ledger.(balancer)
			for _, acct := range accounts {
				marker := "  "
				if acct == active {
					marker = color.New(color.FgGreen).Sprint("* ")
				}
				line := marker + acct.Hex()
				if hasBalance {
					if bal, err := b.Balance(ctx, acct); err == nil {
						line += fmt.Sprintf("  %s %s", model.FormatEther(bal), cfg.Network.Currency.Symbol)
					}
				}
				fmt.Fprintln(out, line)
			}
			return nil
		})
	},
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Content store utilities",
}

var storeCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the content store credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			if a.Pinata == nil {
				fmt.Fprintf(out, "Using the local %s store; no credentials to check.\n", cfg.Store.Backend)
				return nil
			}
			if err := a.Pinata.CheckAuth(ctx); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(out, "Content store credentials are valid")
			return nil
		})
	},
}

func init() {
	storeCmd.AddCommand(storeCheckCmd)
	rootCmd.AddCommand(feeCmd, walletCmd, storeCmd)
}
