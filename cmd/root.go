package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"medshare/config"
	"medshare/internal/app"
	"medshare/internal/wallet"
	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	envFile     string
	logLevel    string
	accountFlag string
	assumeYes   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "medshare",
	Short:         "Store medical files and control which doctors may read them",
	Long:          "medshare uploads medical files to a content store, registers them on a ledger for a fee, and grants or revokes doctors' read access.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		switch {
		case logLevel != "":
			c.LogLevel = logLevel
		case cmd.Name() != "serve":
			// Keep one-shot command output readable.
			c.LogLevel = "error"
		}
		logger.Init(c.LogLevel)
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "medshare.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file with secrets")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&accountFlag, "account", "", "act as this configured account instead of the first one")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "approve every signing prompt without asking")
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(rootCmd.ErrOrStderr(), err)
		stop()
		os.Exit(1)
	}
}

// withApp builds the application for one command. When connect is set the
// signing environment is authorized and moved to the configured network first.
func withApp(cmd *cobra.Command, connect bool, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	var approver wallet.Approver = wallet.AutoApprove
	if !assumeYes && !cfg.Wallet.AutoApprove {
		approver = wallet.NewTerminalApprover(cmd.InOrStdin(), cmd.ErrOrStderr())
	}

	a, err := app.New(ctx, cfg, approver)
	if err != nil {
		return err
	}
	defer a.Close()

	if accountFlag != "" {
		if !common.IsHexAddress(accountFlag) {
			return fmt.Errorf("--account %q is not an address", accountFlag)
		}
		if err := a.Env.SelectAccount(common.HexToAddress(accountFlag)); err != nil {
			return err
		}
	}
	if connect {
		if _, err := a.Connect(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a)
}

func printError(w io.Writer, err error) {
	red := color.New(color.FgRed)
	if fe, ok := fault.As(err); ok {
		red.Fprintf(w, "Error: %s\n", fe.Message())
		fmt.Fprintf(w, "  kind: %s\n", fe.Kind)
		return
	}
	red.Fprintf(w, "Error: %v\n", err)
}
