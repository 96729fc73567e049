package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"medshare/internal/app"
	"medshare/internal/document/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var documentsView string

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List your documents, or those shared with you (--view doctor)",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := model.ParseRole(documentsView)
		if err != nil {
			return err
		}
		return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
			entries, err := a.Access.Documents(ctx, role)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No documents.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "FINGERPRINT\tOWNER\tURL")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Fingerprint, e.Owner, e.URL)
			}
			return tw.Flush()
		})
	},
}

var shareCmd = &cobra.Command{
	Use:   "share <fingerprint> <doctor-address>",
	Short: "Grant a registered doctor read access to one of your documents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeAccess(cmd, args, func(ctx context.Context, a *app.App, fp string, doctor common.Address) (*model.AccessChange, error) {
			return a.Access.Share(ctx, fp, doctor)
		})
	},
}

var unshareCmd = &cobra.Command{
	Use:   "unshare <fingerprint> <doctor-address>",
	Short: "Revoke a doctor's read access to one of your documents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeAccess(cmd, args, func(ctx context.Context, a *app.App, fp string, doctor common.Address) (*model.AccessChange, error) {
			return a.Access.Unshare(ctx, fp, doctor)
		})
	},
}

func changeAccess(cmd *cobra.Command, args []string, change func(context.Context, *app.App, string, common.Address) (*model.AccessChange, error)) error {
	if !common.IsHexAddress(args[1]) {
		return fmt.Errorf("%q is not an address", args[1])
	}
	doctor := common.HexToAddress(args[1])
	return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
		result, err := change(ctx, a, args[0], doctor)
		if err != nil {
			return err
		}
		printChange(cmd, result)
		return nil
	})
}

var doctorsCmd = &cobra.Command{
	Use:   "doctors",
	Short: "List registered doctors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
			doctors, err := a.Access.Doctors(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(doctors) == 0 {
				fmt.Fprintln(out, "No registered doctors.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ADDRESS\tNAME\tSPECIALIZATION")
			for _, d := range doctors {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Address, d.Name, d.Specialization)
			}
			return tw.Flush()
		})
	},
}

var (
	doctorName           string
	doctorSpecialization string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Manage your doctor registration",
}

var doctorRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the active account as a doctor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
			result, err := a.Access.RegisterDoctor(ctx, doctorName, doctorSpecialization)
			if err != nil {
				return err
			}
			printChange(cmd, result)
			return nil
		})
	},
}

func printChange(cmd *cobra.Command, c *model.AccessChange) {
	out := cmd.OutOrStdout()
	color.New(color.FgGreen).Fprintf(out, "%s confirmed in block %d\n", c.Action, c.Block)
	fmt.Fprintf(out, "Transaction: %s\n", c.TxHash)
}

func init() {
	documentsCmd.Flags().StringVar(&documentsView, "view", string(model.RolePatient), "patient (documents you own) or doctor (documents shared with you)")
	doctorRegisterCmd.Flags().StringVar(&doctorName, "name", "", "your name")
	doctorRegisterCmd.Flags().StringVar(&doctorSpecialization, "specialization", "", "your specialization")
	doctorRegisterCmd.MarkFlagRequired("name")
	doctorRegisterCmd.MarkFlagRequired("specialization")
	doctorCmd.AddCommand(doctorRegisterCmd)

	rootCmd.AddCommand(documentsCmd, shareCmd, unshareCmd, doctorsCmd, doctorCmd)
}
