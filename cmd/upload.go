package cmd

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"medshare/internal/app"
	"medshare/internal/document/model"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a medical file and register it on the ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		file := model.File{Name: filepath.Base(args[0]), MediaType: mediaType(args[0], data), Data: data}

		return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()
			fee, err := a.Uploads.QuoteFee(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Upload fee: %s %s\n", model.FormatEther(fee), cfg.Network.Currency.Symbol)

			attempt, err := a.Uploads.Upload(ctx, file, func(u model.UploadAttempt) {
				fmt.Fprintf(out, "  %s\n", u.State)
			})
			if err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(out, "Document registered")
			fmt.Fprintf(out, "Fingerprint: %s\n", attempt.Fingerprint)
			fmt.Fprintf(out, "Transaction: %s\n", attempt.TxHash)
			fmt.Fprintf(out, "URL:         %s\n", attempt.URL)
			return nil
		})
	},
}

func mediaType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}
