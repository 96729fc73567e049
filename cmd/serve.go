package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	handlers "medshare/handler"
	"medshare/internal/app"
	docHandler "medshare/internal/document"
	"medshare/internal/wallet"
	"medshare/pkg/logger"
	"medshare/router"
	"medshare/socket"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the WebSocket event feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		// The server cannot prompt; calling the API is the approval.
		a, err := app.New(ctx, cfg, wallet.AutoApprove)
		if err != nil {
			return err
		}
		defer a.Close()

		account, err := a.Connect(ctx)
		if err != nil {
			return err
		}
		logger.Log.Info("signing as", zap.String("account", account.Hex()))

		hub := socket.NewHub()
		defer hub.Attach(a.Bus)()
		defer a.Session.OnChange(hub.Announce)()
		go hub.Run(ctx)

		var activity docHandler.ActivityLog
		if a.Activity != nil {
			activity = a.Activity
		}
		docs := docHandler.NewDocumentHandler(a.Uploads, a.Access, a.Session, activity, cfg.Network)
		if cfg.Auth.JWTSecret == "" {
			logger.Log.Warn("MEDSHARE_JWT_SECRET is not set; authenticated routes will reject every request")
		}

		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router.Setup(docs, handlers.NewHealthHandler(a.Ledger), hub, router.Options{JWTSecret: cfg.Auth.JWTSecret, Blobs: a.Blobs}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Sugar.Infof("medshare listening on %s", cfg.ListenAddr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
