package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shoma-endo/lark-mcp-bot/internal/lark"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Lark event webhook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.LarkEnabled() {
				return errors.New("LARK_APP_ID and LARK_APP_SECRET are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client := lark.NewClient(a.cfg.LarkAppID, a.cfg.LarkAppSecret, a.cfg.LarkBaseURL, a.logger)
			rt, err := a.startRuntime(ctx, client)
			if err != nil {
				return err
			}
			defer rt.Close()
			go rt.reloadOnHangup(ctx)

			webhook := lark.NewWebhook(lark.WebhookConfig{
				VerificationToken: a.cfg.LarkVerificationToken,
				EncryptKey:        a.cfg.LarkEncryptKey,
				Async:             true,
			}, rt.HandleEvent, a.logger)

			mux := http.NewServeMux()
			mux.Handle("/webhook/event", webhook)
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			srv := &http.Server{
				Addr:              a.cfg.ListenAddr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", "addr", a.cfg.ListenAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("http shutdown", "error", err)
			}
			webhook.Wait()
			return nil
		},
	}
}
