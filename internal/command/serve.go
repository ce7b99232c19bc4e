package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamavenir/murmur/internal/logger"
	"github.com/adamavenir/murmur/internal/metrics"
	"github.com/adamavenir/murmur/internal/push/wsfeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay the workspace feed to websocket clients",
		Long:  "Serve the workspace event feed at /feed for clients configured with the ws transport, plus /metrics and /healthz.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			addr, _ := cmd.Flags().GetString("addr")
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			mux := http.NewServeMux()
			mux.Handle("/feed", wsfeed.NewServer(ctx.Local))
			mux.Handle("/metrics", metrics.Handler(reg))
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok\n"))
			})
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				errc <- srv.ListenAndServe()
			}()
			logger.Info("serving feed", "addr", addr, "workspace", ctx.Workspace.Dir)
			fmt.Fprintf(cmd.OutOrStdout(), "serving ws://%s/feed (Ctrl+C to stop)\n", addr)

			select {
			case err := <-errc:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return writeCommandError(cmd, err)
				}
				return nil
			case <-runCtx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return writeCommandError(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:7420", "listen address")
	return cmd
}
