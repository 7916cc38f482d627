package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/visa-checklist/internal/api"
	"github.com/sells-group/visa-checklist/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the checklist API and the document validation sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Queue is a typed pointer; pass a nil interface when it is off.
		var trigger api.Trigger
		if env.Queue != nil {
			trigger = env.Queue
			go func() {
				if err := env.Queue.Run(ctx); err != nil {
					zap.L().Error("validation sweep stopped", zap.String("category", string(model.CategoryInternal)), zap.Error(err))
				}
			}()
		}

		srv := api.New(env.Generations, env.Store, trigger, api.Config{AllowedOrigins: cfg.Server.AllowedOrigins})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: srv.Handler(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			_ = httpSrv.Shutdown(sctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("sweep", env.Queue != nil))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
