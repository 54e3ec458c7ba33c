package cmds

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/solace/pkg/app"
	"github.com/go-go-golems/solace/pkg/events"
	"github.com/go-go-golems/solace/pkg/helpers"
	"github.com/go-go-golems/solace/pkg/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat channels and the question endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(cmd, map[string]string{
				"address":   "server.address",
				"avatar":    "render.enabled",
				"audit-log": "server.audit-log",
				"partials":  "session.partials",
			}); err != nil {
				return err
			}
			s, err := loadSettings(true)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			router, err := events.NewEventRouter(events.WithLogger(helpers.NewWatermill(log.Logger)))
			if err != nil {
				return err
			}

			var appOptions []app.Option
			if s.Server.AuditLog {
				router.AddHandler("audit-log", events.TopicTurns, router.LogEvents)
				appOptions = append(appOptions, app.WithEventSink(router.Sink(events.TopicTurns)))
			}

			a, err := app.Build(ctx, s, appOptions...)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close backends")
				}
			}()

			serverOptions, err := a.ServerOptions()
			if err != nil {
				return err
			}
			srv := server.New(serverOptions...)
			httpServer := &http.Server{
				Addr:              s.Server.Address,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: s.Server.ReadHeaderTimeout,
			}

			eg, ctx := errgroup.WithContext(ctx)
			if s.Server.AuditLog {
				eg.Go(func() error {
					return router.Run(ctx)
				})
			}
			eg.Go(func() error {
				if s.Server.AuditLog {
					<-router.Running()
				}
				log.Info().
					Str("address", s.Server.Address).
					Bool("avatar", a.Avatar != nil).
					Bool("audio", a.Transcriber != nil).
					Msg("Serving")
				err := httpServer.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			eg.Go(func() error {
				<-ctx.Done()
				log.Info().Msg("Shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Server.ShutdownTimeout)
				defer cancel()
				err := httpServer.Shutdown(shutdownCtx)
				srv.Close()
				_ = router.Close()
				return err
			})

			return eg.Wait()
		},
	}

	cmd.Flags().String("address", ":8000", "Listen address")
	cmd.Flags().Bool("avatar", false, "Serve the avatar chat channel")
	cmd.Flags().Bool("audit-log", false, "Log every turn event")
	cmd.Flags().Bool("partials", false, "Stream pipeline events to chat clients")

	return cmd
}
