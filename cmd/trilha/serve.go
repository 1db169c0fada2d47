package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rahul/trilha/internal/gateway"
	"github.com/rahul/trilha/internal/observability"
	"github.com/rahul/trilha/internal/reminder"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram gateway and the reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			tgCfg, ok := a.cfg.Telegram()
			if !ok {
				return errors.New("telegram gateway is not enabled")
			}

			observability.PrintBanner(os.Stdout,
				fmt.Sprintf("%s %s", a.cfg.App.Name, Version),
				"db: "+a.cfg.Memory.Path)

			commands := gateway.NewCommands(a.dispatcher, a.board, a.log.Named("commands"))
			tg, err := gateway.NewTelegramGateway(tgCfg.Token, commands, a.log.Named("telegram"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.Reminders.Enabled {
				timeline := observability.NewTimeline(a.store, a.log.Named("timeline"))
				sched := reminder.NewScheduler(a.store, tg, a.cfg.Reminders.Interval, timeline, a.log.Named("reminder"))
				go sched.Start(ctx)
			}

			errc := make(chan error, 1)
			go func() { errc <- tg.Start(ctx) }()

			select {
			case <-ctx.Done():
			case err = <-errc:
				if err != nil && !errors.Is(err, context.Canceled) {
					a.log.Error("gateway stopped", zap.Error(err))
				}
			}
			if stopErr := tg.Stop(); stopErr != nil {
				a.log.Warn("failed to stop gateway", zap.Error(stopErr))
			}
			a.log.Info("shutdown complete")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
