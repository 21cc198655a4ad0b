package command

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-keyring/internal/bridge"
	"github/chapool/go-keyring/internal/config"
)

// SetupLogger applies the logger config to the global zerolog logger.
func SetupLogger(cfg config.LoggerConfig) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(cfg.Level)

	if cfg.PrettyPrintConsole {
		log.Logger = log.Output(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.TimeFormat = "15:04:05"
		}))
	}
}

// WithBridge sets up logging, opens a bridge to the configured device relay and
// runs f with it. The bridge is destroyed once f returns.
func WithBridge(ctx context.Context, cfg config.Server, dialer bridge.Dialer, f func(ctx context.Context, b *bridge.Bridge) error) error {
	SetupLogger(cfg.Logger)

	if dialer == nil {
		dialer = &bridge.WebsocketDialer{Origin: cfg.Bridge.ExpectedOrigin}
	}

	b, err := bridge.New(cfg.Bridge, dialer, prometheus.NewRegistry())
	if err != nil {
		return errors.Wrap(err, "failed to create bridge")
	}
	defer b.Destroy()

	ctx = log.Logger.With().Str("target", cfg.Bridge.Target).Logger().WithContext(ctx)

	return f(ctx, b)
}

func NewSubcommandGroup(name string, subCommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("%s related subcommands", name),
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Error().Err(err).Msg("Failed to print help")
			}
		},
	}

	cmd.AddCommand(subCommands...)

	return cmd
}
