package probe

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-keyring/internal/bridge"
	"github/chapool/go-keyring/internal/config"
	"github/chapool/go-keyring/internal/util"
	"github/chapool/go-keyring/internal/util/command"
)

const waitFlag = "wait"

func newBridge() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Checks that the device relay is reachable",
		Long: `Opens the bridge channel to the configured device relay and reports its state.
Exits with code 1 if the channel cannot be established.`,
		Run: func(cmd *cobra.Command, _ []string) {
			verbose, err := cmd.Flags().GetBool(verboseFlag)
			if err != nil {
				log.Fatal().Err(err).Msgf("Failed to parse args %v", verboseFlag)
			}

			wait, err := cmd.Flags().GetDuration(waitFlag)
			if err != nil {
				log.Fatal().Err(err).Msgf("Failed to parse args %v", waitFlag)
			}

			cfg := config.DefaultServiceConfigFromEnv()
			err = command.WithBridge(cmd.Context(), cfg, nil, func(ctx context.Context, b *bridge.Bridge) error {
				return runBridge(ctx, b, verbose, wait)
			})
			if err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Show verbose output.")
	cmd.Flags().Duration(waitFlag, 0, "Wait this long for a device connectivity announcement.")

	return cmd
}

func runBridge(ctx context.Context, b *bridge.Bridge, verbose bool, wait time.Duration) error {
	b.Init(ctx)

	state := b.State()
	if verbose {
		fmt.Printf("target: %s\nstate: %s\n", b.Target(), state)
	}

	if state != bridge.StateReady {
		util.LogFromContext(ctx).Error().Str("state", state.String()).Msg("Bridge probe failed")
		return errors.Errorf("bridge is %s", state)
	}

	if wait > 0 {
		connected := make(chan bool, 1)
		b.OnConnectivityChange(func(c bool) {
			select {
			case connected <- c:
			default:
			}
		})

		select {
		case <-connected:
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}

	if verbose {
		fmt.Printf("device connected: %t\n", b.IsConnected())
	}

	return nil
}
