package hardware

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-keyring/internal/bridge"
	"github/chapool/go-keyring/internal/config"
	"github/chapool/go-keyring/internal/hwerrors"
	"github/chapool/go-keyring/internal/keyring"
	hwkeyring "github/chapool/go-keyring/internal/keyring/hardware"
	"github/chapool/go-keyring/internal/util"
	"github/chapool/go-keyring/internal/util/command"
)

const (
	indexFlag = "index"

	defaultEntropySourceID = "hardware"
)

func newAccounts() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Lists device accounts at the given indices",
		Long: `Connects to the device relay configured through KEYRING_BRIDGE_* and unlocks
the device at each requested account index. Indices need not be contiguous.`,
		Run: func(cmd *cobra.Command, _ []string) {
			indices, err := cmd.Flags().GetIntSlice(indexFlag)
			if err != nil {
				log.Fatal().Err(err).Msgf("Failed to parse args %v", indexFlag)
			}

			cfg := config.DefaultServiceConfigFromEnv()
			err = command.WithBridge(cmd.Context(), cfg, nil, func(ctx context.Context, b *bridge.Bridge) error {
				return runAccounts(ctx, cfg, b, indices)
			})
			if err != nil {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().IntSliceP(indexFlag, "i", []int{0}, "Account indices to unlock.")

	return cmd
}

func runAccounts(ctx context.Context, cfg config.Server, b *bridge.Bridge, indices []int) error {
	device := hwkeyring.NewBridgeDevice(b, cfg.Bridge.RequestTimeout)

	entropySourceID := cfg.Hardware.EntropySourceID
	if entropySourceID == "" {
		entropySourceID = defaultEntropySourceID
	}
	w := hwkeyring.NewWrapper(hwkeyring.NewKeyring(device, cfg.Hardware.HDPathTemplate), entropySourceID)
	w.Init(ctx)

	for _, index := range indices {
		_, err := w.CreateAccounts(ctx, keyring.DeriveIndexOptions{
			EntropySource: entropySourceID,
			GroupIndex:    index,
		})
		if err != nil {
			log := util.LogFromContext(ctx)
			log.Error().Int("index", index).Msg(hwerrors.UserFacingMessage(log, err))
			return err
		}
	}

	accounts, err := w.GetAccounts(ctx)
	if err != nil {
		return err
	}

	return command.PrintAccounts(os.Stdout, accounts)
}
