package hd

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-keyring/internal/config"
	hdkeyring "github/chapool/go-keyring/internal/keyring/hd"
	"github/chapool/go-keyring/internal/keyring/seed"
	"github/chapool/go-keyring/internal/keyring/vault"
	"github/chapool/go-keyring/internal/util/command"
)

func newOpen() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open <vault>",
		Short: "Restores an HD keyring from a sealed vault",
		Long: `Prompts for the vault password, decrypts the sealed keyring state and
lists the restored accounts.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultServiceConfigFromEnv()
			command.SetupLogger(cfg.Logger)

			secrets := newSecretReader(os.Stdin, os.Stderr)
			if err := runOpen(cmd.Context(), cfg.HD, secrets, os.Stdout, args[0]); err != nil {
				log.Fatal().Err(err).Msg("Failed to open vault")
			}
		},
	}

	return cmd
}

func runOpen(ctx context.Context, cfg config.HDConfig, secrets *secretReader, out io.Writer, path string) error {
	v, err := readVaultFile(path)
	if err != nil {
		return err
	}
	if v.Type != "" && v.Type != hdkeyring.KeyringType {
		return errors.Wrapf(vault.ErrUnsupportedVault, "vault holds %q state", v.Type)
	}

	password, err := secrets.read("Vault password")
	if err != nil {
		return err
	}

	state, err := vault.Open(v, password)
	if err != nil {
		return err
	}

	w := hdkeyring.NewWrapper(hdkeyring.NewKeyring(seed.NewManager()), entropySource(cfg))
	if err := w.Deserialize(ctx, state); err != nil {
		return err
	}

	accounts, err := w.GetAccounts(ctx)
	if err != nil {
		return err
	}

	return command.PrintAccounts(out, accounts)
}
