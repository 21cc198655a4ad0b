package hd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/go-keyring/internal/config"
	"github/chapool/go-keyring/internal/keyring"
	hdkeyring "github/chapool/go-keyring/internal/keyring/hd"
	"github/chapool/go-keyring/internal/keyring/seed"
	"github/chapool/go-keyring/internal/keyring/vault"
	"github/chapool/go-keyring/internal/util/command"
)

const (
	countFlag    = "count"
	generateFlag = "generate"
	vaultFlag    = "vault"
	lightKDFFlag = "light-kdf"

	defaultEntropySourceID = "cli"
)

type deriveOptions struct {
	count     int
	generate  bool
	vaultPath string
	scrypt    vault.ScryptParams
}

func newDerive() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derives accounts from a mnemonic",
		Long: `Reads a BIP-39 mnemonic from the terminal (or stdin) and derives the first
accounts along the configured HD path. With --generate a new mnemonic is
created and printed to stderr instead. With --vault the resulting keyring
state is sealed with a password and written to the given file.`,
		Run: func(cmd *cobra.Command, _ []string) {
			var opts deriveOptions
			var err error

			if opts.count, err = cmd.Flags().GetInt(countFlag); err != nil {
				log.Fatal().Err(err).Msgf("Failed to parse args %v", countFlag)
			}
			if opts.generate, err = cmd.Flags().GetBool(generateFlag); err != nil {
				log.Fatal().Err(err).Msgf("Failed to parse args %v", generateFlag)
			}
			if opts.vaultPath, err = cmd.Flags().GetString(vaultFlag); err != nil {
				log.Fatal().Err(err).Msgf("Failed to parse args %v", vaultFlag)
			}
			light, err := cmd.Flags().GetBool(lightKDFFlag)
			if err != nil {
				log.Fatal().Err(err).Msgf("Failed to parse args %v", lightKDFFlag)
			}

			opts.scrypt = vault.DefaultScryptParams()
			if light {
				opts.scrypt = vault.LightScryptParams()
			}

			cfg := config.DefaultServiceConfigFromEnv()
			command.SetupLogger(cfg.Logger)

			secrets := newSecretReader(os.Stdin, os.Stderr)
			if err := runDerive(cmd.Context(), cfg.HD, secrets, os.Stdout, opts); err != nil {
				log.Fatal().Err(err).Msg("Failed to derive accounts")
			}
		},
	}

	cmd.Flags().IntP(countFlag, "n", 1, "Number of accounts to derive.")
	cmd.Flags().Bool(generateFlag, false, "Generate a new mnemonic instead of reading one.")
	cmd.Flags().String(vaultFlag, "", "Seal the keyring state into this file.")
	cmd.Flags().Bool(lightKDFFlag, false, "Use cheaper scrypt parameters for the vault.")

	return cmd
}

func entropySource(cfg config.HDConfig) string {
	if cfg.EntropySourceID == "" {
		return defaultEntropySourceID
	}

	return cfg.EntropySourceID
}

func runDerive(ctx context.Context, cfg config.HDConfig, secrets *secretReader, out io.Writer, opts deriveOptions) error {
	var mnemonic string
	var err error
	if opts.generate {
		mnemonic, err = seed.NewMnemonic()
		if err == nil {
			fmt.Fprintln(secrets.prompt, mnemonic)
		}
	} else {
		mnemonic, err = secrets.read("Mnemonic")
	}
	if err != nil {
		return err
	}

	inner := hdkeyring.NewKeyring(seed.NewManager())
	if err := inner.InitFromMnemonic(ctx, mnemonic, cfg.HDPath); err != nil {
		return err
	}

	entropySourceID := entropySource(cfg)
	w := hdkeyring.NewWrapper(inner, entropySourceID)

	accounts := make([]*keyring.Account, 0, opts.count)
	for i := range opts.count {
		created, err := w.CreateAccounts(ctx, keyring.DeriveIndexOptions{
			EntropySource: entropySourceID,
			GroupIndex:    i,
		})
		if err != nil {
			return err
		}
		accounts = append(accounts, created...)
	}

	log.Debug().Stringer("keyring", w).Int("count", len(accounts)).Msg("Derived accounts")

	if opts.vaultPath != "" {
		if err := sealTo(ctx, w, secrets, opts); err != nil {
			return err
		}
	}

	return command.PrintAccounts(out, accounts)
}

func sealTo(ctx context.Context, w *hdkeyring.Wrapper, secrets *secretReader, opts deriveOptions) error {
	password, err := secrets.read("Vault password")
	if err != nil {
		return err
	}

	state, err := w.Serialize(ctx)
	if err != nil {
		return err
	}

	v, err := vault.Seal(state, password, hdkeyring.KeyringType, opts.scrypt)
	if err != nil {
		return err
	}

	if err := writeVaultFile(opts.vaultPath, v); err != nil {
		return err
	}

	log.Info().Str("path", opts.vaultPath).Str("vaultId", v.ID).Msg("Sealed keyring state")

	return nil
}
