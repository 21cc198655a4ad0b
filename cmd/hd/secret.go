package hd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github/chapool/go-keyring/internal/keyring/vault"
	"golang.org/x/term"
)

// secretReader prompts for hidden input on a terminal and falls back to
// reading one line per secret from piped input.
type secretReader struct {
	in     *os.File
	buf    *bufio.Reader
	prompt io.Writer
}

func newSecretReader(in *os.File, prompt io.Writer) *secretReader {
	return &secretReader{
		in:     in,
		buf:    bufio.NewReader(in),
		prompt: prompt,
	}
}

func (s *secretReader) read(label string) (string, error) {
	fd := int(s.in.Fd()) //nolint:gosec // file descriptors fit in int
	if term.IsTerminal(fd) {
		fmt.Fprintf(s.prompt, "%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(s.prompt)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read %s", strings.ToLower(label))
		}

		return string(raw), nil
	}

	line, err := s.buf.ReadString('\n')
	if err != nil && line == "" {
		return "", errors.Wrapf(err, "failed to read %s from stdin", strings.ToLower(label))
	}

	return strings.TrimSpace(line), nil
}

func writeVaultFile(path string, v *vault.Vault) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal vault")
	}

	//nolint:mnd
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write vault %s", path)
	}

	return nil
}

func readVaultFile(path string) (*vault.Vault, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read vault %s", path)
	}

	var v vault.Vault
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrapf(err, "failed to decode vault %s", path)
	}

	return &v, nil
}
