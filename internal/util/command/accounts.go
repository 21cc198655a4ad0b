package command

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github/chapool/go-keyring/internal/keyring"
	"github/chapool/go-keyring/internal/util"
)

type accountRow struct {
	ID             string `json:"id"`
	Address        string `json:"address"`
	GroupIndex     int    `json:"groupIndex"`
	DerivationPath string `json:"derivationPath,omitempty"`
	Exportable     bool   `json:"exportable"`
}

// PrintAccounts writes accounts to w as an indented JSON array.
func PrintAccounts(w io.Writer, accounts []*keyring.Account) error {
	rows := make([]accountRow, 0, len(accounts))
	for _, acc := range accounts {
		row := accountRow{
			ID:         acc.ID,
			Address:    acc.Address,
			GroupIndex: acc.GroupIndex(),
			Exportable: util.FalseIfNil(acc.Options.Exportable),
		}
		if acc.Options.Entropy != nil {
			row.DerivationPath = acc.Options.Entropy.DerivationPath
		}
		rows = append(rows, row)
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal accounts")
	}

	_, err = fmt.Fprintln(w, string(out))

	return errors.Wrap(err, "failed to print accounts")
}
