package hd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/go-keyring/internal/keyring"
	"github/chapool/go-keyring/internal/keyring/evm"
	"github/chapool/go-keyring/internal/util"
)

var methods = []string{
	keyring.MethodPersonalSign,
	keyring.MethodSignTransaction,
	keyring.MethodSignTypedDataV4,
}

// Wrapper adapts the HD keyring to keyring.Keyring. Accounts are materialized
// strictly in sequence: group index i exists iff every index below it exists,
// and only the highest index may be removed.
type Wrapper struct {
	*keyring.Core[*Keyring]

	entropySourceID string
}

var (
	_ keyring.Keyring  = (*Wrapper)(nil)
	_ keyring.Exporter = (*Wrapper)(nil)
)

func NewWrapper(inner *Keyring, entropySourceID string) *Wrapper {
	w := &Wrapper{entropySourceID: entropySourceID}
	w.Core = keyring.NewCore(inner, keyring.MaterializerFunc(w.materialize))

	return w
}

func (w *Wrapper) EntropySourceID() string {
	return w.entropySourceID
}

// materialize labels address with the index it was derived at. The inner
// position only stands in when the inner keyring no longer knows the address.
func (w *Wrapper) materialize(_ context.Context, id keyring.AccountID, address string, position int, cached *keyring.Account) (*keyring.Account, error) {
	index, ok := w.Inner().IndexOf(address)
	if !ok {
		index = position
	}
	path := childPath(w.Inner().HDPath(), index)

	if cached != nil && cached.Options.Entropy != nil &&
		cached.Options.Entropy.GroupIndex == index &&
		cached.Options.Entropy.DerivationPath == path {
		return cached, nil
	}

	exportable := true

	return &keyring.Account{
		ID:      id,
		Type:    keyring.AccountTypeEOA,
		Address: address,
		Scopes:  []keyring.Scope{keyring.ScopeEVMAny},
		Methods: methods,
		Options: keyring.AccountOptions{
			Entropy: &keyring.EntropyOptions{
				Type:           keyring.EntropyTypeMnemonic,
				ID:             w.entropySourceID,
				GroupIndex:     index,
				DerivationPath: path,
			},
			Exportable: &exportable,
		},
	}, nil
}

// groupIndex maps creation options onto the group index they request.
func (w *Wrapper) groupIndex(opts keyring.CreateAccountOptions) (int, error) {
	if err := keyring.ValidateCreateAccountOptions(opts); err != nil {
		return 0, err
	}

	var entropySource string
	var index int

	switch o := opts.(type) {
	case keyring.DeriveIndexOptions:
		entropySource, index = o.EntropySource, o.GroupIndex
	case keyring.DiscoverOptions:
		entropySource, index = o.EntropySource, o.GroupIndex
	case keyring.DerivePathOptions:
		i, err := indexFromPath(w.Inner().HDPath(), o.DerivationPath)
		if err != nil {
			return 0, err
		}
		entropySource, index = o.EntropySource, i
	case keyring.PrivateKeyImportOptions:
		return 0, errors.Wrap(keyring.ErrUnsupportedOptions, "HD keyring cannot import private keys")
	default:
		return 0, errors.Wrapf(keyring.ErrUnsupportedOptions, "unexpected options %T", opts)
	}

	if entropySource != w.entropySourceID {
		return 0, errors.Wrapf(keyring.ErrEntropyMismatch, "entropy source %s, keyring uses %s", entropySource, w.entropySourceID)
	}

	return index, nil
}

// CreateAccounts returns the cached account for an existing index, derives
// exactly one account when the index is the next one after the highest index
// held, and fails otherwise.
func (w *Wrapper) CreateAccounts(ctx context.Context, opts keyring.CreateAccountOptions) ([]*keyring.Account, error) {
	index, err := w.groupIndex(opts)
	if err != nil {
		return nil, err
	}

	var created []*keyring.Account
	err = w.Mutate(ctx, func(ctx context.Context) error {
		accounts, err := w.Reconcile(ctx)
		if err != nil {
			return err
		}

		for _, acc := range accounts {
			if acc.Options.Entropy != nil && acc.Options.Entropy.GroupIndex == index {
				created = []*keyring.Account{acc}
				return nil
			}
		}

		if next := w.Inner().NextIndex(); index != next {
			return errors.Wrapf(keyring.ErrNonSequentialIndex,
				"cannot create account at index %d, next index must be %d", index, next)
		}

		added, err := w.Inner().AddAccounts(ctx, 1)
		if err != nil {
			return errors.Wrap(err, "failed to add account to HD keyring")
		}

		acc, err := w.Track(ctx, added[0], len(accounts))
		if err != nil {
			return err
		}

		util.LogFromContext(ctx).Info().
			Str("account_id", acc.ID).
			Str("address", acc.Address).
			Int("group_index", index).
			Msg("Created HD account")

		created = []*keyring.Account{acc}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// DeleteAccount removes id if its address is last in the inner keyring.
func (w *Wrapper) DeleteAccount(ctx context.Context, id keyring.AccountID) error {
	return w.Mutate(ctx, func(ctx context.Context) error {
		acc, err := w.GetAccount(ctx, id)
		if err != nil {
			return err
		}

		addresses, err := w.Inner().Accounts(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to list HD keyring accounts")
		}

		if len(addresses) == 0 || addresses[len(addresses)-1] != acc.Address {
			return errors.Wrapf(keyring.ErrNotLastAccount, "account %s (%s)", id, acc.Address)
		}

		if err := w.Inner().RemoveAccount(ctx, acc.Address); err != nil {
			return errors.Wrap(err, "failed to remove account from HD keyring")
		}
		w.Forget(id)

		util.LogFromContext(ctx).Info().
			Str("account_id", id).
			Str("address", acc.Address).
			Msg("Deleted HD account")

		return nil
	})
}

func (w *Wrapper) ExportAccount(ctx context.Context, id keyring.AccountID, opts keyring.ExportAccountOptions) (*keyring.ExportedAccount, error) {
	encoding := keyring.EncodingHex
	switch o := opts.(type) {
	case nil:
	case keyring.PrivateKeyExportOptions:
		if o.Encoding != "" {
			encoding = o.Encoding
		}
	default:
		return nil, errors.Wrapf(keyring.ErrUnsupportedOptions, "unexpected export options %T", opts)
	}

	if encoding != keyring.EncodingHex && encoding != keyring.EncodingHexPrefixed {
		return nil, errors.Wrapf(keyring.ErrInvalidOptions, "unknown encoding %q", encoding)
	}

	acc, err := w.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	key, err := w.Inner().ExportAccount(ctx, acc.Address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to export account")
	}
	defer clear(key)

	encoded := hex.EncodeToString(key)
	if encoding == keyring.EncodingHexPrefixed {
		encoded = "0x" + encoded
	}

	return &keyring.ExportedAccount{
		Type:       "private-key",
		PrivateKey: encoded,
	}, nil
}

// SubmitRequest signs synchronously; the response is never pending.
func (w *Wrapper) SubmitRequest(ctx context.Context, req *keyring.Request) (*keyring.Response, error) {
	acc, err := w.AccountForRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	address := common.HexToAddress(acc.Address)

	var result json.RawMessage
	switch req.Request.Method {
	case keyring.MethodPersonalSign:
		result, err = w.personalSign(ctx, address, req.Request.Params)
	case keyring.MethodSignTransaction:
		result, err = w.signTransaction(ctx, address, req.Request.Params)
	case keyring.MethodSignTypedDataV4:
		result, err = w.signTypedData(ctx, address, req.Request.Params)
	default:
		err = errors.Wrapf(keyring.ErrMethodNotSupported, "method %q", req.Request.Method)
	}
	if err != nil {
		return nil, err
	}

	return &keyring.Response{Result: result}, nil
}

func (w *Wrapper) personalSign(ctx context.Context, address common.Address, params json.RawMessage) (json.RawMessage, error) {
	message, signer, err := evm.ParsePersonalSignParams(params)
	if err != nil {
		return nil, errors.Wrap(keyring.ErrInvalidParams, err.Error())
	}
	if signer != address {
		return nil, errors.Wrapf(keyring.ErrInvalidParams, "params address %s does not match account", signer.Hex())
	}

	sig, err := w.Inner().SignPersonalMessage(ctx, address, message)
	if err != nil {
		return nil, err
	}

	return evm.EncodeSignature(sig)
}

func (w *Wrapper) signTransaction(ctx context.Context, address common.Address, params json.RawMessage) (json.RawMessage, error) {
	txReq, err := evm.ParseTransactionParams(params)
	if err != nil {
		return nil, errors.Wrap(keyring.ErrInvalidParams, err.Error())
	}

	tx, chainID, err := txReq.ToTransaction()
	if err != nil {
		return nil, errors.Wrap(keyring.ErrInvalidParams, err.Error())
	}

	signedTx, err := w.Inner().SignTransaction(ctx, address, tx, chainID)
	if err != nil {
		return nil, err
	}

	return evm.EncodeSigned(signedTx)
}

func (w *Wrapper) signTypedData(ctx context.Context, address common.Address, params json.RawMessage) (json.RawMessage, error) {
	typed, signer, err := evm.ParseTypedDataParams(params)
	if err != nil {
		return nil, errors.Wrap(keyring.ErrInvalidParams, err.Error())
	}
	if signer != address {
		return nil, errors.Wrapf(keyring.ErrInvalidParams, "params address %s does not match account", signer.Hex())
	}

	sig, err := w.Inner().SignTypedData(ctx, address, typed)
	if err != nil {
		return nil, err
	}

	return evm.EncodeSignature(sig)
}

// String is used by the CLI when listing keyrings.
func (w *Wrapper) String() string {
	return fmt.Sprintf("%s(%s)", w.Inner().Type(), w.entropySourceID)
}
