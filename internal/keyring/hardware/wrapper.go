package hardware

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github/chapool/go-keyring/internal/keyring"
	"github/chapool/go-keyring/internal/keyring/evm"
	"github/chapool/go-keyring/internal/util"
)

const EntropyTypeHardware = "hardware"

var methods = []string{
	keyring.MethodPersonalSign,
	keyring.MethodSignTransaction,
}

// Wrapper adapts the hardware keyring to keyring.Keyring. Any account index may
// be created in any order, and any account may be removed.
type Wrapper struct {
	*keyring.Core[*Keyring]

	entropySourceID string
}

var (
	_ keyring.Keyring     = (*Wrapper)(nil)
	_ keyring.Initializer = (*Wrapper)(nil)
)

func NewWrapper(inner *Keyring, entropySourceID string) *Wrapper {
	w := &Wrapper{entropySourceID: entropySourceID}
	w.Core = keyring.NewCore(inner, keyring.MaterializerFunc(w.materialize))

	return w
}

// Init opens the device channel if the device needs one. Failures surface on
// the first device request.
func (w *Wrapper) Init(ctx context.Context) {
	if i, ok := w.Inner().Device().(keyring.Initializer); ok {
		i.Init(ctx)
	}
}

func (w *Wrapper) IsDeviceConnected() bool {
	return w.Inner().Device().IsConnected()
}

func (w *Wrapper) materialize(_ context.Context, id keyring.AccountID, address string, _ int, cached *keyring.Account) (*keyring.Account, error) {
	details, ok := w.Inner().Details(address)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAddress, "no details for %s", address)
	}

	if cached != nil && cached.Options.Entropy != nil &&
		cached.Options.Entropy.GroupIndex == details.Index &&
		cached.Options.Entropy.DerivationPath == details.HDPath {
		return cached, nil
	}

	exportable := false

	return &keyring.Account{
		ID:      id,
		Type:    keyring.AccountTypeEOA,
		Address: address,
		Scopes:  []keyring.Scope{keyring.ScopeEVMAny},
		Methods: methods,
		Options: keyring.AccountOptions{
			Entropy: &keyring.EntropyOptions{
				Type:           EntropyTypeHardware,
				ID:             w.entropySourceID,
				GroupIndex:     details.Index,
				DerivationPath: details.HDPath,
			},
			Exportable: &exportable,
		},
	}, nil
}

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
		i, ok := w.Inner().IndexFor(o.DerivationPath)
		if !ok {
			return 0, errors.Wrapf(keyring.ErrInvalidOptions,
				"derivation path %s does not follow %s", o.DerivationPath, w.Inner().HDPathTemplate())
		}
		entropySource, index = o.EntropySource, i
	case keyring.PrivateKeyImportOptions:
		return 0, errors.Wrap(keyring.ErrUnsupportedOptions, "hardware keyring cannot import private keys")
	default:
		return 0, errors.Wrapf(keyring.ErrUnsupportedOptions, "unexpected options %T", opts)
	}

	if entropySource != w.entropySourceID {
		return 0, errors.Wrapf(keyring.ErrEntropyMismatch, "entropy source %s, keyring uses %s", entropySource, w.entropySourceID)
	}

	return index, nil
}

// CreateAccounts returns the cached account at the requested index or unlocks
// exactly that index on the device.
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
			if acc.GroupIndex() == index {
				created = []*keyring.Account{acc}
				return nil
			}
		}

		address, err := w.Inner().AddAccountAt(ctx, index)
		if err != nil {
			return err
		}

		addresses, err := w.Inner().Accounts(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to list hardware keyring accounts")
		}

		acc, err := w.Track(ctx, address, slices.Index(addresses, address))
		if err != nil {
			return err
		}

		util.LogFromContext(ctx).Info().
			Str("account_id", acc.ID).
			Str("address", acc.Address).
			Int("group_index", index).
			Msg("Created hardware account")

		created = []*keyring.Account{acc}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

func (w *Wrapper) DeleteAccount(ctx context.Context, id keyring.AccountID) error {
	return w.Mutate(ctx, func(ctx context.Context) error {
		acc, err := w.GetAccount(ctx, id)
		if err != nil {
			return err
		}

		if err := w.Inner().RemoveAccount(ctx, acc.Address); err != nil {
			return errors.Wrap(err, "failed to remove account from hardware keyring")
		}
		w.Forget(id)

		util.LogFromContext(ctx).Info().
			Str("account_id", id).
			Str("address", acc.Address).
			Msg("Deleted hardware account")

		return nil
	})
}

// SubmitRequest waits for the device; the response is never pending. Device
// failures are returned as *hwerrors.HardwareWalletError.
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
	default:
		return nil, errors.Wrapf(keyring.ErrMethodNotSupported, "method %q", req.Request.Method)
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
