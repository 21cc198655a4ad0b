package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github/chapool/go-keyring/internal/hwerrors"
	"github/chapool/go-keyring/internal/keyring/evm"
)

const (
	// KeyringType is the legacy type name of the hardware keyring.
	KeyringType = "Ledger Hardware"

	// DefaultHDPathTemplate is the Ledger Live layout: one account per BIP-44 account level.
	DefaultHDPathTemplate = "m/44'/60'/%d'/0/0"
)

var ErrUnknownAddress = errors.New("address not found in keyring")

type AccountDetails struct {
	HDPath string `json:"hdPath"`
	Index  int    `json:"index"`
}

// SerializedState is the JSON document the keyring serializes to.
type SerializedState struct {
	HDPathTemplate string                    `json:"hdPathTemplate"`
	Accounts       []string                  `json:"accounts"`
	AccountDetails map[string]AccountDetails `json:"accountDetails"`
}

// Keyring is the legacy hardware keyring. It keeps the addresses unlocked so
// far, in unlock order, along with the path each one lives at.
type Keyring struct {
	device Device

	mu             sync.RWMutex
	hdPathTemplate string
	accounts       []string
	details        map[string]AccountDetails
}

func NewKeyring(device Device, hdPathTemplate string) *Keyring {
	if hdPathTemplate == "" {
		hdPathTemplate = DefaultHDPathTemplate
	}

	return &Keyring{
		device:         device,
		hdPathTemplate: hdPathTemplate,
		details:        make(map[string]AccountDetails),
	}
}

func (k *Keyring) Type() string {
	return KeyringType
}

func (k *Keyring) Device() Device { //nolint:ireturn
	return k.device
}

func (k *Keyring) HDPathTemplate() string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return k.hdPathTemplate
}

// PathFor returns the derivation path of account index.
func (k *Keyring) PathFor(index int) string {
	return fmt.Sprintf(k.HDPathTemplate(), index)
}

// IndexFor is the inverse of PathFor.
func (k *Keyring) IndexFor(path string) (int, bool) {
	var index int
	if _, err := fmt.Sscanf(path, k.HDPathTemplate(), &index); err != nil || index < 0 {
		return 0, false
	}

	return index, k.PathFor(index) == path
}

func (k *Keyring) Accounts(_ context.Context) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.accounts), nil
}

func (k *Keyring) Details(address string) (AccountDetails, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	d, ok := k.details[address]
	return d, ok
}

// AddAccountAt unlocks the device at account index and appends the resulting
// address. An address already present is returned as is.
func (k *Keyring) AddAccountAt(ctx context.Context, index int) (string, error) {
	hdPath := k.PathFor(index)

	unlocked, err := k.device.Unlock(ctx, hdPath)
	if err != nil {
		return "", hwerrors.Normalize(err)
	}
	if !common.IsHexAddress(unlocked) {
		return "", hwerrors.New(hwerrors.Options{
			Code:     hwerrors.CodeProtocolInvalidResponse,
			Message:  fmt.Sprintf("device returned invalid address %q", unlocked),
			Metadata: map[string]any{"hdPath": hdPath},
		})
	}
	address := common.HexToAddress(unlocked).Hex()

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.details[address]; ok {
		return address, nil
	}
	k.accounts = append(k.accounts, address)
	k.details[address] = AccountDetails{HDPath: hdPath, Index: index}

	return address, nil
}

func (k *Keyring) RemoveAccount(_ context.Context, address string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	i := slices.Index(k.accounts, address)
	if i < 0 {
		return errors.Wrapf(ErrUnknownAddress, "address %s", address)
	}
	k.accounts = slices.Delete(k.accounts, i, i+1)
	delete(k.details, address)

	return nil
}

func (k *Keyring) pathOf(address common.Address) (string, error) {
	d, ok := k.Details(address.Hex())
	if !ok {
		return "", errors.Wrapf(ErrUnknownAddress, "address %s", address.Hex())
	}

	return d.HDPath, nil
}

func signatureMismatch(address common.Address, hdPath string) error {
	return hwerrors.New(hwerrors.Options{
		Code:     hwerrors.CodeCryptoSignatureFailed,
		Message:  "device signature does not recover to " + address.Hex(),
		Metadata: map[string]any{"hdPath": hdPath},
	})
}

// SignTransaction has the device sign tx and returns the signed transaction.
func (k *Keyring) SignTransaction(ctx context.Context, address common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	hdPath, err := k.pathOf(address)
	if err != nil {
		return nil, err
	}

	sig, err := k.device.SignTransaction(ctx, hdPath, tx, chainID)
	if err != nil {
		return nil, hwerrors.Normalize(err)
	}

	sig, err = evm.NormalizeRecoveryID(sig)
	if err != nil {
		return nil, hwerrors.New(hwerrors.Options{
			Code:  hwerrors.CodeProtocolInvalidResponse,
			Cause: err,
		})
	}

	signer := types.LatestSignerForChainID(chainID)
	signedTx, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, hwerrors.New(hwerrors.Options{
			Code:  hwerrors.CodeCryptoSignatureFailed,
			Cause: err,
		})
	}

	sender, err := types.Sender(signer, signedTx)
	if err != nil || sender != address {
		return nil, signatureMismatch(address, hdPath)
	}

	return signedTx, nil
}

// SignPersonalMessage returns the EIP-191 signature of message with v in {27, 28}.
func (k *Keyring) SignPersonalMessage(ctx context.Context, address common.Address, message []byte) ([]byte, error) {
	hdPath, err := k.pathOf(address)
	if err != nil {
		return nil, err
	}

	sig, err := k.device.SignPersonalMessage(ctx, hdPath, message)
	if err != nil {
		return nil, hwerrors.Normalize(err)
	}

	sig, err = evm.NormalizeRecoveryID(sig)
	if err != nil {
		return nil, hwerrors.New(hwerrors.Options{
			Code:  hwerrors.CodeProtocolInvalidResponse,
			Cause: err,
		})
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil || crypto.PubkeyToAddress(*pub) != address {
		return nil, signatureMismatch(address, hdPath)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

func (k *Keyring) Serialize(_ context.Context) (json.RawMessage, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return json.Marshal(&SerializedState{
		HDPathTemplate: k.hdPathTemplate,
		Accounts:       k.accounts,
		AccountDetails: k.details,
	})
}

func (k *Keyring) Deserialize(_ context.Context, data json.RawMessage) error {
	var state SerializedState
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, "failed to decode hardware keyring state")
	}

	// Addresses are kept in checksum form whatever case the state used.
	stored := make(map[string]AccountDetails, len(state.AccountDetails))
	for addr, d := range state.AccountDetails {
		if !common.IsHexAddress(addr) {
			return errors.Errorf("hardware keyring state has invalid address %q", addr)
		}
		stored[common.HexToAddress(addr).Hex()] = d
	}

	accounts := make([]string, 0, len(state.Accounts))
	details := make(map[string]AccountDetails, len(state.Accounts))
	for _, addr := range state.Accounts {
		if !common.IsHexAddress(addr) {
			return errors.Errorf("hardware keyring state has invalid address %q", addr)
		}
		address := common.HexToAddress(addr).Hex()
		if _, dup := details[address]; dup {
			continue
		}

		d, ok := stored[address]
		if !ok {
			return errors.Errorf("hardware keyring state has no details for %s", addr)
		}
		accounts = append(accounts, address)
		details[address] = d
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if state.HDPathTemplate != "" {
		k.hdPathTemplate = state.HDPathTemplate
	}
	k.accounts = accounts
	k.details = details

	return nil
}
