package hd

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github/chapool/go-keyring/internal/keyring/seed"
)

const (
	// KeyringType is the legacy type name of the software HD keyring.
	KeyringType = "HD Key Tree"

	DefaultHDPath = "m/44'/60'/0'/0"
)

var (
	ErrNotInitialized = errors.New("keyring has no mnemonic")
	ErrUnknownAddress = errors.New("address not found in keyring")
)

type derivedKey struct {
	index      int
	address    common.Address
	privateKey *ecdsa.PrivateKey
}

// SerializedState is the JSON document the keyring serializes to.
// Indices is only written when accounts were removed below the highest index;
// otherwise the accounts are 0..NumberOfAccounts-1.
type SerializedState struct {
	Mnemonic         string `json:"mnemonic"`
	NumberOfAccounts int    `json:"numberOfAccounts"`
	HDPath           string `json:"hdPath"`
	Indices          []int  `json:"indices,omitempty"`
}

// Keyring is the legacy software HD keyring: one mnemonic, accounts derived
// sequentially at <hdPath>/i. It enforces no ordering policy on removal; that
// is the wrapper's job. Each account keeps the index it was derived at, and new
// accounts are derived above the highest index held, so removing an account in
// the middle never causes an index to be derived twice.
type Keyring struct {
	mu     sync.RWMutex
	seeds  seed.Manager
	hdPath string
	root   *bip32.Key
	keys   []*derivedKey
}

func NewKeyring(seeds seed.Manager) *Keyring {
	return &Keyring{
		seeds:  seeds,
		hdPath: DefaultHDPath,
	}
}

func (k *Keyring) Type() string {
	return KeyringType
}

func (k *Keyring) HDPath() string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return k.hdPath
}

// InitFromMnemonic replaces the keyring's secret and drops all accounts.
func (k *Keyring) InitFromMnemonic(_ context.Context, mnemonic string, hdPath string) error {
	if hdPath == "" {
		hdPath = DefaultHDPath
	}

	if err := k.seeds.Initialize(mnemonic, ""); err != nil {
		return errors.Wrap(err, "failed to initialize seed manager")
	}

	masterKey, err := bip32.NewMasterKey(k.seeds.GetSeed())
	if err != nil {
		return errors.Wrap(err, "failed to create master key")
	}

	root, err := deriveKeyFromPath(masterKey, hdPath)
	if err != nil {
		return errors.Wrap(err, "failed to derive root key")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.hdPath = hdPath
	k.root = root
	k.keys = nil

	return nil
}

func (k *Keyring) Accounts(_ context.Context) ([]string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]string, 0, len(k.keys))
	for _, dk := range k.keys {
		out = append(out, dk.address.Hex())
	}

	return out, nil
}

// NextIndex is the index the next AddAccounts derives at.
func (k *Keyring) NextIndex() int {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return k.nextIndex()
}

func (k *Keyring) nextIndex() int {
	next := 0
	for _, dk := range k.keys {
		if dk.index >= next {
			next = dk.index + 1
		}
	}

	return next
}

// IndexOf returns the index address was derived at.
func (k *Keyring) IndexOf(address string) (int, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	target := common.HexToAddress(address)
	for _, dk := range k.keys {
		if dk.address == target {
			return dk.index, true
		}
	}

	return 0, false
}

// AddAccounts derives the next n accounts and returns their addresses.
func (k *Keyring) AddAccounts(_ context.Context, n int) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.root == nil {
		return nil, ErrNotInitialized
	}

	added := make([]string, 0, n)
	for range n {
		dk, err := k.derive(k.nextIndex())
		if err != nil {
			return nil, err
		}
		k.keys = append(k.keys, dk)
		added = append(added, dk.address.Hex())
	}

	return added, nil
}

func (k *Keyring) derive(index int) (*derivedKey, error) {
	child, err := k.root.NewChildKey(uint32(index)) //nolint:gosec // index is bounded by the account count
	if err != nil {
		return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
	}

	privateKey, err := crypto.ToECDSA(child.Key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert to ECDSA private key")
	}

	return &derivedKey{
		index:      index,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		privateKey: privateKey,
	}, nil
}

// RemoveAccount drops address wherever it sits in the account list.
func (k *Keyring) RemoveAccount(_ context.Context, address string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	target := common.HexToAddress(address)
	for i, dk := range k.keys {
		if dk.address == target {
			k.keys = append(k.keys[:i], k.keys[i+1:]...)
			return nil
		}
	}

	return errors.Wrapf(ErrUnknownAddress, "address %s", address)
}

func (k *Keyring) key(address common.Address) (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	for _, dk := range k.keys {
		if dk.address == address {
			return dk.privateKey, nil
		}
	}

	return nil, errors.Wrapf(ErrUnknownAddress, "address %s", address.Hex())
}

// ExportAccount returns the raw private key of address.
// WARNING: Caller must clear the returned bytes after use
func (k *Keyring) ExportAccount(_ context.Context, address string) ([]byte, error) {
	privateKey, err := k.key(common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	return crypto.FromECDSA(privateKey), nil
}

// SignPersonalMessage signs the EIP-191 hash of message. v is 27 or 28.
func (k *Keyring) SignPersonalMessage(_ context.Context, address common.Address, message []byte) ([]byte, error) {
	privateKey, err := k.key(address)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(accounts.TextHash(message), privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign message")
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

// SignTypedData signs the EIP-712 hash of typed. v is 27 or 28.
func (k *Keyring) SignTypedData(_ context.Context, address common.Address, typed *apitypes.TypedData) ([]byte, error) {
	privateKey, err := k.key(address)
	if err != nil {
		return nil, err
	}

	hash, _, err := apitypes.TypedDataAndHash(*typed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash typed data")
	}

	sig, err := crypto.Sign(hash, privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign typed data")
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}

// SignTransaction signs tx for chainID with the key of address.
func (k *Keyring) SignTransaction(_ context.Context, address common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	privateKey, err := k.key(address)
	if err != nil {
		return nil, err
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	return signedTx, nil
}

func (k *Keyring) Serialize(_ context.Context) (json.RawMessage, error) {
	k.mu.RLock()
	state := SerializedState{
		Mnemonic:         k.seeds.Mnemonic(),
		NumberOfAccounts: len(k.keys),
		HDPath:           k.hdPath,
	}
	if k.nextIndex() != len(k.keys) {
		state.Indices = make([]int, 0, len(k.keys))
		for _, dk := range k.keys {
			state.Indices = append(state.Indices, dk.index)
		}
	}
	k.mu.RUnlock()

	return json.Marshal(state)
}

// Deserialize restores the mnemonic and re-derives the first
// NumberOfAccounts accounts, or exactly Indices when present.
func (k *Keyring) Deserialize(ctx context.Context, data json.RawMessage) error {
	var state SerializedState
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Wrap(err, "failed to decode HD keyring state")
	}

	if state.Mnemonic == "" {
		k.mu.Lock()
		k.root = nil
		k.keys = nil
		k.mu.Unlock()
		k.seeds.Clear()

		return nil
	}

	if err := k.InitFromMnemonic(ctx, state.Mnemonic, state.HDPath); err != nil {
		return err
	}

	if len(state.Indices) > 0 {
		return k.restoreIndices(state.Indices)
	}

	if state.NumberOfAccounts > 0 {
		if _, err := k.AddAccounts(ctx, state.NumberOfAccounts); err != nil {
			return errors.Wrap(err, "failed to restore accounts")
		}
	}

	return nil
}

func (k *Keyring) restoreIndices(indices []int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	seen := make(map[int]struct{}, len(indices))
	keys := make([]*derivedKey, 0, len(indices))
	for _, index := range indices {
		if _, dup := seen[index]; dup || index < 0 {
			return errors.Errorf("invalid account index %d in HD keyring state", index)
		}
		seen[index] = struct{}{}

		dk, err := k.derive(index)
		if err != nil {
			return errors.Wrap(err, "failed to restore accounts")
		}
		keys = append(keys, dk)
	}
	k.keys = keys

	return nil
}
