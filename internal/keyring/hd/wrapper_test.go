package hd_test

import (
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-keyring/internal/keyring"
	"github/chapool/go-keyring/internal/keyring/evm"
	"github/chapool/go-keyring/internal/keyring/hd"
	"github/chapool/go-keyring/internal/keyring/seed"
)

const (
	//nolint:dupword // BIP-39 test vector
	testMnemonic  = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	testEntropyID = "entropy-1"
	firstAddress  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	secondAddress = "0x6Fac4D18c912343BF86fa7049364Dd4E424Ab9C0"
)

func newTestWrapper(t *testing.T) *hd.Wrapper {
	t.Helper()

	inner := hd.NewKeyring(seed.NewManager())
	require.NoError(t, inner.InitFromMnemonic(t.Context(), testMnemonic, hd.DefaultHDPath))

	return hd.NewWrapper(inner, testEntropyID)
}

func deriveIndex(i int) keyring.DeriveIndexOptions {
	return keyring.DeriveIndexOptions{EntropySource: testEntropyID, GroupIndex: i}
}

func createAt(t *testing.T, w *hd.Wrapper, i int) *keyring.Account {
	t.Helper()

	accs, err := w.CreateAccounts(t.Context(), deriveIndex(i))
	require.NoError(t, err)
	require.Len(t, accs, 1)

	return accs[0]
}

func TestCreateAccountsSequential(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)

	first := createAt(t, w, 0)
	assert.Equal(t, firstAddress, first.Address)
	assert.Equal(t, 0, first.GroupIndex())
	assert.Equal(t, "m/44'/60'/0'/0/0", first.Options.Entropy.DerivationPath)
	assert.Equal(t, testEntropyID, first.Options.Entropy.ID)
	require.NotNil(t, first.Options.Exportable)
	assert.True(t, *first.Options.Exportable)

	second := createAt(t, w, 1)
	assert.Equal(t, 1, second.GroupIndex())
	assert.NotEqual(t, first.Address, second.Address)

	_, err := w.CreateAccounts(ctx, deriveIndex(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, keyring.ErrNonSequentialIndex))
	assert.Contains(t, err.Error(), "next index must be 2")

	again := createAt(t, w, 0)
	assert.Same(t, first, again)

	accs, err := w.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 2)
	assert.Same(t, first, accs[0])
	assert.Same(t, second, accs[1])
}

func TestCreateAccountsRejectsForeignOptions(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)

	_, err := w.CreateAccounts(ctx, keyring.DeriveIndexOptions{EntropySource: "other", GroupIndex: 0})
	assert.True(t, errors.Is(err, keyring.ErrEntropyMismatch))

	_, err = w.CreateAccounts(ctx, keyring.PrivateKeyImportOptions{PrivateKey: "00", Encoding: keyring.EncodingHex})
	assert.True(t, errors.Is(err, keyring.ErrUnsupportedOptions))

	_, err = w.CreateAccounts(ctx, keyring.DeriveIndexOptions{EntropySource: testEntropyID, GroupIndex: -1})
	assert.True(t, errors.Is(err, keyring.ErrInvalidOptions))

	_, err = w.CreateAccounts(ctx, keyring.DerivePathOptions{EntropySource: testEntropyID, DerivationPath: "m/44'/60'/0'/1/0"})
	assert.True(t, errors.Is(err, keyring.ErrInvalidOptions))

	_, err = w.CreateAccounts(ctx, keyring.DerivePathOptions{EntropySource: testEntropyID, DerivationPath: "m/44'/60'/0'/0/0'"})
	assert.True(t, errors.Is(err, keyring.ErrInvalidOptions))
}

func TestCreateAccountsDerivePathAndDiscover(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)

	accs, err := w.CreateAccounts(ctx, keyring.DerivePathOptions{
		EntropySource:  testEntropyID,
		DerivationPath: "m/44'/60'/0'/0/0",
	})
	require.NoError(t, err)
	require.Len(t, accs, 1)
	assert.Equal(t, firstAddress, accs[0].Address)

	discovered, err := w.CreateAccounts(ctx, keyring.DiscoverOptions{EntropySource: testEntropyID, GroupIndex: 1})
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	assert.Equal(t, 1, discovered[0].GroupIndex())
}

func TestDeleteAccountOnlyLast(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)

	first := createAt(t, w, 0)
	second := createAt(t, w, 1)

	err := w.DeleteAccount(ctx, first.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, keyring.ErrNotLastAccount))

	require.NoError(t, w.DeleteAccount(ctx, second.ID))

	_, err = w.GetAccount(ctx, second.ID)
	assert.True(t, errors.Is(err, keyring.ErrAccountNotFound))

	recreated := createAt(t, w, 1)
	assert.Equal(t, second.Address, recreated.Address)
	assert.NotEqual(t, second.ID, recreated.ID)

	err = w.DeleteAccount(ctx, "00000000-0000-0000-0000-000000000000")
	assert.True(t, errors.Is(err, keyring.ErrAccountNotFound))
}

func TestCreateAccountsConcurrent(t *testing.T) {
	w := newTestWrapper(t)

	const workers = 8
	results := make([]*keyring.Account, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			accs, err := w.CreateAccounts(t.Context(), deriveIndex(0))
			errs[i] = err
			if err == nil {
				results[i] = accs[0]
			}
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}

	addresses, err := w.Inner().Accounts(t.Context())
	require.NoError(t, err)
	assert.Len(t, addresses, 1)
}

func TestCreateAccountsConcurrentNextIndex(t *testing.T) {
	w := newTestWrapper(t)
	createAt(t, w, 0)

	const workers = 4
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = w.CreateAccounts(t.Context(), deriveIndex(2))
		}()
	}
	createAt(t, w, 1)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, keyring.ErrNonSequentialIndex))
	}

	addresses, err := w.Inner().Accounts(t.Context())
	require.NoError(t, err)
	assert.Len(t, addresses, 2+min(succeeded, 1))
}

func TestExternalMutationIsReconciled(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	first := createAt(t, w, 0)

	added, err := w.Inner().AddAccounts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, added, 2)

	third := createAt(t, w, 2)
	assert.Equal(t, added[1], third.Address)

	require.NoError(t, w.Inner().RemoveAccount(ctx, third.Address))

	accs, err := w.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 2)
	assert.Same(t, first, accs[0])

	_, err = w.GetAccount(ctx, third.ID)
	assert.True(t, errors.Is(err, keyring.ErrAccountNotFound))
	assert.Contains(t, err.Error(), third.ID)
}

func TestExternalMiddleRemovalKeepsDerivationIndex(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)

	first := createAt(t, w, 0)
	second := createAt(t, w, 1)
	third := createAt(t, w, 2)

	require.NoError(t, w.Inner().RemoveAccount(ctx, second.Address))

	accs, err := w.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 2)
	assert.Same(t, first, accs[0])
	assert.Same(t, third, accs[1])
	assert.Equal(t, 2, accs[1].GroupIndex())
	assert.Equal(t, "m/44'/60'/0'/0/2", accs[1].Options.Entropy.DerivationPath)

	again := createAt(t, w, 2)
	assert.Same(t, third, again)

	_, err = w.CreateAccounts(ctx, deriveIndex(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, keyring.ErrNonSequentialIndex))
	assert.Contains(t, err.Error(), "next index must be 3")

	fourth := createAt(t, w, 3)
	assert.Equal(t, "m/44'/60'/0'/0/3", fourth.Options.Entropy.DerivationPath)

	addresses, err := w.Inner().Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, addresses, 3)
	assert.Equal(t, []string{first.Address, third.Address, fourth.Address}, addresses)
}

func TestSerializeKeepsIndicesAfterMiddleRemoval(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	createAt(t, w, 0)
	second := createAt(t, w, 1)
	third := createAt(t, w, 2)
	require.NoError(t, w.Inner().RemoveAccount(ctx, second.Address))

	state, err := w.Serialize(ctx)
	require.NoError(t, err)

	var doc hd.SerializedState
	require.NoError(t, json.Unmarshal(state, &doc))
	assert.Equal(t, 2, doc.NumberOfAccounts)
	assert.Equal(t, []int{0, 2}, doc.Indices)

	restored := hd.NewWrapper(hd.NewKeyring(seed.NewManager()), testEntropyID)
	require.NoError(t, restored.Deserialize(ctx, state))

	accs, err := restored.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 2)
	assert.Equal(t, firstAddress, accs[0].Address)
	assert.Equal(t, third.Address, accs[1].Address)
	assert.Equal(t, 2, accs[1].GroupIndex())
	assert.Equal(t, 3, restored.Inner().NextIndex())

	assert.Error(t, restored.Deserialize(ctx, json.RawMessage(
		`{"mnemonic":"`+testMnemonic+`","numberOfAccounts":2,"indices":[1,1]}`)))
}

func TestInitFromMnemonicRejectsBadPath(t *testing.T) {
	inner := hd.NewKeyring(seed.NewManager())

	err := inner.InitFromMnemonic(t.Context(), testMnemonic, "m/44'/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid derivation path: m/44'/x")

	err = inner.InitFromMnemonic(t.Context(), testMnemonic, "m/44'/4294967296")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid path segment: 4294967296")
}

func TestSerializeRoundTrip(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	createAt(t, w, 0)
	createAt(t, w, 1)

	state, err := w.Serialize(ctx)
	require.NoError(t, err)

	var doc hd.SerializedState
	require.NoError(t, json.Unmarshal(state, &doc))
	assert.Equal(t, testMnemonic, doc.Mnemonic)
	assert.Equal(t, 2, doc.NumberOfAccounts)
	assert.Equal(t, hd.DefaultHDPath, doc.HDPath)

	restored := hd.NewWrapper(hd.NewKeyring(seed.NewManager()), testEntropyID)
	require.NoError(t, restored.Deserialize(ctx, state))
	assert.Equal(t, 2, restored.Registry().Len())

	accs, err := restored.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accs, 2)
	assert.Equal(t, firstAddress, accs[0].Address)

	require.NoError(t, restored.Deserialize(ctx, json.RawMessage(`{"mnemonic":"","numberOfAccounts":0}`)))
	accs, err = restored.GetAccounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, accs)

	assert.Error(t, restored.Deserialize(ctx, json.RawMessage(`{"mnemonic":"not a mnemonic","numberOfAccounts":1}`)))
}

func TestExportAccount(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	acc := createAt(t, w, 0)

	assert.Equal(t, keyring.Capabilities{Export: true}, keyring.CapabilitiesOf(w))

	exported, err := w.ExportAccount(ctx, acc.ID, keyring.PrivateKeyExportOptions{})
	require.NoError(t, err)
	assert.Len(t, exported.PrivateKey, 64)

	key, err := crypto.HexToECDSA(exported.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, acc.Address, crypto.PubkeyToAddress(key.PublicKey).Hex())

	prefixed, err := w.ExportAccount(ctx, acc.ID, keyring.PrivateKeyExportOptions{Encoding: keyring.EncodingHexPrefixed})
	require.NoError(t, err)
	assert.Equal(t, "0x"+exported.PrivateKey, prefixed.PrivateKey)

	_, err = w.ExportAccount(ctx, acc.ID, keyring.PrivateKeyExportOptions{Encoding: "base64"})
	assert.True(t, errors.Is(err, keyring.ErrInvalidOptions))
}

func request(acc *keyring.Account, method string, params any) *keyring.Request {
	raw, _ := json.Marshal(params)

	return &keyring.Request{
		ID:      "6a1b0ed4-5ad0-4c35-8b49-6bd2b6d8d1a0",
		Scope:   keyring.ScopeEVMAny,
		Account: acc.ID,
		Origin:  "test",
		Request: keyring.RequestPayload{Method: method, Params: raw},
	}
}

func recoverSigner(t *testing.T, hash []byte, result json.RawMessage) common.Address {
	t.Helper()

	var encoded string
	require.NoError(t, json.Unmarshal(result, &encoded))
	sig, err := hexutil.Decode(encoded)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	sig[64] -= 27
	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)

	return crypto.PubkeyToAddress(*pub)
}

func TestSubmitPersonalSign(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	acc := createAt(t, w, 0)

	resp, err := w.SubmitRequest(ctx, request(acc, keyring.MethodPersonalSign, []string{"hello", acc.Address}))
	require.NoError(t, err)
	assert.False(t, resp.Pending)
	assert.Equal(t, acc.Address, recoverSigner(t, accounts.TextHash([]byte("hello")), resp.Result).Hex())

	resp, err = w.SubmitRequest(ctx, request(acc, keyring.MethodPersonalSign, []string{"0x68656c6c6f", acc.Address}))
	require.NoError(t, err)
	assert.Equal(t, acc.Address, recoverSigner(t, accounts.TextHash([]byte("hello")), resp.Result).Hex())

	_, err = w.SubmitRequest(ctx, request(acc, keyring.MethodPersonalSign, []string{"hello", secondAddress}))
	assert.True(t, errors.Is(err, keyring.ErrInvalidParams))
}

func TestSubmitSignTransaction(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	acc := createAt(t, w, 0)

	to := secondAddress
	for _, txReq := range []map[string]string{
		{"chainId": "0x1", "nonce": "0x0", "gas": "0x5208", "gasPrice": "0x3b9aca00", "to": to, "value": "0x1"},
		{"chainId": "0x89", "nonce": "0x3", "gasLimit": "0x5208", "maxFeePerGas": "0x77359400", "maxPriorityFeePerGas": "0x3b9aca00", "to": to},
	} {
		resp, err := w.SubmitRequest(ctx, request(acc, keyring.MethodSignTransaction, []any{txReq}))
		require.NoError(t, err)

		var signed evm.SignedTransaction
		require.NoError(t, json.Unmarshal(resp.Result, &signed))

		tx := new(types.Transaction)
		require.NoError(t, tx.UnmarshalBinary(signed.RawTransaction))
		assert.Equal(t, signed.TxHash, tx.Hash())

		chainID, ok := new(big.Int).SetString(strings.TrimPrefix(txReq["chainId"], "0x"), 16)
		require.True(t, ok)
		sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
		require.NoError(t, err)
		assert.Equal(t, acc.Address, sender.Hex())
	}

	_, err := w.SubmitRequest(ctx, request(acc, keyring.MethodSignTransaction, []any{map[string]string{"nonce": "0x0"}}))
	assert.True(t, errors.Is(err, keyring.ErrInvalidParams))
}

func TestSubmitSignTypedData(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	acc := createAt(t, w, 0)

	typedJSON := `{
		"types": {
			"EIP712Domain": [{"name": "name", "type": "string"}, {"name": "chainId", "type": "uint256"}],
			"Mail": [{"name": "contents", "type": "string"}]
		},
		"primaryType": "Mail",
		"domain": {"name": "Test", "chainId": "1"},
		"message": {"contents": "hello"}
	}`

	resp, err := w.SubmitRequest(ctx, request(acc, keyring.MethodSignTypedDataV4, []any{acc.Address, typedJSON}))
	require.NoError(t, err)

	var typed apitypes.TypedData
	require.NoError(t, json.Unmarshal([]byte(typedJSON), &typed))
	hash, _, err := apitypes.TypedDataAndHash(typed)
	require.NoError(t, err)

	assert.Equal(t, acc.Address, recoverSigner(t, hash, resp.Result).Hex())
}

func TestSubmitRequestUnknownMethod(t *testing.T) {
	ctx := t.Context()
	w := newTestWrapper(t)
	acc := createAt(t, w, 0)

	_, err := w.SubmitRequest(ctx, request(acc, "eth_sign", []string{}))
	assert.True(t, errors.Is(err, keyring.ErrMethodNotSupported))

	_, err = w.SubmitRequest(ctx, nil)
	assert.True(t, errors.Is(err, keyring.ErrInvalidParams))
}
