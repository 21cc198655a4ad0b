package hardware_test

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-keyring/internal/bridge"
	"github/chapool/go-keyring/internal/config"
	"github/chapool/go-keyring/internal/hwerrors"
	"github/chapool/go-keyring/internal/keyring"
	"github/chapool/go-keyring/internal/keyring/evm"
	"github/chapool/go-keyring/internal/keyring/hardware"
	"github/chapool/go-keyring/internal/test"
	"golang.org/x/sync/errgroup"
)

const (
	testEntropyID = "ledger-1"
	firstAddress  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
)

func newTestWrapper(t *testing.T, e *test.DeviceEmulator) *hardware.Wrapper {
	t.Helper()

	b, err := bridge.New(config.BridgeConfig{
		Target:         "ws://device.test",
		ExpectedOrigin: e.Origin(),
		Vendor:         string(hwerrors.VendorLedger),
		InitTimeout:    time.Second,
	}, e, nil)
	require.NoError(t, err)
	t.Cleanup(b.Destroy)

	device := hardware.NewBridgeDevice(b, 2*time.Second)

	return hardware.NewWrapper(hardware.NewKeyring(device, ""), testEntropyID)
}

func createAt(t *testing.T, w *hardware.Wrapper, i int) *keyring.Account {
	t.Helper()

	accs, err := w.CreateAccounts(t.Context(), keyring.DeriveIndexOptions{EntropySource: testEntropyID, GroupIndex: i})
	require.NoError(t, err)
	require.Len(t, accs, 1)

	return accs[0]
}

func TestCreateAccountsArbitraryIndex(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)

		fifth := createAt(t, w, 5)
		assert.Equal(t, 5, fifth.GroupIndex())
		assert.Equal(t, "m/44'/60'/5'/0/0", fifth.Options.Entropy.DerivationPath)
		assert.Equal(t, hardware.EntropyTypeHardware, fifth.Options.Entropy.Type)
		require.NotNil(t, fifth.Options.Exportable)
		assert.False(t, *fifth.Options.Exportable)

		expected, err := e.AddressAt("m/44'/60'/5'/0/0")
		require.NoError(t, err)
		assert.Equal(t, expected, fifth.Address)

		zeroth := createAt(t, w, 0)
		assert.Equal(t, firstAddress, zeroth.Address)

		assert.Same(t, fifth, createAt(t, w, 5))
		assert.Equal(t, 2, e.Calls(hardware.ActionUnlock))

		accs, err := w.GetAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accs, 2)
		assert.Same(t, fifth, accs[0])
		assert.Same(t, zeroth, accs[1])
	})
}

func TestCreateAccountsOptions(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)

		accs, err := w.CreateAccounts(ctx, keyring.DerivePathOptions{EntropySource: testEntropyID, DerivationPath: "m/44'/60'/3'/0/0"})
		require.NoError(t, err)
		assert.Equal(t, 3, accs[0].GroupIndex())

		_, err = w.CreateAccounts(ctx, keyring.DerivePathOptions{EntropySource: testEntropyID, DerivationPath: "m/44'/60'/0'/0/1"})
		assert.True(t, errors.Is(err, keyring.ErrInvalidOptions))

		_, err = w.CreateAccounts(ctx, keyring.DiscoverOptions{EntropySource: "other", GroupIndex: 1})
		assert.True(t, errors.Is(err, keyring.ErrEntropyMismatch))

		_, err = w.CreateAccounts(ctx, keyring.PrivateKeyImportOptions{PrivateKey: "00"})
		assert.True(t, errors.Is(err, keyring.ErrUnsupportedOptions))
	})
}

func TestDeleteAccountAnyPosition(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)

		fifth := createAt(t, w, 5)
		second := createAt(t, w, 2)

		require.NoError(t, w.DeleteAccount(ctx, fifth.ID))

		_, err := w.GetAccount(ctx, fifth.ID)
		assert.True(t, errors.Is(err, keyring.ErrAccountNotFound))

		accs, err := w.GetAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accs, 1)
		assert.Same(t, second, accs[0])

		recreated := createAt(t, w, 5)
		assert.NotSame(t, fifth, recreated)
		assert.NotEqual(t, fifth.ID, recreated.ID)
		assert.Equal(t, fifth.Address, recreated.Address)
		assert.Equal(t, 3, e.Calls(hardware.ActionUnlock))
	})
}

func TestCreateAccountsConcurrent(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		w := newTestWrapper(t, e)

		indices := []int{4, 1, 4, 7, 1}
		results := make([]*keyring.Account, len(indices))

		eg := &errgroup.Group{}
		for i, index := range indices {
			eg.Go(func() error {
				accs, err := w.CreateAccounts(t.Context(), keyring.DeriveIndexOptions{EntropySource: testEntropyID, GroupIndex: index})
				if err != nil {
					return err
				}
				results[i] = accs[0]

				return nil
			})
		}
		require.NoError(t, eg.Wait())

		assert.Same(t, results[0], results[2])
		assert.Same(t, results[1], results[4])
		assert.Equal(t, 3, e.Calls(hardware.ActionUnlock))
		assert.Equal(t, 3, w.Registry().Len())
	})
}

func TestDeviceErrorsAreNormalized(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)

		e.SetLocked(true)
		_, err := w.CreateAccounts(ctx, keyring.DeriveIndexOptions{EntropySource: testEntropyID, GroupIndex: 0})

		var hwErr *hwerrors.HardwareWalletError
		require.True(t, errors.As(err, &hwErr))
		assert.Equal(t, hwerrors.CodeDeviceLocked, hwErr.Code())
		assert.True(t, hwErr.IsRetryable())
		assert.Equal(t, 0, w.Registry().Len())

		e.SetLocked(false)
		acc := createAt(t, w, 0)

		e.SetRejecting(true)
		_, err = w.SubmitRequest(ctx, request(acc, keyring.MethodPersonalSign, []string{"hello", acc.Address}))
		require.True(t, errors.As(err, &hwErr))
		assert.Equal(t, hwerrors.CodeUserRejected, hwErr.Code())
		assert.True(t, hwErr.RequiresUserAction())
		assert.Equal(t, hwErr.UserMessage(), hwerrors.UserFacingMessage(nil, err))
	})
}

func TestDeserializeNormalizesAddressCase(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)

		lower := strings.ToLower(firstAddress)
		state := `{"accounts":["` + lower + `"],` +
			`"accountDetails":{"` + lower + `":{"hdPath":"m/44'/60'/0'/0/0","index":0}}}`
		require.NoError(t, w.Deserialize(ctx, json.RawMessage(state)))

		accs, err := w.GetAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accs, 1)
		assert.Equal(t, firstAddress, accs[0].Address)
		assert.Equal(t, 0, accs[0].GroupIndex())

		resp, err := w.SubmitRequest(ctx, request(accs[0], keyring.MethodPersonalSign, []string{"hello", lower}))
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Result)
		assert.Equal(t, 1, e.Calls(hardware.ActionSignPersonalMessage))

		address, err := w.Inner().AddAccountAt(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, firstAddress, address)
		addresses, err := w.Inner().Accounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{firstAddress}, addresses)

		assert.Error(t, w.Deserialize(ctx, json.RawMessage(`{"accounts":["`+lower+`"],"accountDetails":{}}`)))
	})
}

func TestLocalErrorsAreNotDeviceErrors(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)
		acc := createAt(t, w, 0)

		var hwErr *hwerrors.HardwareWalletError

		_, err := w.Inner().SignPersonalMessage(ctx, common.HexToAddress("0x000000000000000000000000000000000000dEaD"), []byte("hello"))
		assert.True(t, errors.Is(err, hardware.ErrUnknownAddress))
		assert.False(t, errors.As(err, &hwErr))

		_, err = w.SubmitRequest(ctx, request(acc, keyring.MethodPersonalSign, []string{"hello", "0x000000000000000000000000000000000000dEaD"}))
		assert.True(t, errors.Is(err, keyring.ErrInvalidParams))
		assert.False(t, errors.As(err, &hwErr))
		assert.Equal(t, 0, e.Calls(hardware.ActionSignPersonalMessage))
	})
}

func request(acc *keyring.Account, method string, params any) *keyring.Request {
	raw, _ := json.Marshal(params)

	return &keyring.Request{
		ID:      "0e0b5f8c-3b43-4d5c-9f0a-7c8f1f3b2a10",
		Scope:   keyring.ScopeEVMAny,
		Account: acc.ID,
		Origin:  "test",
		Request: keyring.RequestPayload{Method: method, Params: raw},
	}
}

func TestSubmitPersonalSign(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)
		acc := createAt(t, w, 1)

		resp, err := w.SubmitRequest(ctx, request(acc, keyring.MethodPersonalSign, []string{"hello", acc.Address}))
		require.NoError(t, err)
		assert.False(t, resp.Pending)

		var encoded string
		require.NoError(t, json.Unmarshal(resp.Result, &encoded))
		sig, err := hexutil.Decode(encoded)
		require.NoError(t, err)
		require.Len(t, sig, 65)

		sig[64] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash([]byte("hello")), sig)
		require.NoError(t, err)
		assert.Equal(t, acc.Address, crypto.PubkeyToAddress(*pub).Hex())

		_, err = w.SubmitRequest(ctx, request(acc, keyring.MethodSignTypedDataV4, []any{acc.Address, "{}"}))
		assert.True(t, errors.Is(err, keyring.ErrMethodNotSupported))
	})
}

func TestSubmitSignTransaction(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)
		acc := createAt(t, w, 2)

		txReq := map[string]string{
			"chainId":              "0x1",
			"nonce":                "0x7",
			"gas":                  "0x5208",
			"maxFeePerGas":         "0x77359400",
			"maxPriorityFeePerGas": "0x3b9aca00",
			"to":                   firstAddress,
			"value":                "0xde0b6b3a7640000",
		}
		resp, err := w.SubmitRequest(ctx, request(acc, keyring.MethodSignTransaction, []any{txReq}))
		require.NoError(t, err)

		var signed evm.SignedTransaction
		require.NoError(t, json.Unmarshal(resp.Result, &signed))

		tx := new(types.Transaction)
		require.NoError(t, tx.UnmarshalBinary(signed.RawTransaction))
		assert.Equal(t, uint64(7), tx.Nonce())

		sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
		require.NoError(t, err)
		assert.Equal(t, acc.Address, sender.Hex())
		assert.Equal(t, 1, e.Calls(hardware.ActionSignTransaction))
	})
}

func TestInitAndConnectivity(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)

		assert.Equal(t, keyring.Capabilities{Init: true}, keyring.CapabilitiesOf(w))
		_, ok := keyring.AsExporter(w)
		assert.False(t, ok)

		initializer, ok := keyring.AsInitializer(w)
		require.True(t, ok)
		initializer.Init(ctx)
		assert.False(t, w.IsDeviceConnected())

		e.Announce(e.Origin(), true)
		require.Eventually(t, w.IsDeviceConnected, time.Second, 5*time.Millisecond)

		e.Announce("https://elsewhere.test", false)
		acc := createAt(t, w, 0)
		assert.Equal(t, firstAddress, acc.Address)
		assert.True(t, w.IsDeviceConnected())
	})
}

func TestSerializeRoundTrip(t *testing.T) {
	test.WithDeviceEmulator(t, func(e *test.DeviceEmulator) {
		ctx := t.Context()
		w := newTestWrapper(t, e)
		createAt(t, w, 3)
		createAt(t, w, 0)

		state, err := w.Serialize(ctx)
		require.NoError(t, err)

		var doc hardware.SerializedState
		require.NoError(t, json.Unmarshal(state, &doc))
		assert.Equal(t, hardware.DefaultHDPathTemplate, doc.HDPathTemplate)
		require.Len(t, doc.Accounts, 2)
		assert.Equal(t, 3, doc.AccountDetails[doc.Accounts[0]].Index)
		assert.Equal(t, "m/44'/60'/3'/0/0", doc.AccountDetails[doc.Accounts[0]].HDPath)

		restored := newTestWrapper(t, e)
		require.NoError(t, restored.Deserialize(ctx, state))

		accs, err := restored.GetAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accs, 2)
		assert.Equal(t, 3, accs[0].GroupIndex())
		assert.Equal(t, firstAddress, accs[1].Address)
		assert.Equal(t, 2, e.Calls(hardware.ActionUnlock))

		assert.Same(t, accs[1], createAt(t, restored, 0))

		err = restored.Deserialize(ctx, json.RawMessage(`{"accounts":["0x01"],"accountDetails":{}}`))
		assert.Error(t, err)
	})
}
