package vault_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/go-keyring/internal/keyring/hd"
	"github/chapool/go-keyring/internal/keyring/seed"
	"github/chapool/go-keyring/internal/keyring/vault"
)

//nolint:dupword // BIP-39 test vector
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestSealOpenKeyringState(t *testing.T) {
	ctx := t.Context()

	src := hd.NewKeyring(seed.NewManager())
	require.NoError(t, src.InitFromMnemonic(ctx, testMnemonic, hd.DefaultHDPath))
	_, err := src.AddAccounts(ctx, 2)
	require.NoError(t, err)

	state, err := src.Serialize(ctx)
	require.NoError(t, err)

	v, err := vault.Seal(state, "correct horse", hd.KeyringType, vault.LightScryptParams())
	require.NoError(t, err)
	assert.Equal(t, 3, v.Version)
	assert.Equal(t, hd.KeyringType, v.Type)
	assert.NotContains(t, v.Crypto.Ciphertext, "abandon")

	// survives a trip through JSON like a vault file would
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	var loaded vault.Vault
	require.NoError(t, json.Unmarshal(raw, &loaded))

	opened, err := vault.Open(&loaded, "correct horse")
	require.NoError(t, err)
	assert.JSONEq(t, string(state), string(opened))

	dst := hd.NewKeyring(seed.NewManager())
	require.NoError(t, dst.Deserialize(ctx, opened))

	want, err := src.Accounts(ctx)
	require.NoError(t, err)
	got, err := dst.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestOpenWrongPassword(t *testing.T) {
	v, err := vault.Seal([]byte(`{"secret":true}`), "right", "", vault.LightScryptParams())
	require.NoError(t, err)

	_, err = vault.Open(v, "wrong")
	require.ErrorIs(t, err, vault.ErrInvalidPassword)
}

func TestOpenTamperedCiphertext(t *testing.T) {
	v, err := vault.Seal([]byte(`{"secret":true}`), "pw", "", vault.LightScryptParams())
	require.NoError(t, err)

	b := []byte(v.Crypto.Ciphertext)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	v.Crypto.Ciphertext = string(b)

	_, err = vault.Open(v, "pw")
	require.ErrorIs(t, err, vault.ErrInvalidPassword)
}

func TestOpenUnsupported(t *testing.T) {
	v, err := vault.Seal([]byte("x"), "pw", "", vault.LightScryptParams())
	require.NoError(t, err)

	v.Version = 1
	_, err = vault.Open(v, "pw")
	require.ErrorIs(t, err, vault.ErrUnsupportedVault)

	_, err = vault.Open(nil, "pw")
	require.ErrorIs(t, err, vault.ErrUnsupportedVault)
}

func TestSealRejectsShortKey(t *testing.T) {
	p := vault.LightScryptParams()
	p.DKLen = 16

	_, err := vault.Seal([]byte("x"), "pw", "", p)
	require.ErrorIs(t, err, vault.ErrInvalidScryptParam)
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, err := vault.Seal([]byte("same"), "pw", "", vault.LightScryptParams())
	require.NoError(t, err)
	b, err := vault.Seal([]byte("same"), "pw", "", vault.LightScryptParams())
	require.NoError(t, err)

	assert.NotEqual(t, a.Crypto.KDFParams.Salt, b.Crypto.KDFParams.Salt)
	assert.NotEqual(t, a.Crypto.Ciphertext, b.Crypto.Ciphertext)
	assert.NotEqual(t, a.ID, b.ID)
}
