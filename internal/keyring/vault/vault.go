package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

var (
	ErrInvalidPassword    = errors.New("invalid password: MAC mismatch")
	ErrUnsupportedVault   = errors.New("unsupported vault")
	ErrInvalidScryptParam = errors.New("invalid scrypt parameters")
)

const (
	saltLen = 32
	ivLen   = aes.BlockSize
	keyLen  = 16
)

// Seal encrypts plaintext with a key derived from password. keyringType is
// recorded in the clear so callers can pick the right keyring on Open.
func Seal(plaintext []byte, password string, keyringType string, params ScryptParams) (*Vault, error) {
	if params.DKLen < 2*keyLen {
		return nil, errors.Wrapf(ErrInvalidScryptParam, "dklen %d", params.DKLen)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "failed to generate salt")
	}

	//nolint:varnamelen
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "failed to generate IV")
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, params.DKLen)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	ciphertext, err := aes128CTR(derivedKey[:keyLen], iv, plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt state")
	}

	return &Vault{
		Version: vaultVersion,
		ID:      uuid.New().String(),
		Type:    keyringType,
		Crypto: Crypto{
			Ciphertext:   hex.EncodeToString(ciphertext),
			CipherParams: CipherParams{IV: hex.EncodeToString(iv)},
			Cipher:       cipherAES128CTR,
			KDF:          kdfScrypt,
			KDFParams: KDFParams{
				DKLen: params.DKLen,
				Salt:  hex.EncodeToString(salt),
				N:     params.N,
				R:     params.R,
				P:     params.P,
			},
			MAC: hex.EncodeToString(mac(derivedKey, ciphertext)),
		},
	}, nil
}

// Open verifies the MAC and decrypts the sealed state.
func Open(v *Vault, password string) ([]byte, error) {
	if v == nil {
		return nil, errors.Wrap(ErrUnsupportedVault, "vault is required")
	}
	if v.Version != vaultVersion || v.Crypto.Cipher != cipherAES128CTR || v.Crypto.KDF != kdfScrypt {
		return nil, errors.Wrapf(ErrUnsupportedVault, "version %d, cipher %q, kdf %q", v.Version, v.Crypto.Cipher, v.Crypto.KDF)
	}

	params := v.Crypto.KDFParams
	if params.DKLen < 2*keyLen {
		return nil, errors.Wrapf(ErrInvalidScryptParam, "dklen %d", params.DKLen)
	}

	salt, err := hex.DecodeString(params.Salt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode salt")
	}

	//nolint:varnamelen
	iv, err := hex.DecodeString(v.Crypto.CipherParams.IV)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode IV")
	}

	ciphertext, err := hex.DecodeString(v.Crypto.Ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode ciphertext")
	}

	expectedMAC, err := hex.DecodeString(v.Crypto.MAC)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode MAC")
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, params.DKLen)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	if subtle.ConstantTimeCompare(mac(derivedKey, ciphertext), expectedMAC) != 1 {
		return nil, ErrInvalidPassword
	}

	plaintext, err := aes128CTR(derivedKey[:keyLen], iv, ciphertext)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt state")
	}

	return plaintext, nil
}

// mac is keccak256(derivedKey[16:32] || ciphertext).
func mac(derivedKey []byte, ciphertext []byte) []byte {
	return crypto.Keccak256(derivedKey[keyLen:2*keyLen], ciphertext)
}

// CTR is symmetric, so the same routine encrypts and decrypts.
//
//nolint:varnamelen
func aes128CTR(key []byte, iv []byte, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	if len(iv) != block.BlockSize() {
		return nil, errors.Errorf("invalid IV length %d", len(iv))
	}

	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)

	return out, nil
}
