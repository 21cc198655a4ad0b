package vault

const (
	vaultVersion = 3

	cipherAES128CTR = "aes-128-ctr"
	kdfScrypt       = "scrypt"
)

// Vault is a serialized keyring state sealed in the Ethereum keystore v3 layout.
//
//nolint:revive // field names mirror the keystore v3 JSON document
type Vault struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Type    string `json:"type,omitempty"`
	Crypto  Crypto `json:"crypto"`
}

type Crypto struct {
	Ciphertext   string       `json:"ciphertext"`
	CipherParams CipherParams `json:"cipherparams"`
	Cipher       string       `json:"cipher"`
	KDF          string       `json:"kdf"`
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"`
}

type CipherParams struct {
	IV string `json:"iv"`
}

type KDFParams struct {
	DKLen int    `json:"dklen"`
	Salt  string `json:"salt"`
	N     int    `json:"n"`
	R     int    `json:"r"`
	P     int    `json:"p"`
}

// ScryptParams defines scrypt KDF parameters
type ScryptParams struct {
	DKLen int // Derived key length (32 bytes)
	N     int // CPU/memory cost parameter
	R     int // Block size parameter
	P     int // Parallelization parameter
}

// DefaultScryptParams returns the standard keystore v3 scrypt parameters.
func DefaultScryptParams() ScryptParams {
	const (
		scryptDKLen = 32
		scryptN     = 262144 // 2^18
		scryptR     = 8
		scryptP     = 1
	)

	return ScryptParams{
		DKLen: scryptDKLen,
		N:     scryptN,
		R:     scryptR,
		P:     scryptP,
	}
}

// LightScryptParams trades brute-force resistance for speed. Use it for
// short-lived vaults and tests only.
func LightScryptParams() ScryptParams {
	p := DefaultScryptParams()
	p.N = 4096

	return p
}
