package seed

// Manager provides seed management functionality
type Manager interface {
	// Initialize validates the mnemonic and derives the BIP-39 seed from it
	Initialize(mnemonic string, passphrase string) error

	// GetSeed gets the seed (from memory)
	GetSeed() []byte

	// Mnemonic returns the mnemonic the seed was derived from
	Mnemonic() string

	// IsInitialized checks if seed is initialized
	IsInitialized() bool

	// Clear clears the seed from memory
	Clear()
}
