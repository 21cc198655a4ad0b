package keyring

import "github.com/pkg/errors"

// Contract violations raised by the adapter itself. They are plain,
// non-retryable errors; hardware failures travel as *hwerrors.HardwareWalletError.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrNonSequentialIndex = errors.New("non-sequential account index")
	ErrNotLastAccount     = errors.New("only the last account can be removed")
	ErrUnsupportedOptions = errors.New("unsupported account options")
	ErrInvalidOptions     = errors.New("invalid account options")
	ErrEntropyMismatch    = errors.New("entropy source mismatch")
	ErrMethodNotSupported = errors.New("method not supported by account")
	ErrInvalidParams      = errors.New("invalid request params")
)
