package keyring

import (
	"context"
	"encoding/json"
)

// Keyring is the uniform interface every account provider is adapted to.
type Keyring interface {
	// GetAccounts resynchronizes with the provider and returns its accounts in
	// provider order.
	GetAccounts(ctx context.Context) ([]*Account, error)

	// GetAccount returns the account with the given id or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// CreateAccounts returns a cached account, materializes exactly one new
	// account, or fails, depending on the provider's derivation policy.
	CreateAccounts(ctx context.Context, opts CreateAccountOptions) ([]*Account, error)

	DeleteAccount(ctx context.Context, id AccountID) error

	SubmitRequest(ctx context.Context, req *Request) (*Response, error)

	// Serialize returns the provider-owned state document.
	Serialize(ctx context.Context) (json.RawMessage, error)

	// Deserialize replaces the provider state and rebuilds the account cache.
	Deserialize(ctx context.Context, state json.RawMessage) error
}

// Exporter is implemented by keyrings that can reveal account key material.
type Exporter interface {
	ExportAccount(ctx context.Context, id AccountID, opts ExportAccountOptions) (*ExportedAccount, error)
}

// Initializer is implemented by keyrings that need to set up a channel before use.
type Initializer interface {
	Init(ctx context.Context)
}

// Capabilities lists the optional interfaces a Keyring implements.
type Capabilities struct {
	Export bool `json:"export"`
	Init   bool `json:"init"`
}

func CapabilitiesOf(k Keyring) Capabilities {
	_, export := k.(Exporter)
	_, init := k.(Initializer)

	return Capabilities{
		Export: export,
		Init:   init,
	}
}

//nolint:ireturn
func AsExporter(k Keyring) (Exporter, bool) {
	e, ok := k.(Exporter)
	return e, ok
}

//nolint:ireturn
func AsInitializer(k Keyring) (Initializer, bool) {
	i, ok := k.(Initializer)
	return i, ok
}

// Legacy is the narrow surface of a pre-existing provider keyring that Core adapts.
type Legacy interface {
	Type() string

	// Accounts returns the provider's addresses in its native order.
	Accounts(ctx context.Context) ([]string, error)

	Serialize(ctx context.Context) (json.RawMessage, error)
	Deserialize(ctx context.Context, state json.RawMessage) error
}

// Materializer builds the Account for address at position in the provider's
// native order. cached is the currently registered account for the address, if
// any; returning it unchanged keeps the cached object identity.
type Materializer interface {
	Materialize(ctx context.Context, id AccountID, address string, position int, cached *Account) (*Account, error)
}

type MaterializerFunc func(ctx context.Context, id AccountID, address string, position int, cached *Account) (*Account, error)

func (f MaterializerFunc) Materialize(ctx context.Context, id AccountID, address string, position int, cached *Account) (*Account, error) {
	return f(ctx, id, address, position, cached)
}
