package keyring

import "encoding/json"

// AccountID is the opaque, UUID-shaped identifier of a managed account.
type AccountID = string

type AccountType string

const (
	AccountTypeEOA AccountType = "eip155:eoa"
)

// Scope is a CAIP-2 chain id; "eip155:0" stands for every EVM chain.
type Scope = string

const ScopeEVMAny Scope = "eip155:0"

const (
	MethodPersonalSign    = "personal_sign"
	MethodSignTransaction = "eth_signTransaction"
	MethodSignTypedDataV4 = "eth_signTypedData_v4"
)

// EntropyOptions records where an account was derived from so it can be
// re-derived deterministically.
type EntropyOptions struct {
	Type           string `json:"type"`
	ID             string `json:"id"`
	GroupIndex     int    `json:"groupIndex"`
	DerivationPath string `json:"derivationPath"`
}

const EntropyTypeMnemonic = "mnemonic"

type AccountOptions struct {
	Entropy *EntropyOptions `json:"entropy,omitempty"`
	// Exportable is nil when the provider does not state it.
	Exportable *bool `json:"exportable,omitempty"`
}

type Account struct {
	ID      AccountID      `json:"id"`
	Type    AccountType    `json:"type"`
	Address string         `json:"address"`
	Scopes  []Scope        `json:"scopes"`
	Methods []string       `json:"methods"`
	Options AccountOptions `json:"options"`
}

// GroupIndex returns the derivation group index recorded in the account's
// entropy options, or -1 if the account carries no provenance.
func (a *Account) GroupIndex() int {
	if a == nil || a.Options.Entropy == nil {
		return -1
	}

	return a.Options.Entropy.GroupIndex
}

// SupportsMethod reports whether method is one of the account's methods.
func (a *Account) SupportsMethod(method string) bool {
	for _, m := range a.Methods {
		if m == method {
			return true
		}
	}

	return false
}

// Request is a signing request routed to one account.
type Request struct {
	ID      string         `json:"id"`
	Scope   Scope          `json:"scope"`
	Account AccountID      `json:"account"`
	Origin  string         `json:"origin"`
	Request RequestPayload `json:"request"`
}

type RequestPayload struct {
	Method string `json:"method"`
	// Params is either a JSON array or object, left raw for the handler.
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is returned by SubmitRequest. Synchronous providers fill Result.
type Response struct {
	Pending bool            `json:"pending"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// ExportedAccount is the result of ExportAccount.
type ExportedAccount struct {
	Type       string `json:"type"`
	PrivateKey string `json:"privateKey"`
}
