package keyring

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

type CreateAccountOptionsType string

const (
	OptionsDerivePath       CreateAccountOptionsType = "bip44:derive-path"
	OptionsDeriveIndex      CreateAccountOptionsType = "bip44:derive-index"
	OptionsDiscover         CreateAccountOptionsType = "bip44:discover"
	OptionsPrivateKeyImport CreateAccountOptionsType = "private-key:import"
)

// DerivationPathPattern matches BIP-32 paths like m/44'/60'/0'/0/1.
var DerivationPathPattern = regexp.MustCompile(`^m(?:/\d+'?)+$`)

// CreateAccountOptions is a closed sum type; the variants below are the only
// implementations.
type CreateAccountOptions interface {
	OptionsType() CreateAccountOptionsType
	isCreateAccountOptions()
}

type DerivePathOptions struct {
	EntropySource  string `json:"entropySource"`
	DerivationPath string `json:"derivationPath"`
}

type DeriveIndexOptions struct {
	EntropySource string `json:"entropySource"`
	GroupIndex    int    `json:"groupIndex"`
}

type DiscoverOptions struct {
	EntropySource string `json:"entropySource"`
	GroupIndex    int    `json:"groupIndex"`
}

type PrivateKeyImportOptions struct {
	PrivateKey  string      `json:"privateKey"`
	Encoding    string      `json:"encoding"`
	AccountType AccountType `json:"accountType,omitempty"`
}

func (DerivePathOptions) OptionsType() CreateAccountOptionsType       { return OptionsDerivePath }
func (DeriveIndexOptions) OptionsType() CreateAccountOptionsType      { return OptionsDeriveIndex }
func (DiscoverOptions) OptionsType() CreateAccountOptionsType         { return OptionsDiscover }
func (PrivateKeyImportOptions) OptionsType() CreateAccountOptionsType { return OptionsPrivateKeyImport }

func (DerivePathOptions) isCreateAccountOptions()       {}
func (DeriveIndexOptions) isCreateAccountOptions()      {}
func (DiscoverOptions) isCreateAccountOptions()         {}
func (PrivateKeyImportOptions) isCreateAccountOptions() {}

// ParseCreateAccountOptions decodes the tagged JSON union discriminated by "type".
func ParseCreateAccountOptions(data []byte) (CreateAccountOptions, error) {
	var head struct {
		Type CreateAccountOptionsType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "failed to decode account options")
	}

	var opts CreateAccountOptions
	switch head.Type {
	case OptionsDerivePath:
		var o DerivePathOptions
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, errors.Wrap(err, "failed to decode derive-path options")
		}
		opts = o
	case OptionsDeriveIndex:
		var o DeriveIndexOptions
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, errors.Wrap(err, "failed to decode derive-index options")
		}
		opts = o
	case OptionsDiscover:
		var o DiscoverOptions
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, errors.Wrap(err, "failed to decode discover options")
		}
		opts = o
	case OptionsPrivateKeyImport:
		var o PrivateKeyImportOptions
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, errors.Wrap(err, "failed to decode private-key import options")
		}
		opts = o
	default:
		return nil, errors.Wrapf(ErrUnsupportedOptions, "unknown options type %q", head.Type)
	}

	if err := ValidateCreateAccountOptions(opts); err != nil {
		return nil, err
	}

	return opts, nil
}

// MarshalCreateAccountOptions encodes opts with its "type" discriminator.
func MarshalCreateAccountOptions(opts CreateAccountOptions) ([]byte, error) {
	body, err := json.Marshal(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode account options")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errors.Wrap(err, "failed to encode account options")
	}

	typ, err := json.Marshal(opts.OptionsType())
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode account options type")
	}
	fields["type"] = typ

	return json.Marshal(fields)
}

// ValidateCreateAccountOptions checks the per-variant required fields.
func ValidateCreateAccountOptions(opts CreateAccountOptions) error {
	switch o := opts.(type) {
	case DerivePathOptions:
		if o.EntropySource == "" {
			return errors.Wrap(ErrInvalidOptions, "entropySource is required")
		}
		if !DerivationPathPattern.MatchString(o.DerivationPath) {
			return errors.Wrapf(ErrInvalidOptions, "invalid derivation path %q", o.DerivationPath)
		}
	case DeriveIndexOptions:
		if o.EntropySource == "" {
			return errors.Wrap(ErrInvalidOptions, "entropySource is required")
		}
		if o.GroupIndex < 0 {
			return errors.Wrapf(ErrInvalidOptions, "groupIndex must be non-negative, got %d", o.GroupIndex)
		}
	case DiscoverOptions:
		if o.EntropySource == "" {
			return errors.Wrap(ErrInvalidOptions, "entropySource is required")
		}
		if o.GroupIndex < 0 {
			return errors.Wrapf(ErrInvalidOptions, "groupIndex must be non-negative, got %d", o.GroupIndex)
		}
	case PrivateKeyImportOptions:
		if o.PrivateKey == "" {
			return errors.Wrap(ErrInvalidOptions, "privateKey is required")
		}
	case nil:
		return errors.Wrap(ErrInvalidOptions, "options are required")
	default:
		return errors.Wrap(ErrUnsupportedOptions, fmt.Sprintf("unexpected options %T", opts))
	}

	return nil
}

// ExportAccountOptions is the closed sum type accepted by Exporter.ExportAccount.
type ExportAccountOptions interface {
	isExportAccountOptions()
}

type PrivateKeyExportOptions struct {
	// Encoding is "hexadecimal" (default) or "hexadecimal-prefixed".
	Encoding string `json:"encoding"`
}

func (PrivateKeyExportOptions) isExportAccountOptions() {}

const (
	EncodingHex         = "hexadecimal"
	EncodingHexPrefixed = "hexadecimal-prefixed"
)
