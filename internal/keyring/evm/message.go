package evm

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

var ErrInvalidParams = errors.New("invalid params")

// ParsePersonalSignParams decodes [data, address]. Hex-prefixed data is decoded,
// anything else is signed as UTF-8 text.
func ParsePersonalSignParams(params json.RawMessage) ([]byte, common.Address, error) {
	var list []string
	if err := json.Unmarshal(params, &list); err != nil || len(list) < 2 {
		return nil, common.Address{}, errors.Wrap(ErrInvalidParams, "expected [data, address]")
	}

	if !common.IsHexAddress(list[1]) {
		return nil, common.Address{}, errors.Wrapf(ErrInvalidParams, "invalid address %q", list[1])
	}

	data := []byte(list[0])
	if strings.HasPrefix(list[0], "0x") {
		decoded, err := hexutil.Decode(list[0])
		if err != nil {
			return nil, common.Address{}, errors.Wrap(ErrInvalidParams, err.Error())
		}
		data = decoded
	}

	return data, common.HexToAddress(list[1]), nil
}

// ParseTypedDataParams decodes [address, typedData], where typedData is either
// an object or a JSON string holding one.
func ParseTypedDataParams(params json.RawMessage) (*apitypes.TypedData, common.Address, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil || len(list) < 2 {
		return nil, common.Address{}, errors.Wrap(ErrInvalidParams, "expected [address, typedData]")
	}

	var addr string
	if err := json.Unmarshal(list[0], &addr); err != nil || !common.IsHexAddress(addr) {
		return nil, common.Address{}, errors.Wrap(ErrInvalidParams, "invalid address")
	}

	raw := []byte(list[1])
	var encoded string
	if err := json.Unmarshal(list[1], &encoded); err == nil {
		raw = []byte(encoded)
	}

	var typed apitypes.TypedData
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, common.Address{}, errors.Wrap(ErrInvalidParams, err.Error())
	}

	return &typed, common.HexToAddress(addr), nil
}

// NormalizeRecoveryID rewrites a 65-byte r||s||v signature so that v is 0 or 1,
// the form go-ethereum's signers expect.
func NormalizeRecoveryID(sig []byte) ([]byte, error) {
	const sigLen = 65
	if len(sig) != sigLen {
		return nil, errors.Errorf("invalid signature length %d", len(sig))
	}

	out := make([]byte, sigLen)
	copy(out, sig)
	if out[64] >= 27 { //nolint:mnd // legacy v offset
		out[64] -= 27
	}

	return out, nil
}

// EncodeSignature returns the 0x-hex r||s||v signature with v in {27, 28}.
func EncodeSignature(sig []byte) (json.RawMessage, error) {
	norm, err := NormalizeRecoveryID(sig)
	if err != nil {
		return nil, err
	}
	norm[64] += 27

	return json.Marshal(hexutil.Encode(norm))
}
