package hardware

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github/chapool/go-keyring/internal/bridge"
	"github/chapool/go-keyring/internal/hwerrors"
)

// Bridge actions understood by the device relay.
const (
	ActionUnlock              = "unlock"
	ActionSignTransaction     = "sign-transaction"
	ActionSignPersonalMessage = "sign-personal-message"
)

// Device is a hardware signer. Signatures are 65-byte r||s||v with v in
// {0, 1, 27, 28}.
type Device interface {
	// Unlock returns the address of the key at hdPath.
	Unlock(ctx context.Context, hdPath string) (string, error)
	SignTransaction(ctx context.Context, hdPath string, tx *types.Transaction, chainID *big.Int) ([]byte, error)
	SignPersonalMessage(ctx context.Context, hdPath string, message []byte) ([]byte, error)
	IsConnected() bool
}

type UnlockParams struct {
	HDPath string `json:"hdPath"`
}

type UnlockResult struct {
	Address string `json:"address"`
}

type SignTransactionParams struct {
	HDPath string `json:"hdPath"`
	// Tx is the unsigned transaction in its binary encoding.
	Tx      hexutil.Bytes `json:"tx"`
	ChainID *hexutil.Big  `json:"chainId"`
}

type SignPersonalMessageParams struct {
	HDPath  string        `json:"hdPath"`
	Message hexutil.Bytes `json:"message"`
}

type SignatureResult struct {
	Signature hexutil.Bytes `json:"signature"`
}

// BridgeDevice talks to the device through a bridge. Every round trip is bounded
// by the request timeout.
type BridgeDevice struct {
	bridge         *bridge.Bridge
	requestTimeout time.Duration
}

var _ Device = (*BridgeDevice)(nil)

func NewBridgeDevice(b *bridge.Bridge, requestTimeout time.Duration) *BridgeDevice {
	return &BridgeDevice{
		bridge:         b,
		requestTimeout: requestTimeout,
	}
}

func (d *BridgeDevice) Init(ctx context.Context) {
	d.bridge.Init(ctx)
}

func (d *BridgeDevice) IsConnected() bool {
	return d.bridge.IsConnected()
}

func (d *BridgeDevice) OnConnectivityChange(fn func(connected bool)) {
	d.bridge.OnConnectivityChange(fn)
}

func (d *BridgeDevice) call(ctx context.Context, action string, params any, result any) error {
	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	payload, err := d.bridge.Send(ctx, action, params)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(payload, result); err != nil {
		return hwerrors.New(hwerrors.Options{
			Code:     hwerrors.CodeProtocolInvalidResponse,
			Message:  "failed to decode " + action + " response",
			Vendor:   d.bridge.Vendor(),
			Cause:    err,
			Metadata: map[string]any{"action": action},
		})
	}

	return nil
}

func (d *BridgeDevice) Unlock(ctx context.Context, hdPath string) (string, error) {
	var res UnlockResult
	if err := d.call(ctx, ActionUnlock, &UnlockParams{HDPath: hdPath}, &res); err != nil {
		return "", err
	}

	return res.Address, nil
}

func (d *BridgeDevice) SignTransaction(ctx context.Context, hdPath string, tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode transaction")
	}

	var res SignatureResult
	err = d.call(ctx, ActionSignTransaction, &SignTransactionParams{
		HDPath:  hdPath,
		Tx:      raw,
		ChainID: (*hexutil.Big)(chainID),
	}, &res)
	if err != nil {
		return nil, err
	}

	return res.Signature, nil
}

func (d *BridgeDevice) SignPersonalMessage(ctx context.Context, hdPath string, message []byte) ([]byte, error) {
	var res SignatureResult
	err := d.call(ctx, ActionSignPersonalMessage, &SignPersonalMessageParams{
		HDPath:  hdPath,
		Message: message,
	}, &res)
	if err != nil {
		return nil, err
	}

	return res.Signature, nil
}
