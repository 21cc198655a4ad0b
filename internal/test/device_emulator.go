package test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
	"github/chapool/go-keyring/internal/bridge"
	"github/chapool/go-keyring/internal/keyring/hardware"
)

const (
	//nolint:dupword // BIP-39 test vector
	DefaultMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	DefaultOrigin   = "https://device-bridge.test"
)

// Ledger status words returned by the emulator.
const (
	statusUserRejected   = "0x6985"
	statusDeviceLocked   = "0x5515"
	statusInvalidData    = "0x6a80"
	statusNotImplemented = "0x6d02"
)

// DeviceEmulator is an in-memory hardware signer reachable as a bridge.Dialer.
// It derives keys from a mnemonic and answers the hardware keyring's actions.
type DeviceEmulator struct {
	origin string
	master *bip32.Key

	mu        sync.Mutex
	locked    bool
	rejecting bool
	conns     []*emulatorConn
	calls     map[string]int
}

func NewDeviceEmulator(mnemonic string, origin string) (*DeviceEmulator, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, errors.Wrap(err, "invalid emulator mnemonic")
	}

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	return &DeviceEmulator{
		origin: origin,
		master: master,
		calls:  make(map[string]int),
	}, nil
}

// WithDeviceEmulator runs closure against an emulator seeded with DefaultMnemonic.
func WithDeviceEmulator(t *testing.T, closure func(e *DeviceEmulator)) {
	t.Helper()

	e, err := NewDeviceEmulator(DefaultMnemonic, DefaultOrigin)
	if err != nil {
		t.Fatalf("failed to create device emulator: %v", err)
	}
	t.Cleanup(e.Disconnect)

	closure(e)
}

func (e *DeviceEmulator) Origin() string {
	return e.origin
}

// SetLocked makes every action fail with the locked status word.
func (e *DeviceEmulator) SetLocked(locked bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.locked = locked
}

// SetRejecting makes signing actions fail as if the user declined on the device.
func (e *DeviceEmulator) SetRejecting(rejecting bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rejecting = rejecting
}

// Calls returns how often action was received.
func (e *DeviceEmulator) Calls(action string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.calls[action]
}

// Announce pushes a connectivity notification to every open channel, from
// origin.
func (e *DeviceEmulator) Announce(origin string, connected bool) {
	payload, _ := json.Marshal(&bridge.ConnectionChange{Connected: connected})

	e.mu.Lock()
	conns := append([]*emulatorConn{}, e.conns...)
	e.mu.Unlock()

	for _, c := range conns {
		c.push(&bridge.Envelope{
			Origin: origin,
			Message: &bridge.InboundMessage{
				Action:  bridge.ActionConnectionChange,
				Success: true,
				Payload: payload,
			},
		})
	}
}

// Disconnect closes every open channel.
func (e *DeviceEmulator) Disconnect() {
	e.mu.Lock()
	conns := e.conns
	e.conns = nil
	e.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// AddressAt returns the address the emulator holds at hdPath.
func (e *DeviceEmulator) AddressAt(hdPath string) (string, error) {
	key, err := e.key(hdPath)
	if err != nil {
		return "", err
	}

	return crypto.PubkeyToAddress(key.PublicKey).Hex(), nil
}

func (e *DeviceEmulator) key(hdPath string) (*ecdsa.PrivateKey, error) {
	path, err := accounts.ParseDerivationPath(hdPath)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid path %s", hdPath)
	}

	key := e.master
	for _, index := range path {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive %s", hdPath)
		}
	}

	return crypto.ToECDSA(key.Key)
}

func (e *DeviceEmulator) Dial(ctx context.Context, _ string) (bridge.Conn, error) { //nolint:ireturn
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &emulatorConn{
		device: e,
		in:     make(chan *bridge.Envelope, 64),
		closed: make(chan struct{}),
	}

	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()

	return c, nil
}

func (e *DeviceEmulator) handle(msg *bridge.OutboundMessage) *bridge.InboundMessage {
	e.mu.Lock()
	e.calls[msg.Action]++
	locked, rejecting := e.locked, e.rejecting
	e.mu.Unlock()

	resp := &bridge.InboundMessage{Action: msg.Action, MessageID: msg.MessageID}
	fail := func(code string, message string) *bridge.InboundMessage {
		resp.Error = &bridge.WireError{Code: code, Message: message}
		return resp
	}

	if locked {
		return fail(statusDeviceLocked, "device locked")
	}

	var payload any
	switch msg.Action {
	case hardware.ActionUnlock:
		var params hardware.UnlockParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return fail(statusInvalidData, err.Error())
		}
		address, err := e.AddressAt(params.HDPath)
		if err != nil {
			return fail(statusInvalidData, err.Error())
		}
		payload = &hardware.UnlockResult{Address: address}

	case hardware.ActionSignTransaction:
		if rejecting {
			return fail(statusUserRejected, "rejected on device")
		}
		var params hardware.SignTransactionParams
		if err := json.Unmarshal(msg.Params, &params); err != nil || params.ChainID == nil {
			return fail(statusInvalidData, "invalid sign-transaction params")
		}
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(params.Tx); err != nil {
			return fail(statusInvalidData, err.Error())
		}
		key, err := e.key(params.HDPath)
		if err != nil {
			return fail(statusInvalidData, err.Error())
		}
		hash := types.LatestSignerForChainID(params.ChainID.ToInt()).Hash(tx)
		sig, err := crypto.Sign(hash[:], key)
		if err != nil {
			return fail(statusInvalidData, err.Error())
		}
		payload = &hardware.SignatureResult{Signature: sig}

	case hardware.ActionSignPersonalMessage:
		if rejecting {
			return fail(statusUserRejected, "rejected on device")
		}
		var params hardware.SignPersonalMessageParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return fail(statusInvalidData, err.Error())
		}
		key, err := e.key(params.HDPath)
		if err != nil {
			return fail(statusInvalidData, err.Error())
		}
		sig, err := crypto.Sign(accounts.TextHash(params.Message), key)
		if err != nil {
			return fail(statusInvalidData, err.Error())
		}
		sig[crypto.RecoveryIDOffset] += 27
		payload = &hardware.SignatureResult{Signature: sig}

	default:
		return fail(statusNotImplemented, "unknown action "+msg.Action)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fail(statusInvalidData, err.Error())
	}
	resp.Success = true
	resp.Payload = raw

	return resp
}

type emulatorConn struct {
	device    *DeviceEmulator
	in        chan *bridge.Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *emulatorConn) push(env *bridge.Envelope) {
	select {
	case <-c.closed:
	case c.in <- env:
	}
}

func (c *emulatorConn) WriteMessage(msg *bridge.OutboundMessage) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	resp := c.device.handle(msg)
	go c.push(&bridge.Envelope{Origin: c.device.origin, Message: resp})

	return nil
}

func (c *emulatorConn) ReadEnvelope() (*bridge.Envelope, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	case env := <-c.in:
		return env, nil
	}
}

func (c *emulatorConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
