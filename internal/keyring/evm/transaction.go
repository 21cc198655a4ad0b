package evm

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

var ErrInvalidTransaction = errors.New("invalid transaction request")

// ParseTransactionParams decodes the single-element params array of
// eth_signTransaction.
func ParseTransactionParams(params json.RawMessage) (*TransactionRequest, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(params, &list); err != nil || len(list) == 0 {
		return nil, errors.Wrap(ErrInvalidTransaction, "expected [transaction]")
	}

	var req TransactionRequest
	if err := json.Unmarshal(list[0], &req); err != nil {
		return nil, errors.Wrap(ErrInvalidTransaction, err.Error())
	}

	return &req, nil
}

// ToTransaction builds the unsigned transaction together with its chain id.
func (r *TransactionRequest) ToTransaction() (*types.Transaction, *big.Int, error) {
	if r.ChainID == nil {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "chainId is required")
	}
	chainID := r.ChainID.ToInt()

	gas := uint64(r.Gas)
	if gas == 0 {
		gas = uint64(r.GasLimit)
	}

	value := new(big.Int)
	if r.Value != nil {
		value = r.Value.ToInt()
	}

	if r.MaxFeePerGas != nil {
		tip := new(big.Int)
		if r.MaxPriorityFeePerGas != nil {
			tip = r.MaxPriorityFeePerGas.ToInt()
		}

		//nolint:varnamelen // tx is a common abbreviation for transaction
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     uint64(r.Nonce),
			GasTipCap: tip,
			GasFeeCap: r.MaxFeePerGas.ToInt(),
			Gas:       gas,
			To:        r.To,
			Value:     value,
			Data:      r.Data,
		})

		return tx, chainID, nil
	}

	if r.GasPrice == nil {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "either gasPrice or maxFeePerGas is required")
	}

	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(r.Nonce),
		GasPrice: r.GasPrice.ToInt(),
		Gas:      gas,
		To:       r.To,
		Value:    value,
		Data:     r.Data,
	})

	return tx, chainID, nil
}

// EncodeSigned marshals a signed transaction into the eth_signTransaction result.
func EncodeSigned(signedTx *types.Transaction) (json.RawMessage, error) {
	txBytes, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return json.Marshal(&SignedTransaction{
		RawTransaction: txBytes,
		TxHash:         signedTx.Hash(),
	})
}
