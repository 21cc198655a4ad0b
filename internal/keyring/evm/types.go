package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TransactionRequest is the eth_signTransaction parameter object.
// EIP-1559 fields take precedence over gasPrice when both are present.
type TransactionRequest struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasLimit             hexutil.Uint64  `json:"gasLimit,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
}

// SignedTransaction is the eth_signTransaction result.
type SignedTransaction struct {
	RawTransaction hexutil.Bytes `json:"rawTransaction"` // RLP-encoded signed transaction
	TxHash         common.Hash   `json:"hash"`
}
