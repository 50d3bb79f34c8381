// Package evm talks to the loan token contract over JSON-RPC.
package evm

import (
	"context"
	"fmt"
	"math/big"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/pkg/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// RPCClient is the subset of *ethclient.Client the adapter uses.
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ RPCClient = (*ethclient.Client)(nil)

func Dial(ctx context.Context, rawURL string) (*ethclient.Client, error) {
	c, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", rawURL, err)
	}
	return c, nil
}

// Reader serves receipts, head and token URIs for one contract.
type Reader struct {
	rpc      RPCClient
	contract common.Address
	retry    retry.Policy
}

var _ chain.Reader = (*Reader)(nil)

func NewReader(rpc RPCClient, contract string, policy retry.Policy) *Reader {
	return &Reader{rpc: rpc, contract: common.HexToAddress(contract), retry: policy}
}

func (r *Reader) BlockNumber(ctx context.Context) (uint64, error) {
	return retry.Value(ctx, r.retry, r.rpc.BlockNumber)
}

// Receipt returns the mined receipt with the contract's events decoded.
func (r *Reader) Receipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	rcpt, err := retry.Value(ctx, r.retry, func(ctx context.Context) (*types.Receipt, error) {
		return r.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	})
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", txHash, err)
	}
	return decodeReceipt(rcpt, r.contract), nil
}

// TokenURI calls uri(id) on contract.
func (r *Reader) TokenURI(ctx context.Context, contract string, tokenID *big.Int) (string, error) {
	out, err := r.call(ctx, common.HexToAddress(contract), "uri", tokenID)
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("uri(%s): unexpected return type %T", tokenID, out[0])
	}
	return uri, nil
}

func (r *Reader) Sibling(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error) {
	return r.uint256(ctx, common.HexToAddress(contract), "sibling", tokenID)
}

func (r *Reader) TokenSupply(ctx context.Context, contract string, tokenID *big.Int) (*big.Int, error) {
	return r.uint256(ctx, common.HexToAddress(contract), "tokenSupply", tokenID)
}

func (r *Reader) BalanceOf(ctx context.Context, contract, holder string, tokenID *big.Int) (*big.Int, error) {
	return r.uint256(ctx, common.HexToAddress(contract), "balanceOf", common.HexToAddress(holder), tokenID)
}

// call packs method on the token ABI, executes it against latest state and unpacks.
func (r *Reader) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	data, err := tokenABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := retry.Value(ctx, r.retry, func(ctx context.Context) ([]byte, error) {
		return r.rpc.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := tokenABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s: empty result", method)
	}
	return out, nil
}

func (r *Reader) uint256(ctx context.Context, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := r.call(ctx, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected return type %T", method, out[0])
	}
	return v, nil
}
