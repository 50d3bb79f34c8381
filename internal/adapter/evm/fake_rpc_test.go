package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	usdcAddr  = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	adminAddr = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	aliceAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	bobAddr   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
)

// hardhat account #0
const adminKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeRPC struct {
	mu sync.Mutex

	chainID *big.Int
	head    uint64
	baseFee *big.Int
	nonce   uint64

	logs        []types.Log
	filterCalls []ethereum.FilterQuery
	filterErrs  []error

	sent []*types.Transaction
	// receiptFor builds the mined receipt of a sent tx; nil means status 1, no logs.
	receiptFor func(tx *types.Transaction) *types.Receipt
	receipts   map[common.Hash]*types.Receipt

	callFn func(msg ethereum.CallMsg) ([]byte, error)
}

var _ RPCClient = (*fakeRPC)(nil)

func newFakeRPC() *fakeRPC {
	return &fakeRPC{
		chainID:  big.NewInt(31337),
		baseFee:  big.NewInt(1_000_000_000),
		receipts: map[common.Hash]*types.Receipt{},
	}
}

func (f *fakeRPC) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeRPC) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeRPC) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: f.baseFee}, nil
}

func (f *fakeRPC) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterCalls = append(f.filterCalls, q)
	if len(f.filterErrs) > 0 {
		err := f.filterErrs[0]
		f.filterErrs = f.filterErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []types.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (f *fakeRPC) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[h]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeRPC) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callFn == nil {
		return nil, errors.New("no call handler")
	}
	return f.callFn(msg)
}

func (f *fakeRPC) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeRPC) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(2_000_000_000), nil }

func (f *fakeRPC) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1_000_000), nil }

func (f *fakeRPC) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 100_000, nil }

func (f *fakeRPC) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	f.head++

	r := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	if f.receiptFor != nil {
		r = f.receiptFor(tx)
	}
	r.TxHash = tx.Hash()
	r.BlockNumber = new(big.Int).SetUint64(f.head)
	for _, lg := range r.Logs {
		lg.TxHash = tx.Hash()
		lg.BlockNumber = f.head
	}
	f.receipts[tx.Hash()] = r
	return nil
}

// log builders

func packData(t *testing.T, event string, args ...any) []byte {
	t.Helper()
	data, err := tokenABI.Events[event].Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return data
}

func transferLog(t *testing.T, block uint64, txIndex, index uint, tx common.Hash, from, to common.Address, id, value int64) types.Log {
	return types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{topicTransferSingle, common.BytesToHash(adminAddr.Bytes()), common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        packData(t, "TransferSingle", big.NewInt(id), big.NewInt(value)),
		BlockNumber: block,
		TxHash:      tx,
		TxIndex:     txIndex,
		Index:       index,
	}
}

func createdLog(t *testing.T, block uint64, index uint, tx common.Hash, id int64, fp [32]byte) types.Log {
	return types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{topicTokenCreated, common.BigToHash(big.NewInt(id))},
		Data:        packData(t, "TokenCreated", big.NewInt(100), big.NewInt(1_000_000), fp),
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

func dividendsLog(t *testing.T, block uint64, index uint, tx common.Hash, id, amount int64) types.Log {
	return types.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{topicDividendsDeposited, common.BytesToHash(adminAddr.Bytes())},
		Data:        packData(t, "DividendsDeposited", big.NewInt(id), big.NewInt(amount), big.NewInt(42)),
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

func txHash(n byte) common.Hash { return common.BytesToHash([]byte{n}) }
