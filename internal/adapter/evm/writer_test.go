package evm

import (
	"bytes"
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"spv-ledger/internal/domain/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, rpc *fakeRPC) *Writer {
	t.Helper()
	s, err := NewKeySigner(adminKey)
	require.NoError(t, err)
	return NewWriter(rpc, s, tokenAddr.Hex(), WriterOptions{
		USDCAddress:  usdcAddr.Hex(),
		PollInterval: time.Millisecond,
		TxTimeout:    time.Second,
		Retry:        fastRetry,
	})
}

func selector(method string) []byte { return tokenABI.Methods[method].ID }

func TestWriter_DepositApprovesFirst(t *testing.T) {
	rpc := newFakeRPC()
	rpc.receiptFor = func(tx *types.Transaction) *types.Receipt {
		r := &types.Receipt{Status: types.ReceiptStatusSuccessful}
		if *tx.To() == tokenAddr {
			lg := dividendsLog(t, 0, 2, common.Hash{}, 77, 1_000_000)
			r.Logs = []*types.Log{&lg}
		}
		return r
	}
	w := newTestWriter(t, rpc)

	rcpt, err := w.DepositDividends(context.Background(), tokenAddr.Hex(), big.NewInt(77), big.NewInt(1_000_000))
	require.NoError(t, err)

	require.Len(t, rpc.sent, 2)
	approve, deposit := rpc.sent[0], rpc.sent[1]
	assert.Equal(t, usdcAddr, *approve.To())
	assert.True(t, bytes.HasPrefix(approve.Data(), erc20ABI.Methods["approve"].ID))
	assert.Equal(t, tokenAddr, *deposit.To())
	assert.True(t, bytes.HasPrefix(deposit.Data(), selector("depositDividends")))
	assert.Equal(t, approve.Nonce()+1, deposit.Nonce())
	assert.Equal(t, uint8(types.DynamicFeeTxType), deposit.Type())

	from, err := types.Sender(types.LatestSignerForChainID(rpc.chainID), deposit)
	require.NoError(t, err)
	assert.Equal(t, adminAddr, from)

	ev, err := rcpt.First(chain.KindDividendsDeposited)
	require.NoError(t, err)
	assert.Equal(t, uint(2), ev.LogIndex)
	assert.Equal(t, strings.ToLower(deposit.Hash().Hex()), rcpt.TxHash)
	assert.Equal(t, rcpt.TxHash, ev.TxHash)
}

func TestWriter_DepositWithoutUSDC(t *testing.T) {
	rpc := newFakeRPC()
	w := newTestWriter(t, rpc)
	w.opts.USDCAddress = ""

	_, err := w.DepositDividends(context.Background(), tokenAddr.Hex(), big.NewInt(1), big.NewInt(1))
	assert.ErrorIs(t, err, ErrNoUSDC)
	assert.Empty(t, rpc.sent)
}

func TestWriter_RevertedTx(t *testing.T) {
	rpc := newFakeRPC()
	rpc.receiptFor = func(*types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusFailed}
	}
	w := newTestWriter(t, rpc)

	_, err := w.CreateToken(context.Background(), tokenAddr.Hex(), big.NewInt(1), big.NewInt(100), big.NewInt(1_000_000), "ipfs://Qm", [32]byte{})
	assert.ErrorIs(t, err, chain.ErrTxFailed)
}

func TestWriter_LegacyGasWithoutBaseFee(t *testing.T) {
	rpc := newFakeRPC()
	rpc.baseFee = nil
	w := newTestWriter(t, rpc)

	_, err := w.TransferToken(context.Background(), tokenAddr.Hex(), aliceAddr.Hex(), big.NewInt(1), big.NewInt(10))
	require.NoError(t, err)
	require.Len(t, rpc.sent, 1)
	assert.Equal(t, uint8(types.LegacyTxType), rpc.sent[0].Type())
	assert.True(t, bytes.HasPrefix(rpc.sent[0].Data(), selector("safeTransferFrom")))

	args, err := tokenABI.Methods["safeTransferFrom"].Inputs.Unpack(rpc.sent[0].Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, adminAddr, args[0])
	assert.Equal(t, aliceAddr, args[1])

	_, err = w.TransferToken(context.Background(), tokenAddr.Hex(), "not-an-address", big.NewInt(1), big.NewInt(1))
	assert.Error(t, err)
}

func TestWriter_TrancheCallPacksAllArgs(t *testing.T) {
	rpc := newFakeRPC()
	w := newTestWriter(t, rpc)

	p := chain.TrancheParams{
		ParentID: big.NewInt(1), SeniorID: big.NewInt(101), JuniorID: big.NewInt(102),
		SeniorSupply: big.NewInt(70), JuniorSupply: big.NewInt(30),
		SeniorPrice: big.NewInt(1_000_000), JuniorPrice: big.NewInt(1_000_000),
		SeniorCap: big.NewInt(154_285_714), URI: "ipfs://QmX",
	}
	_, err := w.CreateTrancheToken(context.Background(), tokenAddr.Hex(), p)
	require.NoError(t, err)

	args, err := tokenABI.Methods["createTrancheToken"].Inputs.Unpack(rpc.sent[0].Data()[4:])
	require.NoError(t, err)
	require.Len(t, args, 10)
	assert.Equal(t, int64(102), args[2].(*big.Int).Int64())
	assert.Equal(t, "ipfs://QmX", args[8])
}

func TestWriter_ViewCalls(t *testing.T) {
	rpc := newFakeRPC()
	rpc.callFn = func(msg ethereum.CallMsg) ([]byte, error) {
		switch {
		case bytes.HasPrefix(msg.Data, selector("sibling")):
			return tokenABI.Methods["sibling"].Outputs.Pack(big.NewInt(102))
		case bytes.HasPrefix(msg.Data, selector("tokenSupply")):
			return tokenABI.Methods["tokenSupply"].Outputs.Pack(big.NewInt(70))
		case bytes.HasPrefix(msg.Data, selector("uri")):
			return tokenABI.Methods["uri"].Outputs.Pack("ipfs://QmMeta")
		}
		return tokenABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(3))
	}
	w := newTestWriter(t, rpc)
	ctx := context.Background()

	sib, err := w.Sibling(ctx, tokenAddr.Hex(), big.NewInt(101))
	require.NoError(t, err)
	assert.Equal(t, int64(102), sib.Int64())

	supply, err := w.TokenSupply(ctx, tokenAddr.Hex(), big.NewInt(101))
	require.NoError(t, err)
	assert.Equal(t, int64(70), supply.Int64())

	uri, err := w.TokenURI(ctx, tokenAddr.Hex(), big.NewInt(101))
	require.NoError(t, err)
	assert.Equal(t, "ipfs://QmMeta", uri)

	bal, err := w.BalanceOf(ctx, tokenAddr.Hex(), aliceAddr.Hex(), big.NewInt(101))
	require.NoError(t, err)
	assert.Equal(t, int64(3), bal.Int64())
}

func TestWriter_Deploy(t *testing.T) {
	rpc := newFakeRPC()
	deployed := common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	rpc.receiptFor = func(tx *types.Transaction) *types.Receipt {
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, ContractAddress: deployed}
	}
	w := newTestWriter(t, rpc)

	ctorABI := `[{"type":"constructor","inputs":[{"name":"usdc","type":"address"}]}]`
	addr, _, err := w.Deploy(context.Background(), ctorABI, []byte{0x60, 0x80}, usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(deployed.Hex()), addr)

	require.Len(t, rpc.sent, 1)
	assert.Nil(t, rpc.sent[0].To())
	assert.True(t, bytes.HasPrefix(rpc.sent[0].Data(), []byte{0x60, 0x80}))
	assert.Len(t, rpc.sent[0].Data(), 2+32)
}

func TestReader_Receipt(t *testing.T) {
	rpc := newFakeRPC()
	lg := transferLog(t, 0, 0, 5, common.Hash{}, common.Address{}, aliceAddr, 1, 1)
	h := txHash(7)
	rpc.receipts[h] = &types.Receipt{
		TxHash: h, BlockNumber: big.NewInt(44), Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{&lg},
	}
	r := NewReader(rpc, tokenAddr.Hex(), fastRetry)

	rcpt, err := r.Receipt(context.Background(), h.Hex())
	require.NoError(t, err)
	require.Len(t, rcpt.Events, 1)
	assert.Equal(t, uint64(44), rcpt.Events[0].BlockNumber)

	_, err = r.Receipt(context.Background(), txHash(8).Hex())
	assert.ErrorIs(t, err, ethereum.NotFound)
}
