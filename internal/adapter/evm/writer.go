package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/infrastructure/metrics"
	"spv-ledger/pkg/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrNoUSDC = errors.New("usdc address is not configured")

type WriterOptions struct {
	ChainID      *big.Int
	USDCAddress  string
	TxTimeout    time.Duration
	PollInterval time.Duration
	Retry        retry.Policy
	Metrics      *metrics.Metrics
}

// Writer signs and submits contract calls with the admin key and waits for
// each receipt. Calls are serialized so pending nonces never collide.
type Writer struct {
	*Reader
	signer   *Signer
	contract common.Address
	opts     WriterOptions

	mu sync.Mutex
}

var _ chain.Writer = (*Writer)(nil)

func NewWriter(rpc RPCClient, signer *Signer, contract string, opts WriterOptions) *Writer {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Writer{
		Reader:   NewReader(rpc, contract, opts.Retry),
		signer:   signer,
		contract: common.HexToAddress(contract),
		opts:     opts,
	}
}

func (w *Writer) Address() string { return lowerHex(w.signer.Address()) }

func (w *Writer) CreateToken(ctx context.Context, contract string, tokenID, supply, priceUnits *big.Int, uri string, fingerprint [32]byte) (*chain.Receipt, error) {
	data, err := tokenABI.Pack("createToken", tokenID, supply, priceUnits, uri, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("pack createToken: %w", err)
	}
	return w.call(ctx, "createToken", common.HexToAddress(contract), data)
}

func (w *Writer) CreateTrancheToken(ctx context.Context, contract string, p chain.TrancheParams) (*chain.Receipt, error) {
	data, err := tokenABI.Pack("createTrancheToken",
		p.ParentID, p.SeniorID, p.JuniorID,
		p.SeniorSupply, p.JuniorSupply,
		p.SeniorPrice, p.JuniorPrice,
		p.SeniorCap, p.URI, p.Fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("pack createTrancheToken: %w", err)
	}
	return w.call(ctx, "createTrancheToken", common.HexToAddress(contract), data)
}

// DepositDividends approves the contract to pull amountUnits of USDC, then deposits.
func (w *Writer) DepositDividends(ctx context.Context, contract string, tokenID, amountUnits *big.Int) (*chain.Receipt, error) {
	if w.opts.USDCAddress == "" {
		return nil, ErrNoUSDC
	}
	to := common.HexToAddress(contract)

	approve, err := erc20ABI.Pack("approve", to, amountUnits)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	if _, err := w.call(ctx, "approve", common.HexToAddress(w.opts.USDCAddress), approve); err != nil {
		return nil, err
	}

	data, err := tokenABI.Pack("depositDividends", tokenID, amountUnits)
	if err != nil {
		return nil, fmt.Errorf("pack depositDividends: %w", err)
	}
	return w.call(ctx, "depositDividends", to, data)
}

// TransferToken moves amount of tokenID from the admin wallet to `to`.
func (w *Writer) TransferToken(ctx context.Context, contract, to string, tokenID, amount *big.Int) (*chain.Receipt, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid recipient %q", to)
	}
	data, err := tokenABI.Pack("safeTransferFrom", w.signer.Address(), common.HexToAddress(to), tokenID, amount, []byte{})
	if err != nil {
		return nil, fmt.Errorf("pack safeTransferFrom: %w", err)
	}
	return w.call(ctx, "safeTransferFrom", common.HexToAddress(contract), data)
}

// Deploy creates a contract from its ABI and creation bytecode and returns its address.
func (w *Writer) Deploy(ctx context.Context, abiJSON string, bytecode []byte, args ...any) (string, *chain.Receipt, error) {
	parsed, err := ParseABI(abiJSON)
	if err != nil {
		return "", nil, err
	}
	input, err := parsed.Pack("", args...)
	if err != nil {
		return "", nil, fmt.Errorf("pack constructor: %w", err)
	}
	data := append(append([]byte{}, bytecode...), input...)

	rcpt, err := w.transact(ctx, "deploy", nil, data)
	w.opts.Metrics.ChainWrite("deploy", err)
	if err != nil {
		return "", nil, err
	}
	addr := lowerHex(rcpt.ContractAddress)
	logger.Infof("evm: contract deployed", logger.Fields{"Address": addr, "TxHash": rcpt.TxHash.Hex()})
	return addr, decodeReceipt(rcpt, rcpt.ContractAddress), nil
}

func (w *Writer) call(ctx context.Context, method string, to common.Address, data []byte) (*chain.Receipt, error) {
	rcpt, err := w.transact(ctx, method, &to, data)
	w.opts.Metrics.ChainWrite(method, err)
	if err != nil {
		return nil, err
	}
	return decodeReceipt(rcpt, w.contract), nil
}

// transact builds, signs and sends one transaction and waits for it to be mined.
// A nil `to` creates a contract.
func (w *Writer) transact(ctx context.Context, method string, to *common.Address, data []byte) (*types.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	from := w.signer.Address()
	chainID := w.opts.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		id, err := w.rpc.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: chain id: %w", method, err)
		}
		chainID = id
	}

	nonce, err := w.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%s: nonce: %w", method, err)
	}
	gas, err := w.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%s: estimate gas: %w", method, err)
	}
	gas = gas * 12 / 10

	head, err := w.rpc.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: head: %w", method, err)
	}

	var tx *types.Transaction
	if head.BaseFee != nil {
		tip, err := w.rpc.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: gas tip: %w", method, err)
		}
		feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        to,
			Value:     big.NewInt(0),
			Data:      data,
		})
	} else {
		price, err := w.rpc.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: gas price: %w", method, err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       to,
			Value:    big.NewInt(0),
			Data:     data,
		})
	}

	signed, err := w.signer.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("%s: sign: %w", method, err)
	}
	if err := w.rpc.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("%s: send: %w", method, err)
	}
	logger.Debugf("evm: tx sent", logger.Fields{"Method": method, "TxHash": signed.Hash().Hex(), "Nonce": nonce})

	rcpt, err := w.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s %s: %w", method, strings.ToLower(signed.Hash().Hex()), chain.ErrTxFailed)
	}
	return rcpt, nil
}

func (w *Writer) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.opts.TxTimeout)
	defer cancel()

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		rcpt, err := w.rpc.TransactionReceipt(ctx, hash)
		if err == nil && rcpt != nil {
			return rcpt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("tx %s not mined: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
