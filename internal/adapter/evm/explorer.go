package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/pkg/retry"

	fastshot "github.com/opus-domini/fast-shot"
)

const (
	defaultExplorerPageSize = 1000
	noTransactionsFound     = "No transactions found"
)

type ExplorerOptions struct {
	// BaseURL is the explorer API root, e.g. https://api.routescan.io/v2/network/testnet/evm/43113/etherscan
	BaseURL  string
	APIKey   string
	PageSize int
	Timeout  time.Duration
	Retry    retry.Policy
}

// ExplorerSource lists the contract's transactions through an etherscan-compatible
// txlist API and re-reads each successful one as a receipt from the node.
type ExplorerSource struct {
	opts   ExplorerOptions
	reader chain.Reader
}

var _ chain.Source = (*ExplorerSource)(nil)

func NewExplorerSource(opts ExplorerOptions, reader chain.Reader) *ExplorerSource {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultExplorerPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &ExplorerSource{opts: opts, reader: reader}
}

type explorerTx struct {
	BlockNumber      string `json:"blockNumber"`
	TransactionIndex string `json:"transactionIndex"`
	Hash             string `json:"hash"`
	To               string `json:"to"`
	IsError          string `json:"isError"`
	ReceiptStatus    string `json:"txreceipt_status"`
}

type explorerResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func (s *ExplorerSource) EventsSince(ctx context.Context, contract string, fromBlock uint64) ([]chain.Event, error) {
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("head block: %w", err)
	}
	if fromBlock > head {
		return []chain.Event{}, nil
	}

	txs, err := s.transactions(ctx, contract, fromBlock, head)
	if err != nil {
		return nil, err
	}

	out := []chain.Event{}
	for _, tx := range txs {
		rcpt, err := s.reader.Receipt(ctx, tx.Hash)
		if err != nil {
			return nil, err
		}
		if !rcpt.Succeeded() {
			logger.Debugf("evm: skipping failed tx", logger.Fields{"TxHash": tx.Hash})
			continue
		}
		out = append(out, rcpt.Events...)
	}
	return out, nil
}

// transactions pages through txlist and keeps successful calls into contract.
func (s *ExplorerSource) transactions(ctx context.Context, contract string, from, to uint64) ([]explorerTx, error) {
	contract = strings.ToLower(contract)
	var all []explorerTx
	for page := 1; ; page++ {
		batch, err := retry.Value(ctx, s.opts.Retry, func(ctx context.Context) ([]explorerTx, error) {
			return s.page(ctx, contract, from, to, page)
		})
		if err != nil {
			return nil, fmt.Errorf("explorer txlist page %d: %w", page, err)
		}
		for _, tx := range batch {
			if strings.ToLower(tx.To) != contract || tx.IsError == "1" || tx.ReceiptStatus == "0" {
				continue
			}
			all = append(all, tx)
		}
		if len(batch) < s.opts.PageSize {
			break
		}
	}

	seen := make(map[string]bool, len(all))
	uniq := all[:0]
	for _, tx := range all {
		h := strings.ToLower(tx.Hash)
		if seen[h] {
			continue
		}
		seen[h] = true
		uniq = append(uniq, tx)
	}
	sort.SliceStable(uniq, func(i, j int) bool {
		bi, bj := parseUint(uniq[i].BlockNumber), parseUint(uniq[j].BlockNumber)
		if bi != bj {
			return bi < bj
		}
		return parseUint(uniq[i].TransactionIndex) < parseUint(uniq[j].TransactionIndex)
	})
	return uniq, nil
}

func (s *ExplorerSource) page(ctx context.Context, contract string, from, to uint64, page int) ([]explorerTx, error) {
	params := map[string]string{
		"module":     "account",
		"action":     "txlist",
		"address":    contract,
		"startblock": strconv.FormatUint(from, 10),
		"endblock":   strconv.FormatUint(to, 10),
		"page":       strconv.Itoa(page),
		"offset":     strconv.Itoa(s.opts.PageSize),
		"sort":       "asc",
	}
	if s.opts.APIKey != "" {
		params["apikey"] = s.opts.APIKey
	}

	res, err := fastshot.NewClient(s.opts.BaseURL).
		Config().SetTimeout(s.opts.Timeout).
		Header().Add("Accept", "application/json").
		Build().GET("/api").
		Context().Set(ctx).
		Query().AddParams(params).Send()
	if err != nil {
		return nil, err
	}
	body := res.RawBody()
	defer body.Close()

	if res.RawResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", res.RawResponse.StatusCode)
	}
	var data explorerResponse
	if err := json.NewDecoder(body).Decode(&data); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode: %w", err))
	}
	if data.Status != "1" {
		if data.Message == noTransactionsFound {
			return nil, nil
		}
		var detail string
		_ = json.Unmarshal(data.Result, &detail)
		return nil, fmt.Errorf("explorer error: %s %s", data.Message, detail)
	}
	var txs []explorerTx
	if err := json.Unmarshal(data.Result, &txs); err != nil {
		return nil, retry.Permanent(errors.New("explorer result is not a transaction list"))
	}
	return txs, nil
}

func parseUint(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}
