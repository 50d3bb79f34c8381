package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"spv-ledger/internal/domain/chain"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/pkg/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const defaultMaxBlockRange = 2000

// LogSource reads contract events with eth_getLogs in bounded block windows.
type LogSource struct {
	rpc      RPCClient
	maxRange uint64
	retry    retry.Policy
}

var _ chain.Source = (*LogSource)(nil)

func NewLogSource(rpc RPCClient, maxRange uint64, policy retry.Policy) *LogSource {
	if maxRange == 0 {
		maxRange = defaultMaxBlockRange
	}
	return &LogSource{rpc: rpc, maxRange: maxRange, retry: policy}
}

// EventsSince returns events from fromBlock to the head at call time in
// (block, tx index, log index) order. Removed logs are dropped.
func (s *LogSource) EventsSince(ctx context.Context, contract string, fromBlock uint64) ([]chain.Event, error) {
	head, err := retry.Value(ctx, s.retry, s.rpc.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("head block: %w", err)
	}
	if fromBlock > head {
		return []chain.Event{}, nil
	}

	addr := common.HexToAddress(contract)
	var logs []types.Log
	for start := fromBlock; start <= head; {
		end := start + s.maxRange - 1
		if end > head || end < start {
			end = head
		}
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{addr},
			Topics:    [][]common.Hash{EventTopics()},
		}
		chunk, err := retry.Value(ctx, s.retry, func(ctx context.Context) ([]types.Log, error) {
			return s.rpc.FilterLogs(ctx, q)
		})
		if err != nil {
			return nil, fmt.Errorf("get logs %d-%d: %w", start, end, err)
		}
		logs = append(logs, chunk...)
		if end == head {
			break
		}
		start = end + 1
	}
	return decodeLogs(logs), nil
}

func decodeLogs(logs []types.Log) []chain.Event {
	sort.SliceStable(logs, func(i, j int) bool {
		a, b := logs[i], logs[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TxIndex != b.TxIndex {
			return a.TxIndex < b.TxIndex
		}
		return a.Index < b.Index
	})

	out := make([]chain.Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := DecodeLog(lg)
		if err != nil {
			if !errors.Is(err, errNotIndexed) {
				logger.Warnf("evm: skipping undecodable log", logger.Fields{
					"TxHash": lg.TxHash.Hex(), "LogIndex": lg.Index, "Error": err.Error(),
				})
			}
			continue
		}
		out = append(out, ev)
	}
	return out
}
