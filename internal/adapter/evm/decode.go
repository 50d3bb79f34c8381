package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"spv-ledger/internal/domain/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errNotIndexed = errors.New("log is not an indexed event")

func lowerHex(a common.Address) string { return strings.ToLower(a.Hex()) }

func topicAddress(h common.Hash) string { return lowerHex(common.BytesToAddress(h.Bytes())) }

// DecodeLog converts a contract log into a chain.Event. Logs whose topic0 is not
// one of the indexed events return errNotIndexed.
func DecodeLog(lg types.Log) (chain.Event, error) {
	ev := chain.Event{
		Contract:    lowerHex(lg.Address),
		TxHash:      strings.ToLower(lg.TxHash.Hex()),
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}
	if len(lg.Topics) == 0 {
		return ev, errNotIndexed
	}

	switch lg.Topics[0] {
	case topicTokenCreated:
		if len(lg.Topics) != 2 {
			return ev, fmt.Errorf("TokenCreated: want 2 topics, got %d", len(lg.Topics))
		}
		vals, err := tokenABI.Unpack("TokenCreated", lg.Data)
		if err != nil {
			return ev, fmt.Errorf("TokenCreated: %w", err)
		}
		fp, ok := vals[2].([32]byte)
		if !ok {
			return ev, errors.New("TokenCreated: fingerprint is not bytes32")
		}
		ev.Kind = chain.KindTokenCreated
		ev.TokenCreated = &chain.TokenCreated{
			TokenID:     new(big.Int).SetBytes(lg.Topics[1].Bytes()),
			Supply:      vals[0].(*big.Int),
			PriceUnits:  vals[1].(*big.Int),
			Fingerprint: fp,
		}

	case topicTransferSingle:
		if len(lg.Topics) != 4 {
			return ev, fmt.Errorf("TransferSingle: want 4 topics, got %d", len(lg.Topics))
		}
		vals, err := tokenABI.Unpack("TransferSingle", lg.Data)
		if err != nil {
			return ev, fmt.Errorf("TransferSingle: %w", err)
		}
		ev.Kind = chain.KindTransferSingle
		ev.TransferSingle = &chain.TransferSingle{
			Operator: topicAddress(lg.Topics[1]),
			From:     topicAddress(lg.Topics[2]),
			To:       topicAddress(lg.Topics[3]),
			TokenID:  vals[0].(*big.Int),
			Value:    vals[1].(*big.Int),
		}

	case topicDividendsDeposited:
		if len(lg.Topics) != 2 {
			return ev, fmt.Errorf("DividendsDeposited: want 2 topics, got %d", len(lg.Topics))
		}
		vals, err := tokenABI.Unpack("DividendsDeposited", lg.Data)
		if err != nil {
			return ev, fmt.Errorf("DividendsDeposited: %w", err)
		}
		ev.Kind = chain.KindDividendsDeposited
		ev.DividendsDeposited = &chain.DividendsDeposited{
			Depositor: topicAddress(lg.Topics[1]),
			TokenID:   vals[0].(*big.Int),
			Amount:    vals[1].(*big.Int),
			PerShare:  vals[2].(*big.Int),
		}

	default:
		return ev, errNotIndexed
	}
	return ev, nil
}

// decodeReceipt keeps the indexed events emitted by contract, in log order.
// A zero contract keeps events from any address.
func decodeReceipt(r *types.Receipt, contract common.Address) *chain.Receipt {
	out := &chain.Receipt{
		TxHash: strings.ToLower(r.TxHash.Hex()),
		Status: r.Status,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	for _, lg := range r.Logs {
		if lg == nil || (contract != (common.Address{}) && lg.Address != contract) {
			continue
		}
		ev, err := DecodeLog(*lg)
		if err != nil {
			continue
		}
		if ev.BlockNumber == 0 {
			ev.BlockNumber = out.BlockNumber
		}
		if ev.TxHash == "" || ev.TxHash == strings.ToLower(common.Hash{}.Hex()) {
			ev.TxHash = out.TxHash
		}
		out.Events = append(out.Events, ev)
	}
	return out
}
