package evm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TokenABI covers the events the ledger indexes and the calls the admin path makes
// on the loan token contract (ERC-1155 with dividend accounting).
const TokenABI = `[
{"anonymous":false,"name":"TransferSingle","type":"event","inputs":[
 {"indexed":true,"name":"operator","type":"address"},
 {"indexed":true,"name":"from","type":"address"},
 {"indexed":true,"name":"to","type":"address"},
 {"indexed":false,"name":"id","type":"uint256"},
 {"indexed":false,"name":"value","type":"uint256"}]},
{"anonymous":false,"name":"TokenCreated","type":"event","inputs":[
 {"indexed":true,"name":"id","type":"uint256"},
 {"indexed":false,"name":"initialSupply","type":"uint256"},
 {"indexed":false,"name":"priceUSDC","type":"uint256"},
 {"indexed":false,"name":"fingerprint","type":"bytes32"}]},
{"anonymous":false,"name":"DividendsDeposited","type":"event","inputs":[
 {"indexed":true,"name":"depositor","type":"address"},
 {"indexed":false,"name":"tokenId","type":"uint256"},
 {"indexed":false,"name":"amount","type":"uint256"},
 {"indexed":false,"name":"magnifiedDividendPerShare","type":"uint256"}]},
{"name":"createToken","type":"function","stateMutability":"nonpayable","outputs":[],"inputs":[
 {"name":"id","type":"uint256"},
 {"name":"initialSupply","type":"uint256"},
 {"name":"priceUSDC","type":"uint256"},
 {"name":"tokenURI","type":"string"},
 {"name":"fingerprint","type":"bytes32"}]},
{"name":"createTrancheToken","type":"function","stateMutability":"nonpayable","outputs":[],"inputs":[
 {"name":"parentId","type":"uint256"},
 {"name":"seniorId","type":"uint256"},
 {"name":"juniorId","type":"uint256"},
 {"name":"seniorSupply","type":"uint256"},
 {"name":"juniorSupply","type":"uint256"},
 {"name":"seniorPrice","type":"uint256"},
 {"name":"juniorPrice","type":"uint256"},
 {"name":"seniorCap","type":"uint256"},
 {"name":"tokenURI","type":"string"},
 {"name":"fingerprint","type":"bytes32"}]},
{"name":"depositDividends","type":"function","stateMutability":"nonpayable","outputs":[],"inputs":[
 {"name":"tokenId","type":"uint256"},
 {"name":"amount","type":"uint256"}]},
{"name":"safeTransferFrom","type":"function","stateMutability":"nonpayable","outputs":[],"inputs":[
 {"name":"from","type":"address"},
 {"name":"to","type":"address"},
 {"name":"id","type":"uint256"},
 {"name":"amount","type":"uint256"},
 {"name":"data","type":"bytes"}]},
{"name":"sibling","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"tokenSupply","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"uri","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"totalSlices","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"withdrawableDividendOf","type":"function","stateMutability":"view","inputs":[{"name":"id","type":"uint256"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// ERC20ABI is the subset of the settlement stablecoin used before a deposit.
const ERC20ABI = `[
{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	tokenABI = mustParseABI(TokenABI)
	erc20ABI = mustParseABI(ERC20ABI)

	topicTokenCreated       = tokenABI.Events["TokenCreated"].ID
	topicTransferSingle     = tokenABI.Events["TransferSingle"].ID
	topicDividendsDeposited = tokenABI.Events["DividendsDeposited"].ID
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("evm: parse abi: %v", err))
	}
	return parsed
}

// EventTopics are the topic0 values of every indexed event kind.
func EventTopics() []common.Hash {
	return []common.Hash{topicTokenCreated, topicTransferSingle, topicDividendsDeposited}
}

// ParseABI parses a contract ABI supplied at runtime, e.g. for deployment.
func ParseABI(raw string) (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// ConstructorArgs converts command-line strings into the Go values the
// constructor of parsed expects. Supported input types are address, uintN,
// intN, bool and string.
func ConstructorArgs(parsed abi.ABI, raw []string) ([]any, error) {
	inputs := parsed.Constructor.Inputs
	if len(raw) != len(inputs) {
		return nil, fmt.Errorf("constructor takes %d arguments, got %d", len(inputs), len(raw))
	}
	out := make([]any, len(raw))
	for i, in := range inputs {
		s := strings.TrimSpace(raw[i])
		switch in.Type.T {
		case abi.AddressTy:
			if !common.IsHexAddress(s) {
				return nil, fmt.Errorf("argument %s: invalid address %q", in.Name, s)
			}
			out[i] = common.HexToAddress(s)
		case abi.UintTy, abi.IntTy:
			n, ok := new(big.Int).SetString(s, 10)
			if !ok {
				return nil, fmt.Errorf("argument %s: invalid integer %q", in.Name, s)
			}
			if in.Type.Size > 64 {
				out[i] = n
				break
			}
			v, err := smallInt(in.Type, n)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", in.Name, err)
			}
			out[i] = v
		case abi.BoolTy:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, fmt.Errorf("argument %s: invalid bool %q", in.Name, s)
			}
			out[i] = b
		case abi.StringTy:
			out[i] = raw[i]
		default:
			return nil, fmt.Errorf("argument %s: unsupported type %s", in.Name, in.Type.String())
		}
	}
	return out, nil
}

// smallInt narrows n to the fixed-width Go type the abi packer requires for
// integers of 64 bits or fewer.
func smallInt(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for uint%d", n, t.Size)
		}
		u := n.Uint64()
		switch t.Size {
		case 8:
			return uint8(u), nil
		case 16:
			return uint16(u), nil
		case 32:
			return uint32(u), nil
		default:
			return u, nil
		}
	}
	if !n.IsInt64() || n.BitLen() >= t.Size {
		return nil, fmt.Errorf("%s out of range for int%d", n, t.Size)
	}
	v := n.Int64()
	switch t.Size {
	case 8:
		return int8(v), nil
	case 16:
		return int16(v), nil
	case 32:
		return int32(v), nil
	default:
		return v, nil
	}
}
