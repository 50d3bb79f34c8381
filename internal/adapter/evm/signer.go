package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

var ErrNoSigner = errors.New("no signing key configured")

// Signer holds the admin key used for every contract write.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner loads a hex private key, with or without 0x.
func NewKeySigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoSigner
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewMnemonicSigner derives account index from a BIP-39 mnemonic on m/44'/60'/0'/0/i.
func NewMnemonicSigner(mnemonic string, index int) (*Signer, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, ErrNoSigner
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	wallet, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet from mnemonic: %w", err)
	}
	path, err := hdwallet.ParseDerivationPath(fmt.Sprintf("m/44'/60'/0'/0/%d", index))
	if err != nil {
		return nil, fmt.Errorf("failed to parse derivation path: %w", err)
	}
	account, err := wallet.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to derive account: %w", err)
	}
	pk, err := wallet.PrivateKey(account)
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	// re-encode so the key carries go-ethereum's secp256k1 curve
	key, err := crypto.ToECDSA(crypto.FromECDSA(pk))
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, address: account.Address}, nil
}

// NewSigner prefers an explicit key over a mnemonic.
func NewSigner(privateKey, mnemonic string, index int) (*Signer, error) {
	if strings.TrimSpace(privateKey) != "" {
		return NewKeySigner(privateKey)
	}
	return NewMnemonicSigner(mnemonic, index)
}

func (s *Signer) Address() common.Address { return s.address }

func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
