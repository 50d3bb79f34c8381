package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hardhatMnemonic = "test test test test test test test test test test test junk"

func TestNewMnemonicSigner(t *testing.T) {
	s, err := NewMnemonicSigner(hardhatMnemonic, 0)
	require.NoError(t, err)
	assert.Equal(t, adminAddr, s.Address())

	s1, err := NewMnemonicSigner(hardhatMnemonic, 1)
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, s1.Address())
}

func TestNewKeySigner(t *testing.T) {
	s, err := NewKeySigner(adminKey)
	require.NoError(t, err)
	assert.Equal(t, adminAddr, s.Address())

	_, err = NewKeySigner("0xnothex")
	assert.Error(t, err)
}

func TestNewSigner_Precedence(t *testing.T) {
	s, err := NewSigner(adminKey, "not a valid mnemonic", 5)
	require.NoError(t, err)
	assert.Equal(t, adminAddr, s.Address())

	_, err = NewSigner("", "", 0)
	assert.ErrorIs(t, err, ErrNoSigner)

	_, err = NewSigner("", "alpha beta gamma", 0)
	assert.Error(t, err)
}
