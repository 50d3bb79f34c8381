package metadata

import (
	"context"
	"errors"
)

var ErrContentUnavailable = errors.New("metadata content unavailable from every gateway")

// Store is the content-addressed document store. Fetch returns the raw bytes
// so the caller can verify them against the on-chain commitment.
type Store interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
	Put(ctx context.Context, doc Document) (string, error)
}

// URI renders a content id in the form stored on-chain.
func URI(cid string) string { return "ipfs://" + cid }
