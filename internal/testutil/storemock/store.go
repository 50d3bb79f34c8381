package storemock

import (
	"context"
	"sync"

	"spv-ledger/internal/domain/metadata"
)

var _ metadata.Store = (*Store)(nil)

// Store is an in-memory metadata.Store keyed by content id.
type Store struct {
	mu      sync.Mutex
	Docs    map[string][]byte
	PutErr  error
	Fetches int
}

func New() *Store {
	return &Store{Docs: map[string][]byte{}}
}

// Add registers raw bytes under cid.
func (s *Store) Add(cid string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Docs[cid] = raw
}

func (s *Store) Fetch(_ context.Context, cid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fetches++
	raw, ok := s.Docs[cid]
	if !ok {
		return nil, metadata.ErrContentUnavailable
	}
	return raw, nil
}

// Put stores the canonical encoding under its commitment hex.
func (s *Store) Put(_ context.Context, doc metadata.Document) (string, error) {
	if s.PutErr != nil {
		return "", s.PutErr
	}
	raw, err := metadata.Encode(doc)
	if err != nil {
		return "", err
	}
	h, err := metadata.CommitBytes(raw)
	if err != nil {
		return "", err
	}
	cid := "Qm" + h.Hex()[2:48]
	s.Add(cid, raw)
	return cid, nil
}
