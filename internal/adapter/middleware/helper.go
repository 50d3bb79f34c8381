package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idemp:spv"

var (
	// UUID v1-v5 or 32 bare hex digits, lower-cased before matching
	reRequestID = regexp.MustCompile(`^(?:[a-f0-9]{8}-[a-f0-9]{4}-[1-5][a-f0-9]{3}-[89ab][a-f0-9]{3}-[a-f0-9]{12}|[a-f0-9]{32})$`)
	reWallet    = regexp.MustCompile(`^0x[a-f0-9]{40}$`)
)

func nowUTC() time.Time { return time.Now().UTC() }

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// replayKey scopes an entry to the route pattern and the operator wallet, so
// two operators reusing one request id never see each other's responses.
func replayKey(method, route string, h guardHeaders) string {
	return strings.Join([]string{keyPrefix, strings.ToLower(method), route, h.operator, h.requestID}, ":")
}

func normalizeRequestID(raw string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(raw))
	return id, reRequestID.MatchString(id)
}

// normalizeOperator returns the lower-cased wallet an admin signs requests as.
func normalizeOperator(raw string) (string, bool) {
	op := strings.ToLower(strings.TrimSpace(raw))
	return op, reWallet.MatchString(op)
}

// operatorSet is nil when no allow-list is configured.
func operatorSet(wallets []string) map[string]bool {
	if len(wallets) == 0 {
		return nil
	}
	out := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		if op, ok := normalizeOperator(w); ok {
			out[op] = true
		}
	}
	return out
}

// parseRequestAt reads Ax-Request-At as epoch seconds, epoch milliseconds or
// RFC3339 with a zone, and refuses stamps further than maxClockSkew from now.
func parseRequestAt(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("missing " + HeaderRequestAt)
	}
	var at time.Time
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// 1e12 ms is 2001; any later second count is out of skew anyway
		if n > 1e12 {
			at = time.UnixMilli(n)
		} else {
			at = time.Unix(n, 0)
		}
	} else if at, err = time.Parse(time.RFC3339Nano, raw); err != nil {
		return time.Time{}, fmt.Errorf("%s must be epoch (s/ms) or RFC3339 with timezone", HeaderRequestAt)
	}
	at = at.UTC()
	if d := at.Sub(now); d < -maxClockSkew || d > maxClockSkew {
		return time.Time{}, errors.New(HeaderRequestAt + " too skewed")
	}
	return at, nil
}

// entryStore keeps replay entries in Redis as JSON.
type entryStore struct{ rdb *redis.Client }

// claim writes the in-progress marker; false means another attempt owns the key.
func (s entryStore) claim(ctx context.Context, key string, e idempEntry) (bool, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	return s.rdb.SetNX(ctx, key, payload, provisionalLockTTL).Result()
}

func (s entryStore) load(ctx context.Context, key string) (idempEntry, error) {
	var e idempEntry
	v, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(v, &e); err != nil {
		return idempEntry{}, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return e, nil
}

func (s entryStore) finish(ctx context.Context, key string, e idempEntry, ttl time.Duration) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, payload, ttl).Err()
}

func (s entryStore) release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
