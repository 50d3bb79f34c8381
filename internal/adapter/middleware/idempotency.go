package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/infrastructure/metrics"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

const (
	HeaderRequestID = "Ax-Request-Id"
	HeaderRequestAt = "Ax-Request-At"
	HeaderOperator  = "Ax-Operator"

	// How long a request may hold the in-progress marker before another attempt can take over.
	provisionalLockTTL = 60 * time.Second
	// Allowed client/server clock skew for Ax-Request-At.
	maxClockSkew = 10 * time.Minute
	storeTimeout = 2 * time.Second
)

type Options struct {
	// TTL keeps a finished response for replay.
	TTL time.Duration
	// Operators restricts guarded writes to these wallets. Empty admits any well-formed address.
	Operators []string
	Metrics   *metrics.Metrics
}

type idempEntry struct {
	InProgress  bool      `json:"in_progress"`
	Code        int       `json:"code"`
	Body        []byte    `json:"body"`
	BodySHA256  string    `json:"body_sha256"`
	RequestID   string    `json:"request_id"`
	RequestAtMS int64     `json:"request_at_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

type respRecorder struct {
	w    http.ResponseWriter
	buf  *bytes.Buffer
	code int
}

func (r *respRecorder) Header() http.Header { return r.w.Header() }
func (r *respRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.w.Write(b)
}
func (r *respRecorder) WriteHeader(statusCode int) { r.code = statusCode; r.w.WriteHeader(statusCode) }

// guardHeaders are the validated request headers of one guarded write.
type guardHeaders struct {
	requestID string
	requestAt time.Time
	operator  string
}

type guard struct {
	store     entryStore
	opts      Options
	operators map[string]bool
}

// Idempotency guards admin writes that move tokens or money: a retried
// request with the same Ax-Request-Id from the same operator replays the
// first response instead of running again. Server errors release the key so
// the client may retry. GET, HEAD and OPTIONS pass through.
func Idempotency(rdb *redis.Client, opts Options) echo.MiddlewareFunc {
	g := &guard{store: entryStore{rdb: rdb}, opts: opts, operators: operatorSet(opts.Operators)}
	return g.handle
}

func (g *guard) handle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		switch req.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return next(c)
		}

		hdr, code, msg := g.parseHeaders(req.Header)
		if code != 0 {
			g.opts.Metrics.IdempotentRequest("rejected")
			return c.JSON(code, map[string]string{"error": msg})
		}

		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		bhash := digest(body)
		key := replayKey(req.Method, c.Path(), hdr)

		ctx, cancel := context.WithTimeout(req.Context(), storeTimeout)
		defer cancel()
		ok, err := g.store.claim(ctx, key, idempEntry{
			InProgress:  true,
			BodySHA256:  bhash,
			RequestID:   hdr.requestID,
			RequestAtMS: hdr.requestAt.UnixMilli(),
			CreatedAt:   nowUTC(),
		})
		if err != nil {
			logger.Errorf("idempotency: store unavailable: %v", logger.Fields{"Key": key}, err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "idempotency store unavailable"})
		}
		if !ok {
			return g.replay(ctx, c, key, bhash)
		}

		rec := &respRecorder{w: c.Response().Writer, buf: &bytes.Buffer{}, code: http.StatusOK}
		c.Response().Writer = rec
		if err := next(c); err != nil {
			c.Error(err)
		}

		// fresh context: the request may already be cancelled
		storeCtx, storeCancel := context.WithTimeout(context.Background(), storeTimeout)
		defer storeCancel()
		if rec.code >= http.StatusInternalServerError {
			g.opts.Metrics.IdempotentRequest("released")
			if err := g.store.release(storeCtx, key); err != nil {
				logger.Warnf("idempotency: release key: %v", logger.Fields{"Key": key}, err)
			}
			return nil
		}
		g.opts.Metrics.IdempotentRequest("executed")
		err = g.store.finish(storeCtx, key, idempEntry{
			Code:        rec.code,
			Body:        rec.buf.Bytes(),
			BodySHA256:  bhash,
			RequestID:   hdr.requestID,
			RequestAtMS: hdr.requestAt.UnixMilli(),
			CreatedAt:   nowUTC(),
		}, g.opts.TTL)
		if err != nil {
			logger.Warnf("idempotency: save response: %v", logger.Fields{"Key": key}, err)
		}
		return nil
	}
}

// parseHeaders returns a non-zero status and message when the request must be refused.
func (g *guard) parseHeaders(h http.Header) (guardHeaders, int, string) {
	var out guardHeaders

	var ok bool
	if strings.TrimSpace(h.Get(HeaderRequestID)) == "" {
		return out, http.StatusBadRequest, "missing " + HeaderRequestID
	}
	if out.requestID, ok = normalizeRequestID(h.Get(HeaderRequestID)); !ok {
		return out, http.StatusBadRequest, "invalid " + HeaderRequestID + " format"
	}

	at, err := parseRequestAt(h.Get(HeaderRequestAt), nowUTC())
	if err != nil {
		return out, http.StatusBadRequest, err.Error()
	}
	out.requestAt = at

	if strings.TrimSpace(h.Get(HeaderOperator)) == "" {
		return out, http.StatusBadRequest, "missing " + HeaderOperator
	}
	if out.operator, ok = normalizeOperator(h.Get(HeaderOperator)); !ok {
		return out, http.StatusBadRequest, "invalid " + HeaderOperator
	}
	if g.operators != nil && !g.operators[out.operator] {
		return out, http.StatusForbidden, "operator not authorized"
	}
	return out, 0, ""
}

func (g *guard) replay(ctx context.Context, c echo.Context, key, bhash string) error {
	cur, err := g.store.load(ctx, key)
	if err != nil {
		logger.Warnf("idempotency: load entry failed", logger.Fields{"Key": key, "Error": err.Error()})
	}
	if cur.BodySHA256 != "" && cur.BodySHA256 != bhash {
		g.opts.Metrics.IdempotentRequest("conflict")
		return c.JSON(http.StatusConflict, map[string]string{"error": HeaderRequestID + " reused with different body"})
	}
	if !cur.InProgress && cur.Code != 0 {
		g.opts.Metrics.IdempotentRequest("replayed")
		if len(cur.Body) == 0 {
			return c.NoContent(cur.Code)
		}
		return c.Blob(cur.Code, echo.MIMEApplicationJSON, cur.Body)
	}
	g.opts.Metrics.IdempotentRequest("conflict")
	return c.JSON(http.StatusConflict, map[string]string{"error": "request is already in progress"})
}
