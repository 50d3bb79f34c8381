package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"spv-ledger/internal/domain/metadata"
	"spv-ledger/internal/infrastructure/logger"
	"spv-ledger/internal/infrastructure/metrics"
	"spv-ledger/pkg/retry"

	fastshot "github.com/opus-domini/fast-shot"
)

var ErrStoreUnavailable = errors.New("no content store accepted the document")

const defaultPinataAPI = "https://api.pinata.cloud"

type Options struct {
	// LocalAPI is the kubo RPC base, e.g. http://127.0.0.1:5001. Empty disables it.
	LocalAPI            string
	PinataAPI           string
	PinataJWT           string
	PinataGatewayDomain string
	PinataGatewayKey    string
	PublicGateways      []string
	Timeout             time.Duration
	Retry               retry.Policy
	Metrics             *metrics.Metrics
	HTTPClient          *http.Client
}

// Client reads documents through IPFS gateways and writes them to a local
// node or, failing that, to Pinata.
type Client struct {
	opts Options
	http *http.Client
}

var _ metadata.Store = (*Client)(nil)

func New(opts Options) *Client {
	if opts.PinataAPI == "" {
		opts.PinataAPI = defaultPinataAPI
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.Default
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, http: hc}
}

type gateway struct {
	name  string
	base  string
	query map[string]string
}

// gateways lists the dedicated gateway first, then the public ones in order.
func (c *Client) gateways() []gateway {
	var out []gateway
	if c.opts.PinataGatewayDomain != "" {
		base := c.opts.PinataGatewayDomain
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			base = "https://" + base
		}
		g := gateway{name: "pinata-dedicated", base: strings.TrimRight(base, "/")}
		if c.opts.PinataGatewayKey != "" {
			g.query = map[string]string{"pinataGatewayToken": c.opts.PinataGatewayKey}
		}
		out = append(out, g)
	}
	for _, p := range c.opts.PublicGateways {
		if p = strings.TrimRight(strings.TrimSpace(p), "/"); p != "" {
			out = append(out, gateway{name: p, base: p})
		}
	}
	return out
}

// Fetch tries every gateway in order, each with the retry policy, and returns
// the first non-empty 200 body.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	cid, err := metadata.ContentID(cid)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, g := range c.gateways() {
		raw, err := retry.Value(ctx, c.opts.Retry, func(ctx context.Context) ([]byte, error) {
			return c.get(ctx, g, cid)
		})
		if err == nil {
			c.opts.Metrics.ContentFetch(g.name, "ok")
			return raw, nil
		}
		c.opts.Metrics.ContentFetch(g.name, "error")
		logger.Warnf("ipfs: gateway failed", logger.Fields{"Gateway": g.name, "CID": cid, "Error": err.Error()})
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no gateways configured")
	}
	return nil, fmt.Errorf("%w: %s: %v", metadata.ErrContentUnavailable, cid, lastErr)
}

func (c *Client) get(ctx context.Context, g gateway, cid string) ([]byte, error) {
	req := fastshot.NewClient(g.base).
		Config().SetTimeout(c.opts.Timeout).
		Header().Add("Accept", "application/json").
		Build().GET("/ipfs/" + cid).
		Context().Set(ctx)
	if len(g.query) > 0 {
		req = req.Query().AddParams(g.query)
	}
	res, err := req.Send()
	if err != nil {
		return nil, err
	}
	body := res.RawBody()
	defer body.Close()

	if res.RawResponse.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d", g.name, res.RawResponse.StatusCode)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", g.name, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%s: empty body", g.name)
	}
	return raw, nil
}

// Put stores the canonical encoding of doc and returns its content id.
func (c *Client) Put(ctx context.Context, doc metadata.Document) (string, error) {
	raw, err := metadata.Encode(doc)
	if err != nil {
		return "", err
	}

	if c.opts.LocalAPI != "" && c.localAvailable(ctx) {
		cid, err := c.addLocal(ctx, raw)
		if err == nil {
			logger.Infof("ipfs: stored on local node", logger.Fields{"CID": cid})
			return cid, nil
		}
		logger.Warnf("ipfs: local add failed, falling back to pinata", logger.Fields{"Error": err.Error()})
	}

	if c.opts.PinataJWT == "" {
		return "", ErrStoreUnavailable
	}
	cid, err := retry.Value(ctx, c.opts.Retry, func(ctx context.Context) (string, error) {
		return c.pinJSON(ctx, doc.Name, raw)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	logger.Infof("ipfs: pinned via pinata", logger.Fields{"CID": cid})
	return cid, nil
}

func (c *Client) localAvailable(ctx context.Context) bool {
	res, err := fastshot.NewClient(strings.TrimRight(c.opts.LocalAPI, "/")).
		Config().SetTimeout(5 * time.Second).
		Build().POST("/api/v0/id").
		Context().Set(ctx).
		Send()
	if err != nil {
		return false
	}
	res.RawBody().Close()
	return res.RawResponse.StatusCode == http.StatusOK
}

// addLocal posts the document to kubo's multipart add endpoint.
func (c *Client) addLocal(ctx context.Context, raw []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "metadata.json")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(raw); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := strings.TrimRight(c.opts.LocalAPI, "/") + "/api/v0/add?pin=true&cid-version=0"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("local add: HTTP %d", resp.StatusCode)
	}
	var out struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("local add: decode: %w", err)
	}
	if out.Hash == "" {
		return "", errors.New("local add: empty hash")
	}
	return out.Hash, nil
}

func (c *Client) pinJSON(ctx context.Context, name string, raw []byte) (string, error) {
	res, err := fastshot.NewClient(c.opts.PinataAPI).
		Config().SetTimeout(c.opts.Timeout).
		Header().AddAll(map[string]string{
		"Authorization": "Bearer " + c.opts.PinataJWT,
		"Content-Type":  "application/json",
	}).Build().POST("/pinning/pinJSONToIPFS").
		Context().Set(ctx).
		Body().AsJSON(map[string]any{
		"pinataContent":  json.RawMessage(raw),
		"pinataMetadata": map[string]string{"name": name},
	}).Send()
	if err != nil {
		return "", err
	}
	body := res.RawBody()
	defer body.Close()

	if res.RawResponse.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(body, 512))
		err := fmt.Errorf("pinata: HTTP %d: %s", res.RawResponse.StatusCode, strings.TrimSpace(string(msg)))
		if res.RawResponse.StatusCode < 500 && res.RawResponse.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}
	var out struct {
		IpfsHash string `json:"IpfsHash"`
	}
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return "", fmt.Errorf("pinata: decode: %w", err)
	}
	if out.IpfsHash == "" {
		return "", errors.New("pinata: empty IpfsHash")
	}
	return out.IpfsHash, nil
}
