// Package kubo stores log blocks in a Kubo (IPFS) node through its HTTP RPC
// API, so addresses computed offline resolve on the IPFS network.
package kubo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/systemshift/memex-log/internal/dag"
)

// DefaultAPI is the RPC endpoint of a local Kubo daemon.
const DefaultAPI = "http://127.0.0.1:5001/api/v0"

// Client is a dag.ContentStore backed by a Kubo daemon.
type Client struct {
	apiURL     string
	client     *http.Client
	pin        bool
	getTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPin pins every block written through Put.
func WithPin(pin bool) Option {
	return func(c *Client) { c.pin = pin }
}

// WithGetTimeout bounds how long the daemon searches the network for a
// block before Get reports dag.ErrNotFound. Zero means local blocks only.
func WithGetTimeout(d time.Duration) Option {
	return func(c *Client) { c.getTimeout = d }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a client for the Kubo API at apiURL.
func New(apiURL string, opts ...Option) *Client {
	c := &Client{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiError is the JSON body Kubo returns with non-200 responses.
type apiError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

// IsAvailable checks if the daemon is reachable.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := c.post(ctx, "id", nil, "", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Put wraps data in a dag-pb node, writes the block and returns its CIDv0.
func (c *Client) Put(ctx context.Context, data []byte) (gocid.Cid, error) {
	block := dag.EncodeNode(data)
	want, err := dag.ComputeCID(block)
	if err != nil {
		return gocid.Undef, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "block")
	if err != nil {
		return gocid.Undef, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(block); err != nil {
		return gocid.Undef, fmt.Errorf("write form data: %w", err)
	}
	w.Close()

	q := url.Values{"cid-codec": {"dag-pb"}, "mhtype": {"sha2-256"}}
	if c.pin {
		q.Set("pin", "true")
	}
	resp, err := c.post(ctx, "block/put", q, w.FormDataContentType(), &buf)
	if err != nil {
		return gocid.Undef, fmt.Errorf("ipfs block/put: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("block/put", resp); err != nil {
		return gocid.Undef, err
	}

	var result struct {
		Key  string `json:"Key"`
		Size int    `json:"Size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return gocid.Undef, fmt.Errorf("ipfs block/put: parse response: %w", err)
	}
	got, err := dag.ParseCID(result.Key)
	if err != nil {
		return gocid.Undef, fmt.Errorf("ipfs block/put: %w", err)
	}
	// Kubo answers with CIDv1; the multihash is what must agree.
	if !bytes.Equal(got.Hash(), want.Hash()) {
		return gocid.Undef, fmt.Errorf("ipfs block/put: daemon stored %s, expected %s", got, want)
	}
	return want, nil
}

// Get fetches the block for addr and returns its node data.
func (c *Client) Get(ctx context.Context, addr gocid.Cid) ([]byte, error) {
	q := url.Values{"arg": {addr.String()}}
	if c.getTimeout > 0 {
		q.Set("timeout", c.getTimeout.String())
	} else {
		q.Set("offline", "true")
	}
	resp, err := c.post(ctx, "block/get", q, "", nil)
	if err != nil {
		return nil, fmt.Errorf("ipfs block/get: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("block/get", resp); err != nil {
		return nil, err
	}

	block, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ipfs block/get: read: %w", err)
	}
	mh, err := multihash.Sum(block, multihash.SHA2_256, -1)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(mh, addr.Hash()) {
		return nil, fmt.Errorf("ipfs block/get: block %s failed hash check", addr)
	}
	return dag.DecodeNode(block)
}

// Pin pins addr recursively.
func (c *Client) Pin(ctx context.Context, addr gocid.Cid) error {
	resp, err := c.post(ctx, "pin/add", url.Values{"arg": {addr.String()}}, "", nil)
	if err != nil {
		return fmt.Errorf("ipfs pin/add: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus("pin/add", resp)
}

func (c *Client) post(ctx context.Context, cmd string, q url.Values, contentType string, body io.Reader) (*http.Response, error) {
	u := c.apiURL + "/" + cmd
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.client.Do(req)
}

// checkStatus turns a non-200 response into an error. Lookups the daemon
// gave up on are reported as dag.ErrNotFound.
func checkStatus(cmd string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr apiError
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	if isNotFound(msg) {
		return fmt.Errorf("ipfs %s: %w: %s", cmd, dag.ErrNotFound, msg)
	}
	return fmt.Errorf("ipfs %s: status %d: %s", cmd, resp.StatusCode, msg)
}

func isNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "could not find") ||
		strings.Contains(msg, "context deadline exceeded")
}

var _ dag.ContentStore = (*Client)(nil)
