package catalog

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/drumbench/drumbench/internal/constants"
)

// ErrAudioNotFound is returned when no source could serve the requested audio.
var ErrAudioNotFound = errors.New("catalog: source audio not found")

const maxErrorBody = 4096

// Item is one raw catalog entry as returned upstream. Field names follow the
// catalog (Filename, Kind, Velocity, dataset, audio_url, ...).
type Item map[string]any

// String returns the field as a string, or "" when absent or null.
func (it Item) String(key string) string {
	switch v := it[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type pageResponse struct {
	Samples []Item `json:"samples"`
}

// Options configures a Client. Zero values take the package defaults.
type Options struct {
	Timeout           time.Duration
	AudioTimeout      time.Duration
	RequestsPerSecond float64
	Burst             int
	InsecureTLS       bool
	Transport         http.RoundTripper
	Logger            *zap.Logger
}

// Client issues catalog requests. It keeps no state across calls apart from
// its connection pool and rate limiter, and is safe for concurrent use.
type Client struct {
	http         *http.Client
	limiter      *rate.Limiter
	timeout      time.Duration
	audioTimeout time.Duration
	logger       *zap.Logger
}

// NewClient constructs a Client.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = constants.CatalogRequestTimeout
	}
	if opts.AudioTimeout <= 0 {
		opts.AudioTimeout = constants.CatalogAudioTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	transport := opts.Transport
	if transport == nil {
		transport = newTransport(opts.InsecureTLS)
		if opts.InsecureTLS {
			opts.Logger.Warn("catalog TLS certificate verification is disabled")
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		http:         &http.Client{Transport: transport},
		limiter:      rate.NewLimiter(limit, burst),
		timeout:      opts.Timeout,
		audioTimeout: opts.AudioTimeout,
		logger:       opts.Logger.Named("catalog"),
	}
}

func newTransport(insecure bool) *http.Transport {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   constants.Duration5Seconds,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   constants.Duration5Seconds,
		ExpectContinueTimeout: constants.Duration1Second,
	}
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // dev catalogs use self-signed certs
	}
	return tr
}

// FetchPage returns one page of items of the given kind. Pages start at 1.
// Any transport failure, non-2xx status or malformed body is an error.
func (c *Client) FetchPage(ctx context.Context, src Source, kind string, page, perPage int) ([]Item, error) {
	query := url.Values{}
	query.Set("dataset", src.DatasetParam)
	query.Set("kind", kind)
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.get(ctx, src.BaseURL+"/api/samples?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("catalog: %s page %d of %q: %w", src.Name, page, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("catalog: %s page %d of %q: %w", src.Name, page, kind, statusError(resp))
	}

	var payload pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("catalog: %s page %d of %q: decode: %w", src.Name, page, kind, err)
	}
	return payload.Samples, nil
}

// FetchAudio downloads the raw audio for one item from a single source. Any
// non-200 response is reported as ErrAudioNotFound.
func (c *Client) FetchAudio(ctx context.Context, src Source, dataset, filename string) ([]byte, error) {
	query := url.Values{}
	query.Set("dataset", dataset)
	query.Set("filename", filename)

	ctx, cancel := context.WithTimeout(ctx, c.audioTimeout)
	defer cancel()

	resp, err := c.get(ctx, src.BaseURL+"/api/proxy-audio?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("catalog: %s audio %s: %w", src.Name, filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrAudioNotFound, src.Name, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s audio %s: read: %w", src.Name, filename, err)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return fmt.Errorf("unexpected status %s: %s", resp.Status, msg)
}
