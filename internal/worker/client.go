package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/drumbench/drumbench/internal/audioio"
	"github.com/drumbench/drumbench/internal/constants"
	"github.com/drumbench/drumbench/internal/synth"
)

const maxErrorBody = 4096

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Client calls a running worker.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// GenerateResult is a successful generate call.
type GenerateResult struct {
	Audio      []byte
	SampleRate int
	Duration   time.Duration
	RequestID  string
}

// NewClient constructs a worker client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = fmt.Sprintf("http://%s:%d", constants.DefaultWorkerHost, constants.DefaultWorkerPort)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = constants.WorkerRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Transport: opts.Transport},
		timeout: opts.Timeout,
		logger:  opts.Logger.Named("worker-client"),
	}
}

// BaseURL returns the worker address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health checks that the worker answers GET /health and returns what it reported.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, min(c.timeout, constants.WorkerHealthTimeout))
	defer cancel()

	var out HealthResponse
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return nil, err
	}
	if out.Status != "ok" {
		return &out, synth.Errorf(synth.KindUnavailable, "worker reported status %q", out.Status)
	}
	return &out, nil
}

// Schema fetches the worker's label schema and conditioning parameters.
func (c *Client) Schema(ctx context.Context) (*SchemaResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out SchemaResponse
	if err := c.getJSON(ctx, "/schema", &out); err != nil {
		return nil, err
	}
	if out.LabelSchema == nil {
		return nil, synth.Errorf(synth.KindUnavailable, "worker schema response has no label_schema")
	}
	return &out, nil
}

// Generate asks the worker to render one variant. Failures are returned as
// *synth.GenerateError.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, synth.Errorf(synth.KindInvalidRequest, "encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, synth.Errorf(synth.KindInvalidRequest, "build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(err)
	}

	header, err := audioio.ParseHeader(audio)
	if err != nil {
		return nil, synth.Errorf(synth.KindSynthesisFailed, "worker returned unreadable audio: %w", err)
	}
	rate, err := strconv.Atoi(resp.Header.Get(HeaderSampleRate))
	if err != nil || rate <= 0 {
		rate = header.Format.SampleRate
	}
	result := &GenerateResult{
		Audio:      audio,
		SampleRate: rate,
		Duration:   header.Format.Duration(header.DataSize),
		RequestID:  resp.Header.Get(HeaderRequestID),
	}
	c.logger.Debug("generate complete",
		zap.String("request_id", result.RequestID),
		zap.Int("bytes", len(audio)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.http.Do(req)
	if err != nil {
		return unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return synth.Errorf(synth.KindUnavailable, "decode %s: %w", path, err)
	}
	return nil
}

func unavailable(err error) error {
	return &synth.GenerateError{
		Kind:    synth.KindUnavailable,
		Message: fmt.Sprintf("worker unreachable: %v", err),
		Err:     err,
	}
}

// responseError rebuilds the typed error the worker serialized into its
// status code and {"detail": ...} body.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(raw))
	var envelope ErrorResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Detail != "" {
		detail = envelope.Detail
	}
	if detail == "" {
		detail = resp.Status
	}
	return &synth.GenerateError{
		Kind:    kindForStatus(resp.StatusCode),
		Message: detail,
		Err:     fmt.Errorf("worker returned %s", resp.Status),
	}
}

// IsUnavailable reports whether err means the worker could not be reached.
func IsUnavailable(err error) bool {
	var gerr *synth.GenerateError
	return errors.As(err, &gerr) && gerr.Kind == synth.KindUnavailable
}
