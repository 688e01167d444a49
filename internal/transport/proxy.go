package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tildaslashalef/budgetsync/internal/loggy"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// QueryPath is the proxy route that executes statements
const QueryPath = "/api/query"

// RequestIDHeader carries the client request id to the proxy
const RequestIDHeader = "X-Request-ID"

// ProxyConfig configures the HTTP proxy adapter
type ProxyConfig struct {
	URL     string
	Timeout time.Duration

	// RequestsPerMinute paces outgoing requests; 0 disables pacing
	RequestsPerMinute int

	// NetworkRetries is how many times a request that never reached the
	// proxy is re-sent before giving up
	NetworkRetries int
}

// Proxy sends queries to the proxy server with the user's bearer token
type Proxy struct {
	endpoint string
	tokens   oauth2.TokenSource
	client   *http.Client
	limiter  *rate.Limiter
	retries  int
	logger   *loggy.Logger
}

// response is the proxy wire envelope
type response struct {
	Success bool       `json:"success"`
	Data    Rows       `json:"data,omitempty"`
	Error   *wireError `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NewProxy creates a proxy adapter. tokens supplies the bearer token for
// every request.
func NewProxy(cfg ProxyConfig, tokens oauth2.TokenSource, logger *loggy.Logger) *Proxy {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	p := &Proxy{
		endpoint: strings.TrimRight(cfg.URL, "/") + QueryPath,
		tokens:   tokens,
		client: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: tokens,
				Base:   http.DefaultTransport,
			},
		},
		retries: cfg.NetworkRetries,
		logger:  logger,
	}

	if cfg.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return p
}

// Execute implements Adapter
func (p *Proxy) Execute(ctx context.Context, q Query) (Rows, error) {
	if tok, err := p.tokens.Token(); err != nil || tok == nil || tok.AccessToken == "" {
		return nil, &Error{Code: CodeAuth, Message: "no bearer token", Reason: ReasonUnauthorized, Err: err}
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, &Error{Code: CodeNetwork, Message: "waiting for rate limiter", Err: err}
		}
	}

	if q.Params == nil {
		q.Params = []any{}
	}
	body, err := json.Marshal(q)
	if err != nil {
		return nil, &Error{Code: CodeUnknown, Message: "encoding query", Err: err}
	}

	var rows Rows
	var lastErr error
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
		if err != nil {
			lastErr = &Error{Code: CodeUnknown, Message: "creating request", Err: err}
			return backoff.Permanent(lastErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if id := loggy.GetRequestID(ctx); id != "" {
			req.Header.Set(RequestIDHeader, id)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = &Error{Code: CodeNetwork, Message: "proxy unreachable", Err: err}
			p.logger.Debug("Proxy request failed", "error", err)
			return lastErr
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			lastErr = &Error{Code: CodeNetwork, Message: "reading proxy response", Err: err}
			return lastErr
		}

		rows, lastErr = decodeResponse(resp.StatusCode, data)
		if lastErr != nil {
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(p.retries, 0))), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &Error{Code: CodeNetwork, Message: "proxy request aborted", Err: err}
	}
	return rows, nil
}

// decodeResponse turns a proxy reply into rows or a typed error
func decodeResponse(status int, data []byte) (Rows, error) {
	var r response
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, &Error{
			Code:    statusCode(status),
			Message: fmt.Sprintf("unexpected proxy response: %d %s", status, http.StatusText(status)),
			Err:     err,
		}
	}

	if status >= 200 && status < 300 && r.Success {
		if r.Data == nil {
			return Rows{}, nil
		}
		return r.Data, nil
	}

	if r.Error == nil {
		return nil, &Error{Code: statusCode(status), Message: http.StatusText(status)}
	}
	return nil, &Error{
		Code:    reasonCode(r.Error.Code),
		Message: r.Error.Message,
		Details: r.Error.Details,
		Reason:  r.Error.Code,
	}
}

// reasonCode maps proxy wire codes to error codes
func reasonCode(reason string) Code {
	switch reason {
	case ReasonUnauthorized:
		return CodeAuth
	case ReasonRateLimited:
		return CodeNetwork
	case ReasonConflict:
		return CodeConflict
	default:
		return CodeServer
	}
}

func statusCode(status int) Code {
	switch {
	case status == http.StatusUnauthorized:
		return CodeAuth
	case status == http.StatusTooManyRequests:
		return CodeNetwork
	case status >= 500:
		return CodeServer
	default:
		return CodeUnknown
	}
}
