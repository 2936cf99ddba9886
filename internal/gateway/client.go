// Package gateway is the HTTP client for the remote legal-consultation API:
// OTP issuance and verification, request submission and listing, articles.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lexconsult/client/internal/model"
	"github.com/lexconsult/client/internal/phone"
)

const maxErrorBody = 512

var (
	// ErrMissingToken means verification returned 2xx without a usable token
	ErrMissingToken = errors.New("no token returned")
	// ErrMissingRequestID means submission returned 2xx without a usable
	// identifier; the request may or may not exist remotely
	ErrMissingRequestID = errors.New("no request id returned")
	// ErrUnexpectedContentType means a JSON endpoint answered with something else
	ErrUnexpectedContentType = errors.New("unexpected content type")
)

// HTTPError is a non-2xx gateway response
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// VerifyResult is what a successful code verification yields
type VerifyResult struct {
	Token string
	// UserID and UserPhone are empty when the gateway omits the user object
	UserID    string
	UserPhone string
}

// SubmitInput is the body of a consultation request submission
type SubmitInput struct {
	Category string `json:"category"`
	Details  string `json:"details"`
}

// ListOptions narrows GET /requests/
type ListOptions struct {
	Status string
}

// Client calls the gateway. Authentication headers are added by the
// http.Client's transport (see internal/middleware).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a gateway client for baseURL
func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// RequestCode handles POST /auth/request-code. Only the status is relied upon.
func (c *Client) RequestCode(ctx context.Context, phoneNumber string) error {
	_, err := c.do(ctx, http.MethodPost, "/auth/request-code", nil, map[string]string{"phone": phoneNumber})
	if err != nil {
		c.logger.Warn("request code failed", "phone", phone.Mask(phoneNumber), "err", err)
		return fmt.Errorf("request code: %w", err)
	}
	return nil
}

// Verify handles POST /auth/verify
func (c *Client) Verify(ctx context.Context, phoneNumber, code string) (*VerifyResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/auth/verify", nil, map[string]string{"phone": phoneNumber, "code": code})
	if err != nil {
		c.logger.Warn("verify code failed", "phone", phone.Mask(phoneNumber), "err", err)
		return nil, fmt.Errorf("verify code: %w", err)
	}
	v, err := Decode(body)
	if err != nil {
		return nil, fmt.Errorf("verify code: decode response: %w", err)
	}
	token, ok := Extract(v, TokenPaths...)
	if !ok {
		return nil, fmt.Errorf("verify code: %w", ErrMissingToken)
	}
	res := &VerifyResult{Token: token}
	res.UserID, _ = Extract(v, UserIDPaths...)
	res.UserPhone, _ = Extract(v, UserPhonePaths...)
	return res, nil
}

// SubmitRequest handles POST /requests/ and returns the acknowledged identifier
func (c *Client) SubmitRequest(ctx context.Context, in SubmitInput) (model.ID, error) {
	body, err := c.do(ctx, http.MethodPost, "/requests/", nil, in)
	if err != nil {
		return model.ID{}, fmt.Errorf("submit request: %w", err)
	}
	v, err := Decode(body)
	if err != nil {
		c.logger.Warn("submit request: undecodable acknowledgment", "err", err)
		return model.ID{}, fmt.Errorf("submit request: %w", ErrMissingRequestID)
	}
	id, ok := ExtractID(v, RequestIDPaths...)
	if !ok {
		return model.ID{}, fmt.Errorf("submit request: %w", ErrMissingRequestID)
	}
	return id, nil
}

// ListRequests handles GET /requests/. The body is either an array or an
// object with an items array.
func (c *Client) ListRequests(ctx context.Context, opts ListOptions) ([]model.ConsultationRequest, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	body, err := c.do(ctx, http.MethodGet, "/requests/", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []model.ConsultationRequest
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("list requests: decode: %w", err)
		}
		return list, nil
	}
	var envelope struct {
		Items []model.ConsultationRequest `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("list requests: decode: %w", err)
	}
	return envelope.Items, nil
}

// ListArticles handles GET /articles/
func (c *Client) ListArticles(ctx context.Context, page, pageSize int) ([]model.Article, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/articles/", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	resp, body, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "application/json" {
		return nil, fmt.Errorf("list articles: %w: %q", ErrUnexpectedContentType, resp.Header.Get("Content-Type"))
	}
	var list []model.Article
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("list articles: decode: %w", err)
	}
	return list, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, payload any) ([]byte, error) {
	req, err := c.newRequest(ctx, method, path, q, payload)
	if err != nil {
		return nil, err
	}
	_, body, err := c.send(req)
	return body, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, payload any) (*http.Request, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// send performs the request and reads the body; non-2xx becomes *HTTPError
func (c *Client) send(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return resp, nil, &HTTPError{StatusCode: resp.StatusCode, Body: text}
	}
	return resp, body, nil
}
