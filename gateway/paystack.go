package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"agrimart/apperr"
)

// HTTPClient is a Paystack-compatible REST client.
type HTTPClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewHTTPClient(baseURL, secretKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

var _ Gateway = (*HTTPClient)(nil)

// envelope is the common response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in any, out any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, apperr.External("gateway_timeout", err)
		}
		return nil, apperr.External("gateway_unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.External("gateway_read_failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, apperr.External("gateway_error", fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw, apperr.External("gateway_malformed_response", err)
	}
	if !env.Status {
		return raw, apperr.External("gateway_rejected", errors.New(env.Message))
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return raw, apperr.External("gateway_malformed_response", err)
		}
	}
	return raw, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *HTTPClient) Initialize(ctx context.Context, req InitializeRequest) (InitializeResult, error) {
	payload := map[string]any{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"reference": req.Reference,
		"metadata":  req.Metadata,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	raw, err := c.do(ctx, http.MethodPost, "/transaction/initialize", payload, &data)
	if err != nil {
		return InitializeResult{}, err
	}
	if data.AuthorizationURL == "" {
		return InitializeResult{}, apperr.External("gateway_malformed_response", errors.New("missing authorization_url"))
	}
	return InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
		Raw:              raw,
	}, nil
}

func (c *HTTPClient) Verify(ctx context.Context, reference string) (Verification, error) {
	var data struct {
		Status    string       `json:"status"`
		Reference string       `json:"reference"`
		Amount    *int64       `json:"amount"`
		Currency  string       `json:"currency"`
		Metadata  flexMetadata `json:"metadata"`
	}
	raw, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data)
	if err != nil {
		return Verification{}, err
	}
	return Verification{
		Status:    data.Status,
		Reference: data.Reference,
		Amount:    data.Amount,
		Currency:  data.Currency,
		Metadata:  data.Metadata.ptr(),
		Raw:       raw,
	}, nil
}

func (c *HTTPClient) CreateRecipient(ctx context.Context, req RecipientRequest) (string, error) {
	payload := map[string]any{
		"type":           req.Type,
		"name":           req.Name,
		"account_number": req.AccountNumber,
		"bank_code":      req.BankCode,
		"currency":       req.Currency,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/transferrecipient", payload, &data); err != nil {
		return "", err
	}
	if data.RecipientCode == "" {
		return "", apperr.External("gateway_malformed_response", errors.New("missing recipient_code"))
	}
	return data.RecipientCode, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	payload := map[string]any{
		"source":    req.Source,
		"amount":    req.AmountMinor,
		"recipient": req.RecipientCode,
		"reason":    req.Reason,
		"reference": req.Reference,
	}
	var data struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/transfer", payload, &data); err != nil {
		return "", err
	}
	if data.TransferCode == "" {
		return "", apperr.External("gateway_malformed_response", errors.New("missing transfer_code"))
	}
	if data.Status == "failed" || data.Status == "reversed" {
		return "", apperr.External("transfer_"+data.Status, errors.New(data.TransferCode))
	}
	return data.TransferCode, nil
}
