package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/minibet/payment-gateway/pkg/logger"
	"github.com/minibet/payment-gateway/pkg/prom"
	"github.com/valyala/fasthttp"
)

var (
	// ErrAuthentication means the OAuth2 client-credentials exchange failed.
	// It aborts the calling operation and is never retried here.
	ErrAuthentication = errors.New("airtel authentication failed")
	// ErrGateway means the provider call itself failed (network, non-2xx,
	// malformed response). Retry policy belongs to the caller.
	ErrGateway = errors.New("airtel gateway request failed")
)

// Provider status vocabulary. The synchronous endpoints and the callback do
// not use the same codes consistently, so both spellings are recognized.
const (
	TxnStatusSuccess    = "TS"
	TxnStatusSuccessAlt = "SUCCESS"
	TxnStatusFailed     = "TF"
	TxnStatusFailedAlt  = "FAILED"
)

const (
	authPath     = "/auth/oauth2/token"
	collectPath  = "/merchant/v1/payments/"
	disbursePath = "/standard/v2/disbursements/"

	// refresh slightly before the provider-reported expiry
	tokenSafetyMargin = 30 * time.Second

	disburseTransferType = "B2C"
)

type Config struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	Country         string
	Currency        string
	DisbursePIN     string
	CallbackURL     string
	Timeout         time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

// tokenCache holds the bearer token per client instance. Deliberately not a
// process-wide singleton; each Client owns its own cache.
type tokenCache struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
}

type Client struct {
	config *Config
	client *fasthttp.Client
	token  tokenCache
	now    func() time.Time
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, errors.New("client credentials are required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	httpClient := &fasthttp.Client{
		MaxConnsPerHost:     config.MaxConns,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
		MaxIdleConnDuration: 60 * time.Second,
		ReadBufferSize:      config.ReadBufferSize,
		WriteBufferSize:     config.WriteBufferSize,
	}

	logger.Info("Airtel client initialized", "base_url", config.BaseURL, "country", config.Country, "currency", config.Currency, "timeout", config.Timeout)

	return &Client{
		config: config,
		client: httpClient,
		now:    time.Now,
	}, nil
}

/* ------------------------------ Request types ------------------------------ */

type Subscriber struct {
	Country  string `json:"country"`
	Currency string `json:"currency"`
	MSISDN   string `json:"msisdn"`
}

type PaymentTransaction struct {
	Amount   json.Number `json:"amount"`
	Country  string      `json:"country"`
	Currency string      `json:"currency"`
	ID       string      `json:"id"`
}

// PaymentRequest is the collect (pull funds from subscriber) request body.
type PaymentRequest struct {
	Reference   string             `json:"reference"`
	Subscriber  Subscriber         `json:"subscriber"`
	Transaction PaymentTransaction `json:"transaction"`
	CallbackURL string             `json:"callback_url,omitempty"`
}

type Payee struct {
	Currency string `json:"currency"`
	MSISDN   string `json:"msisdn"`
}

type DisbursementTransaction struct {
	Amount json.Number `json:"amount"`
	ID     string      `json:"id"`
	Type   string      `json:"type"`
}

// DisbursementRequest is the disburse (push funds to subscriber) request body.
type DisbursementRequest struct {
	Payee       Payee                   `json:"payee"`
	Reference   string                  `json:"reference"`
	PIN         string                  `json:"pin"`
	Transaction DisbursementTransaction `json:"transaction"`
}

/* ------------------------------ Response types ----------------------------- */

type ProviderTransaction struct {
	ID            string `json:"id"`
	ReferenceID   string `json:"reference_id"`
	AirtelMoneyID string `json:"airtel_money_id"`
	Status        string `json:"status"`
}

type ProviderStatus struct {
	ResponseCode string `json:"response_code"`
	Code         string `json:"code"`
	// Success is a pointer so an acknowledgment that omits the flag can be
	// told apart from one that explicitly reports false.
	Success    *bool  `json:"success"`
	ResultCode string `json:"result_code"`
	Message    string `json:"message"`
}

type ProviderData struct {
	Transaction ProviderTransaction `json:"transaction"`
}

// ProviderResponse is the provider's immediate acknowledgment. It may or may
// not represent final settlement; the callback is authoritative when the
// synchronous status is ambiguous.
type ProviderResponse struct {
	Data   ProviderData   `json:"data"`
	Status ProviderStatus `json:"status"`
}

type authRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
}

type authResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

/* -------------------------------- Operations ------------------------------- */

// CollectPayment pulls funds from the subscriber (funds a deposit). The
// callback URL from config is attached when the request does not carry one.
func (c *Client) CollectPayment(ctx context.Context, req *PaymentRequest) (*ProviderResponse, error) {
	if req.CallbackURL == "" {
		req.CallbackURL = c.config.CallbackURL
	}
	return c.call(ctx, "collect", collectPath, req.Reference, req.Transaction.ID, req)
}

// DisburseFunds pushes funds to the subscriber (funds a withdrawal).
func (c *Client) DisburseFunds(ctx context.Context, req *DisbursementRequest) (*ProviderResponse, error) {
	if req.PIN == "" {
		req.PIN = c.config.DisbursePIN
	}
	if req.Transaction.Type == "" {
		req.Transaction.Type = disburseTransferType
	}
	return c.call(ctx, "disburse", disbursePath, req.Reference, req.Transaction.ID, req)
}

func (c *Client) call(ctx context.Context, operation, path, reference, transactionID string, payload any) (*ProviderResponse, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		prom.ObserveProviderRequestDuration(0, operation, "auth_error")
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrGateway, err)
	}

	// full request/response audit trail, including the correlation reference
	logger.Info("airtel request",
		"operation", operation,
		"reference", reference,
		"transaction_id", transactionID,
		"payload", string(body))

	startTime := c.now()
	respBody, err := c.doRequest(ctx, "POST", path, body, token)
	latency := time.Since(startTime)

	if err != nil {
		prom.ObserveProviderRequestDuration(latency.Seconds(), operation, "error")
		logger.Error("airtel request failed",
			"operation", operation,
			"reference", reference,
			"transaction_id", transactionID,
			"error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrGateway, operation, err)
	}

	var resp ProviderResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		prom.ObserveProviderRequestDuration(latency.Seconds(), operation, "error")
		logger.Error("airtel response unmarshal failed",
			"operation", operation,
			"reference", reference,
			"body", string(respBody),
			"error", err)
		return nil, fmt.Errorf("%w: %s: unmarshal response: %v", ErrGateway, operation, err)
	}

	prom.ObserveProviderRequestDuration(latency.Seconds(), operation, "success")
	logger.Info("airtel response",
		"operation", operation,
		"reference", reference,
		"transaction_id", transactionID,
		"status", resp.Data.Transaction.Status,
		"message", resp.Status.Message,
		"body", string(respBody),
		"latency_ms", latency.Milliseconds())

	return &resp, nil
}

// accessToken returns the cached bearer token, re-authenticating when the
// cached one is missing or past its safety-margin expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()

	if c.token.token != "" && c.now().Before(c.token.expiry) {
		return c.token.token, nil
	}

	body, err := json.Marshal(authRequest{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		GrantType:    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal auth request: %v", ErrAuthentication, err)
	}

	respBody, err := c.doRequest(ctx, "POST", authPath, body, "")
	if err != nil {
		logger.Error("airtel token exchange failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	var auth authResponse
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return "", fmt.Errorf("%w: unmarshal auth response: %v", ErrAuthentication, err)
	}
	if auth.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthentication)
	}

	c.token.token = auth.AccessToken
	c.token.expiry = c.now().Add(time.Duration(auth.ExpiresIn)*time.Second - tokenSafetyMargin)

	logger.Info("airtel access token obtained", "expires_in", auth.ExpiresIn)

	return c.token.token, nil
}

// doRequest performs a provider HTTP request with a bounded deadline.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, token string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.config.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("X-Country", c.config.Country)
	req.Header.Set("X-Currency", c.config.Currency)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = c.now().Add(c.config.Timeout)
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	statusCode := resp.StatusCode()
	if statusCode != fasthttp.StatusOK && statusCode != fasthttp.StatusCreated && statusCode != fasthttp.StatusAccepted {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
