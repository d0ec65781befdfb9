package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tlb-diamond/tlbd-backend/pkg/config"
	"github.com/tlb-diamond/tlbd-backend/pkg/enums"
	pkgerrors "github.com/tlb-diamond/tlbd-backend/pkg/errors"
	"github.com/tlb-diamond/tlbd-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	defaultRequestTimeout = 15 * time.Second

	// Webhook signatures older or newer than this are refused outright.
	signatureTolerance = 5 * time.Minute
)

var (
	errAPIKeyRequired        = errors.New("gateway api key is required")
	errWebhookSecretRequired = errors.New("gateway webhook secret is required")
	errInvalidGatewayEnv     = fmt.Errorf("gateway environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("gateway logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://sandbox.pay.tlb-diamond.com",
	productionEnv: "https://pay.tlb-diamond.com",
}

// ChargeParams describes a top-up charge handed off to the gateway.
type ChargeParams struct {
	Reference      string
	Amount         decimal.Decimal
	Currency       enums.Currency
	Method         enums.TopupMethod
	ReturnURL      string
	IdempotencyKey string
}

// Charge is the gateway's record of an in-flight or settled payment.
type Charge struct {
	ID          string          `json:"id"`
	Reference   string          `json:"reference"`
	Status      string          `json:"status"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	RedirectURL string          `json:"redirect_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client exposes the payment gateway with centralized auth, logging, and error mapping.
type Client struct {
	httpClient    httpDoer
	apiKey        string
	environment   string
	webhookSecret string
	baseURL       string
	logger        *logger.Logger
	now           func() time.Time
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = baseURLs[env]
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		apiKey:        apiKey,
		environment:   env,
		webhookSecret: webhookSecret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		logger:        logg,
		now:           time.Now,
	}

	logg.Info(ctx, "gateway client initialized")
	return c, nil
}

// Environment reports the normalized gateway environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook secret used to verify callbacks.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// NewIdempotencyKey returns a unique key for gateway operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "tlbd"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// CreateCharge registers a pending top-up with the gateway.
func (c *Client) CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error) {
	if strings.TrimSpace(params.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge reference is required")
	}
	if !params.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge amount must be positive")
	}
	if !params.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid top-up method")
	}

	body := map[string]any{
		"reference":  params.Reference,
		"amount":     params.Amount.StringFixed(2),
		"currency":   params.Currency,
		"method":     params.Method,
		"return_url": params.ReturnURL,
	}
	c.log(ctx, "request", "create_charge", map[string]any{
		"reference": params.Reference,
		"amount":    params.Amount.StringFixed(2),
		"method":    params.Method,
	})

	charge, err := c.do(ctx, http.MethodPost, "/v1/charges", c.ensureIdempotencyKey("charge.create", params.IdempotencyKey), body)
	if err != nil {
		c.log(ctx, "error", "create_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_charge", map[string]any{
		"charge_id": charge.ID,
		"status":    charge.Status,
	})
	return charge, nil
}

// GetCharge fetches the gateway's current view of a charge.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	if strings.TrimSpace(chargeID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge id is required")
	}
	c.log(ctx, "request", "get_charge", map[string]any{"charge_id": chargeID})

	charge, err := c.do(ctx, http.MethodGet, "/v1/charges/"+chargeID, "", nil)
	if err != nil {
		c.log(ctx, "error", "get_charge", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "get_charge", map[string]any{
		"charge_id": charge.ID,
		"status":    charge.Status,
	})
	return charge, nil
}

// VerifySignature checks a webhook signature header of the form
// "t=<unix>,v1=<hex>", where the digest is HMAC-SHA256 over "<t>.<payload>".
// A timestamp outside the tolerance window fails verification even when the
// digest matches.
func (c *Client) VerifySignature(payload []byte, header string) bool {
	if c == nil || header == "" || c.webhookSecret == "" {
		return false
	}
	var ts, digest string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return false
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			digest = value
		}
	}
	if ts == "" || digest == "" {
		return false
	}
	sent, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	nowFn := c.now
	if nowFn == nil {
		nowFn = time.Now
	}
	if age := nowFn().UTC().Sub(time.Unix(sent, 0)); age > signatureTolerance || age < -signatureTolerance {
		return false
	}
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(digest))
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body map[string]any) (*Charge, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read gateway response")
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.mapGatewayError(resp.StatusCode, raw)
	}

	var charge Charge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return &charge, nil
}

func (c *Client) mapGatewayError(status int, raw []byte) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	message := "gateway request rejected"
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		message = payload.Error.Message
	}
	return pkgerrors.New(domainCodeForStatus(status), fmt.Sprintf("gateway: %s", message))
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeIdempotency
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "token", "cvv", "cvc", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	}
	return "", errInvalidGatewayEnv
}
