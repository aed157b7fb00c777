// Package stripe collects invoices through Stripe PaymentIntents.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/meterflow/internal/config"
	paymentdomain "github.com/smallbiznis/meterflow/internal/payment/domain"
	ratingdomain "github.com/smallbiznis/meterflow/internal/rating/domain"
)

const (
	ProviderName   = "stripe"
	defaultBaseURL = "https://api.stripe.com"
	requestTimeout = 10 * time.Second
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) NewCollector(cfg config.PaymentConfig) (paymentdomain.Collector, error) {
	collector, err := New(cfg.StripeAPIKey, cfg.StripeBaseURL)
	if err != nil {
		return nil, err
	}
	return collector, nil
}

type paymentIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx answer from Stripe.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether repeating the request may succeed. Stripe
// replays idempotent requests, so 409 and 429 are safe to retry.
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusConflict, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}

type Collector struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey, baseURL string) (*Collector, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Collector{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: requestTimeout},
	}, nil
}

func (c *Collector) Provider() string { return ProviderName }

func (c *Collector) Charge(ctx context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	if req.InvoiceID == 0 || strings.TrimSpace(req.Currency) == "" || !req.Amount.IsPositive() {
		return paymentdomain.ChargeResult{}, paymentdomain.ErrInvalidRequest
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(ratingdomain.ToMinorUnits(req.Amount, req.Currency), 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("automatic_payment_methods[enabled]", "true")
	if req.Description != "" {
		values.Set("description", req.Description)
	}
	values.Set("metadata[invoice_id]", req.InvoiceID.String())
	values.Set("metadata[org_id]", req.OrgID.String())
	values.Set("metadata[customer_id]", req.CustomerID.String())
	values.Set("metadata[subscription_id]", req.SubscriptionID.String())

	intent, err := c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey())
	if err != nil {
		return paymentdomain.ChargeResult{}, err
	}
	return paymentdomain.ChargeResult{Reference: intent.ID, Status: mapStatus(intent)}, nil
}

func (c *Collector) GetStatus(ctx context.Context, reference string) (paymentdomain.Status, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", paymentdomain.ErrInvalidReference
	}
	intent, err := c.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(reference), nil, "")
	if err != nil {
		return "", err
	}
	return mapStatus(intent), nil
}

// mapStatus folds PaymentIntent states onto collection statuses. An intent
// waiting for a new payment method after a declined attempt counts as failed.
func mapStatus(intent paymentIntent) paymentdomain.Status {
	switch intent.Status {
	case "succeeded":
		return paymentdomain.StatusSucceeded
	case "processing":
		return paymentdomain.StatusProcessing
	case "canceled":
		return paymentdomain.StatusCanceled
	case "requires_payment_method":
		if intent.LastPaymentError != nil {
			return paymentdomain.StatusFailed
		}
		return paymentdomain.StatusPending
	default:
		return paymentdomain.StatusPending
	}
}

func (c *Collector) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (paymentIntent, error) {
	var body *strings.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return paymentIntent{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return paymentIntent{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "stripe_request_failed"}
		var decoded errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
			apiErr.Type = decoded.Error.Type
			apiErr.Code = decoded.Error.Code
			if msg := strings.TrimSpace(decoded.Error.Message); msg != "" {
				apiErr.Message = msg
			}
		}
		return paymentIntent{}, apiErr
	}

	var intent paymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return paymentIntent{}, err
	}
	if intent.ID == "" {
		return paymentIntent{}, errors.New("stripe_response_invalid")
	}
	return intent, nil
}
