package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"academy-checkout/internal/domain"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var errIncompletePreference = errors.New("provider returned a preference without id or redirect url")

// Client talks to the hosted-checkout provider's REST API.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

var _ Provider = (*Client)(nil)

type preferenceItem struct {
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id"`
}

type preferenceBody struct {
	Items             []preferenceItem `json:"items"`
	ExternalReference string           `json:"external_reference"`
	NotificationURL   string           `json:"notification_url,omitempty"`
	Payer             struct {
		Email string `json:"email,omitempty"`
	} `json:"payer"`
	BackURLs struct {
		Success string `json:"success,omitempty"`
		Failure string `json:"failure,omitempty"`
		Pending string `json:"pending,omitempty"`
	} `json:"back_urls"`
	AutoReturn string `json:"auto_return,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

type paymentResponse struct {
	ID                flexibleID      `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	PreferenceID      string          `json:"preference_id"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	CurrencyID        string          `json:"currency_id"`
	DateApproved      *time.Time      `json:"date_approved"`
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
	Code       string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider api error (status %d)", e.StatusCode)
}

func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (domain.Preference, error) {
	var body preferenceBody
	body.Items = []preferenceItem{{
		Title:      req.Title,
		Quantity:   1,
		UnitPrice:  json.Number(req.Amount.String()),
		CurrencyID: req.Currency,
	}}
	body.ExternalReference = req.ExternalReference
	body.NotificationURL = req.NotificationURL
	body.Payer.Email = req.PayerEmail
	if req.BackURL != "" {
		body.BackURLs.Success = req.BackURL
		body.BackURLs.Failure = req.BackURL
		body.BackURLs.Pending = req.BackURL
		body.AutoReturn = "approved"
	}

	var resp preferenceResponse
	headers := map[string]string{"X-Idempotency-Key": req.IdempotencyKey}
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, headers, &resp); err != nil {
		return domain.Preference{}, err
	}
	return domain.Preference{ID: resp.ID, RedirectURL: resp.InitPoint}, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	var resp paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &domain.Payment{
		ID:                string(resp.ID),
		Status:            domain.ProviderPaymentStatus(resp.Status),
		StatusDetail:      resp.StatusDetail,
		PreferenceID:      resp.PreferenceID,
		ExternalReference: resp.ExternalReference,
		Amount:            resp.TransactionAmount,
		Currency:          resp.CurrencyID,
		ApprovedAt:        resp.DateApproved,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, headers map[string]string, out any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(bodyBytes, apiErr)
		log.Warn().
			Str("component", "payment_client").
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("detail", apiErr.Message).
			Msg("non-2xx response from payment provider")
		return apiErr
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
