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
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
)

const defaultYooKassaAPIBaseURL = "https://api.yookassa.ru/v3"

// YooKassaClient talks to the YooKassa payments API using a shop id and
// secret key over basic auth.
type YooKassaClient struct {
	ShopID     string
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewYooKassaClientFromEnv() *YooKassaClient {
	return &YooKassaClient{
		ShopID:     strings.TrimSpace(env.GetEnv("YOOKASSA_SHOP_ID", "")),
		SecretKey:  strings.TrimSpace(env.GetEnv("YOOKASSA_SECRET_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("YOOKASSA_API_BASE_URL", defaultYooKassaAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: env.GetDuration("YOOKASSA_HTTP_TIMEOUT", 30*time.Second),
		},
	}
}

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooPaymentRequest struct {
	Amount          yooAmount         `json:"amount"`
	Capture         bool              `json:"capture"`
	PaymentMethodID string            `json:"payment_method_id"`
	Description     string            `json:"description,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type yooPayment struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	Paid          bool      `json:"paid"`
	Amount        yooAmount `json:"amount"`
	PaymentMethod *struct {
		ID    string `json:"id"`
		Saved bool   `json:"saved"`
	} `json:"payment_method"`
	CancellationDetails *struct {
		Party  string `json:"party"`
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
}

func (p yooPayment) toCharge() (*Charge, error) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Status) == "" {
		return nil, errors.New("payment without id or status")
	}
	c := &Charge{
		ID:       p.ID,
		Status:   strings.ToLower(p.Status),
		Paid:     p.Paid,
		Currency: p.Amount.Currency,
	}
	if p.Amount.Value != "" {
		amount, err := decimal.NewFromString(p.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", p.Amount.Value, err)
		}
		c.Amount = amount
	}
	if p.PaymentMethod != nil {
		c.PaymentMethodID = p.PaymentMethod.ID
	}
	if p.CancellationDetails != nil {
		c.CancellationReason = p.CancellationDetails.Reason
	}
	return c, nil
}

func (c *YooKassaClient) configured() error {
	if c.ShopID == "" || c.SecretKey == "" {
		return NewError(KindInvalidRequest, 0, errors.New("YOOKASSA_SHOP_ID/YOOKASSA_SECRET_KEY are not configured"))
	}
	return nil
}

// CreateCharge charges a stored payment method. The attempt id doubles as the
// Idempotence-Key so a replayed request cannot charge twice.
func (c *YooKassaClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(yooPaymentRequest{
		Amount: yooAmount{
			Value:    req.Amount.StringFixed(2),
			Currency: req.Currency,
		},
		Capture:         req.Capture,
		PaymentMethodID: req.PaymentMethodID,
		Description:     req.Description,
		Metadata: map[string]string{
			"subscriber_id": strconv.FormatInt(req.Metadata.SubscriberID, 10),
			"attempt_id":    req.Metadata.AttemptID,
		},
	})
	if err != nil {
		return nil, NewError(KindInvalidRequest, 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("payments"), bytes.NewReader(payload))
	if err != nil {
		return nil, NewError(KindInvalidRequest, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", req.Metadata.AttemptID)

	return c.do(httpReq)
}

func (c *YooKassaClient) FindCharge(ctx context.Context, id string) (*Charge, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, NewError(KindInvalidRequest, 0, errors.New("charge id is required"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("payments", id), nil)
	if err != nil {
		return nil, NewError(KindInvalidRequest, 0, err)
	}
	return c.do(httpReq)
}

func (c *YooKassaClient) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.TrimRight(c.APIBaseURL, "/") + "/" + strings.Join(escaped, "/")
}

func (c *YooKassaClient) do(req *http.Request) (*Charge, error) {
	req.SetBasicAuth(c.ShopID, c.SecretKey)
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(req.Context(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, classifyTransport(req.Context(), err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, NewError(KindUnavailable, resp.StatusCode, fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, snippet(body)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, NewError(KindRejected, resp.StatusCode, fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, snippet(body)))
	}

	var payment yooPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, NewError(KindDecode, resp.StatusCode, err)
	}
	charge, err := payment.toCharge()
	if err != nil {
		return nil, NewError(KindDecode, resp.StatusCode, err)
	}

	log.Debugf("[Gateway] %s %s -> charge %s status=%s", req.Method, req.URL.Path, charge.ID, charge.Status)
	return charge, nil
}

func classifyTransport(ctx context.Context, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return NewError(KindTimeout, 0, err)
	}
	return NewError(KindTransport, 0, err)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	return s
}
