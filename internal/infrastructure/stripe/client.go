package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mtogo-platform/payment-service/internal/domain/processor"
	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.stripe.com"
	defaultTimeout = 15 * time.Second

	componentStripeClient = "stripe_client"
)

// paymentMethodTokens maps platform method names to processor test tokens.
var paymentMethodTokens = map[string]string{
	"MASTER_CARD": "pm_card_mastercard",
	"VISA":        "pm_card_visa",
}

type Config struct {
	BaseURL   string
	SecretKey string
	Currency  string // lowercase ISO code, e.g. "dkk"
	Country   string // uppercase ISO code, e.g. "DK"
	ReturnURL string
	Timeout   time.Duration
}

// Client implements processor.Gateway against the processor's form-encoded
// REST API. Stateless; every call is one authenticated request/response.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        observability.Logger

	requests observability.Counter
	latency  observability.Histogram
}

func NewClient(cfg Config, tel observability.Telemetry) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        tel.Logger().With(observability.F("component", componentStripeClient)),
		requests:   tel.Counter(observability.MProcessorRequests),
		latency:    tel.Histogram(observability.MProcessorRequestLatency),
	}
}

type accountPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type accountListPayload struct {
	Data []accountPayload `json:"data"`
}

type customerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type customerListPayload struct {
	Data []customerPayload `json:"data"`
}

type transferPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type reversalPayload struct {
	ID string `json:"id"`
}

type errorPayload struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// FindOrCreateAccount searches by email first so repeated payouts to the
// same payee reuse one account instead of creating duplicates.
func (c *Client) FindOrCreateAccount(ctx context.Context, email, registrationNo, bankAccountNo string) (processor.Account, error) {
	const op = "find_or_create_account"

	var list accountListPayload
	query := url.Values{"email": {email}}
	if err := c.do(ctx, op, http.MethodGet, "/v1/accounts?"+query.Encode(), nil, &list); err != nil {
		return processor.Account{}, err
	}
	if len(list.Data) > 0 {
		found := list.Data[0]
		return processor.Account{ID: found.ID, Email: found.Email}, nil
	}

	form := url.Values{
		"email":                              {email},
		"country":                            {c.cfg.Country},
		"default_currency":                   {c.cfg.Currency},
		"external_account":                   {bankAccountNo},
		"registration_number":                {registrationNo},
		"capabilities[transfers][requested]": {"true"},
	}
	var created accountPayload
	if err := c.do(ctx, op, http.MethodPost, "/v1/accounts", form, &created); err != nil {
		return processor.Account{}, err
	}
	c.log.Info("processor_account_created", observability.F("email", email))
	return processor.Account{ID: created.ID, Email: created.Email}, nil
}

// Transfer moves funds to the destination account. Amounts are sent in the
// smallest currency unit. A receipt with a failure status counts as a failed
// transfer even when the HTTP call itself succeeded.
func (c *Client) Transfer(ctx context.Context, accountID string, amount decimal.Decimal, description string) (processor.TransferReceipt, error) {
	const op = "transfer"

	form := url.Values{
		"destination": {accountID},
		"amount":      {strconv.FormatInt(minorUnits(amount), 10)},
		"currency":    {c.cfg.Currency},
		"description": {description},
	}
	var resp transferPayload
	if err := c.do(ctx, op, http.MethodPost, "/v1/transfers", form, &resp); err != nil {
		return processor.TransferReceipt{}, err
	}
	if !transferSucceeded(resp.Status) {
		return processor.TransferReceipt{}, &processor.Error{
			Op:      op,
			Message: fmt.Sprintf("transfer %s has status %q", resp.ID, resp.Status),
		}
	}
	return processor.TransferReceipt{ID: resp.ID, Status: resp.Status}, nil
}

func transferSucceeded(status string) bool {
	switch status {
	case "pending", "paid", "in_transit", "succeeded":
		return true
	default:
		return false
	}
}

func (c *Client) ReverseTransfer(ctx context.Context, transferID string) (processor.Reversal, error) {
	const op = "reverse_transfer"

	var resp reversalPayload
	path := fmt.Sprintf("/v1/transfers/%s/reversals", url.PathEscape(transferID))
	if err := c.do(ctx, op, http.MethodPost, path, url.Values{}, &resp); err != nil {
		return processor.Reversal{}, err
	}
	return processor.Reversal{ID: resp.ID}, nil
}

func (c *Client) FindOrCreateCustomer(ctx context.Context, email string) (processor.Customer, error) {
	const op = "find_or_create_customer"

	var list customerListPayload
	query := url.Values{"email": {email}}
	if err := c.do(ctx, op, http.MethodGet, "/v1/customers?"+query.Encode(), nil, &list); err != nil {
		return processor.Customer{}, err
	}
	if len(list.Data) > 0 {
		found := list.Data[0]
		return processor.Customer{ID: found.ID, Email: found.Email, Name: found.Name}, nil
	}

	var created customerPayload
	if err := c.do(ctx, op, http.MethodPost, "/v1/customers", url.Values{"email": {email}}, &created); err != nil {
		return processor.Customer{}, err
	}
	return processor.Customer{ID: created.ID, Email: created.Email, Name: created.Name}, nil
}

func (c *Client) CreatePaymentIntent(ctx context.Context, in processor.IntentRequest) (processor.PaymentIntent, error) {
	const op = "create_payment_intent"

	token, ok := paymentMethodTokens[in.PaymentMethod]
	if !ok {
		return processor.PaymentIntent{}, &processor.Error{
			Op:      op,
			Message: fmt.Sprintf("unsupported payment method %q", in.PaymentMethod),
		}
	}

	form := url.Values{
		"amount":                         {strconv.FormatInt(minorUnits(in.Amount), 10)},
		"currency":                       {c.cfg.Currency},
		"payment_method":                 {token},
		"confirm":                        {"true"},
		"return_url":                     {c.cfg.ReturnURL},
		"customer":                       {in.CustomerID},
		"shipping[name]":                 {in.Shipping.RecipientName},
		"shipping[address][line1]":       {in.Shipping.Street},
		"shipping[address][city]":        {in.Shipping.City},
		"shipping[address][postal_code]": {in.Shipping.Zip},
		"shipping[address][country]":     {c.cfg.Country},
	}
	if in.Shipping.Floor != "" {
		form.Set("shipping[address][line2]", in.Shipping.Floor)
	}

	var intent processor.PaymentIntent
	if err := c.do(ctx, op, http.MethodPost, "/v1/payment_intents", form, &intent); err != nil {
		return processor.PaymentIntent{}, err
	}
	return intent, nil
}

// do issues one form-encoded, bearer-authenticated request and decodes the
// JSON response into out. Non-2xx responses become *processor.Error.
func (c *Client) do(ctx context.Context, op, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return &processor.Error{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.latency != nil {
		c.latency.Observe(time.Since(start).Seconds(), observability.L("op", op))
	}
	if err != nil {
		c.countRequest(op, "transport_error")
		return &processor.Error{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countRequest(op, "transport_error")
		return &processor.Error{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.countRequest(op, "rejected")
		var pe errorPayload
		_ = json.Unmarshal(raw, &pe)
		msg := pe.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &processor.Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			c.countRequest(op, "decode_error")
			return &processor.Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	c.countRequest(op, "success")
	return nil
}

func (c *Client) countRequest(op, outcome string) {
	if c.requests != nil {
		c.requests.Add(1,
			observability.L("op", op),
			observability.L("outcome", outcome),
		)
	}
}

// minorUnits converts a major-unit amount to the smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
