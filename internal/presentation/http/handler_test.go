package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	appcharge "github.com/mtogo-platform/payment-service/internal/application/charge"
	"github.com/mtogo-platform/payment-service/internal/domain/processor"
	"github.com/shopspring/decimal"
)

type fakeGateway struct {
	customerErr error
	intentErr   error
}

func (g *fakeGateway) FindOrCreateCustomer(_ context.Context, email string) (processor.Customer, error) {
	if g.customerErr != nil {
		return processor.Customer{}, g.customerErr
	}
	return processor.Customer{ID: "cus_1", Email: email}, nil
}

func (g *fakeGateway) CreatePaymentIntent(context.Context, processor.IntentRequest) (processor.PaymentIntent, error) {
	if g.intentErr != nil {
		return processor.PaymentIntent{}, g.intentErr
	}
	return processor.PaymentIntent{ID: "pi_1", Status: "succeeded", Amount: 25000, Currency: "dkk"}, nil
}

func (g *fakeGateway) FindOrCreateAccount(context.Context, string, string, string) (processor.Account, error) {
	return processor.Account{}, errors.New("not used")
}

func (g *fakeGateway) Transfer(context.Context, string, decimal.Decimal, string) (processor.TransferReceipt, error) {
	return processor.TransferReceipt{}, errors.New("not used")
}

func (g *fakeGateway) ReverseTransfer(context.Context, string) (processor.Reversal, error) {
	return processor.Reversal{}, errors.New("not used")
}

func newRouter(gateway *fakeGateway) http.Handler {
	service := appcharge.NewService(gateway, nil)
	return NewHandler(service, nil).Router()
}

const chargeBody = `{
	"amount": 250,
	"address": {"recipentName": "Rita Recipient", "street": "Main St 1", "city": "Copenhagen", "zip": "2100"},
	"payment": {"method": "MASTER_CARD"}
}`

func chargeRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/order/process", strings.NewReader(body))
	req.Header.Set(headerUserEmail, "shopper@example.com")
	req.Header.Set(headerUserRole, roleCustomer)
	return req
}

func TestProcessOrderEndpoint(t *testing.T) {
	router := newRouter(&fakeGateway{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chargeRequest(chargeBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("response must carry a request id")
	}

	var resp struct {
		Payment processor.PaymentIntent `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Payment.ID != "pi_1" || resp.Payment.Status != "succeeded" {
		t.Fatalf("unexpected payment %+v", resp.Payment)
	}
}

func TestProcessOrderRequiresAuthentication(t *testing.T) {
	router := newRouter(&fakeGateway{})

	req := httptest.NewRequest(http.MethodPost, "/order/process", strings.NewReader(chargeBody))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestProcessOrderRequiresCustomerRole(t *testing.T) {
	router := newRouter(&fakeGateway{})

	req := chargeRequest(chargeBody)
	req.Header.Set(headerUserRole, "restaurant")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestProcessOrderRejectsWrongMethod(t *testing.T) {
	router := newRouter(&fakeGateway{})

	req := httptest.NewRequest(http.MethodGet, "/order/process", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestProcessOrderRejectsMalformedBody(t *testing.T) {
	router := newRouter(&fakeGateway{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chargeRequest(`{"amount": `))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessOrderRejectsInvalidRequest(t *testing.T) {
	router := newRouter(&fakeGateway{})

	body := strings.Replace(chargeBody, "MASTER_CARD", "DINERS_CLUB", 1)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chargeRequest(body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProcessOrderMapsMissingCustomerTo404(t *testing.T) {
	gateway := &fakeGateway{
		customerErr: &processor.Error{Op: "find_or_create_customer", StatusCode: 404, Message: "no such customer"},
	}
	router := newRouter(gateway)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chargeRequest(chargeBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestProcessOrderHidesProcessorDetails(t *testing.T) {
	gateway := &fakeGateway{
		intentErr: &processor.Error{Op: "create_payment_intent", StatusCode: 402, Message: "card declined sk_live_secret"},
	}
	router := newRouter(gateway)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, chargeRequest(chargeBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "sk_live_secret") {
		t.Fatalf("processor details leaked: %s", rec.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(&fakeGateway{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
