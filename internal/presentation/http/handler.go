package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	appcharge "github.com/mtogo-platform/payment-service/internal/application/charge"
	"github.com/mtogo-platform/payment-service/internal/domain/processor"
	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/mtogo-platform/payment-service/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"

	headerRequestID = "X-Request-ID"
	headerUserEmail = "X-User-Email"
	headerUserRole  = "X-User-Role"

	roleCustomer = "customer"
)

// Handler serves the synchronous charge path. Identity and role arrive as
// headers set by the platform's edge gateway after authentication.
type Handler struct {
	chargeService *appcharge.Service
	log           observability.Logger
	tel           observability.Telemetry
}

func NewHandler(chargeService *appcharge.Service, tel observability.Telemetry) *Handler {
	if tel == nil {
		tel = observability.NopTelemetry()
	}
	return &Handler{
		chargeService: chargeService,
		log:           tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tel:           tel,
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/order/process", h.method(http.MethodPost, "/order/process",
		h.requireCustomer(h.handleProcessOrder)))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

type processOrderResponse struct {
	Payment processor.PaymentIntent `json:"payment"`
}

func (h *Handler) handleProcessOrder(w http.ResponseWriter, r *http.Request) {
	var req appcharge.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	email := r.Header.Get(headerUserEmail)
	intent, err := h.chargeService.ProcessOrderPayment(r.Context(), email, req)
	if err != nil {
		h.writeChargeError(r, w, err)
		return
	}

	writeJSON(w, http.StatusOK, processOrderResponse{Payment: intent})
}

// writeChargeError maps missing resources to 404 and everything else to a
// generic 500 so processor details never leak to the caller.
func (h *Handler) writeChargeError(r *http.Request, w http.ResponseWriter, err error) {
	logger := logctx.FromOr(r.Context(), h.log)

	switch {
	case errors.Is(err, appcharge.ErrEmailRequired),
		errors.Is(err, appcharge.ErrInvalidAmount),
		errors.Is(err, appcharge.ErrUnsupportedMethod),
		errors.Is(err, appcharge.ErrRecipientRequired):
		writeError(w, http.StatusBadRequest, err)
	case processor.IsNotFound(err):
		writeError(w, http.StatusNotFound, err)
	default:
		logger.Error("charge_request_failed", observability.F("error", err.Error()))
		writeError(w, http.StatusInternalServerError, errors.New("Internal server error"))
	}
}

// requireCustomer gates the charge path to authenticated customers.
func (h *Handler) requireCustomer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerUserEmail) == "" {
			writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}
		if r.Header.Get(headerUserRole) != roleCustomer {
			writeError(w, http.StatusForbidden, errors.New("customer role required"))
			return
		}
		next(w, r)
	}
}

// method wraps a handler with method checking, a request-scoped logger, and
// HTTP metrics labeled by the low-cardinality route template.
func (h *Handler) method(method, route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}

		rid := r.Header.Get(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set(headerRequestID, rid)

		reqLogger := h.log.With(observability.F("request_id", rid))
		ctx := logctx.With(r.Context(), reqLogger)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r.WithContext(ctx))

		if c := h.tel.Counter(observability.MHTTPRequests); c != nil {
			c.Add(1,
				observability.L("method", r.Method),
				observability.L("route", route),
				observability.L("status", http.StatusText(rec.status)),
			)
		}
		if hist := h.tel.Histogram(observability.MHTTPRequestDuration); hist != nil {
			hist.Observe(time.Since(start).Seconds(),
				observability.L("method", r.Method),
				observability.L("route", route),
			)
		}

		reqLogger.Info("http_request_done",
			observability.F("method", r.Method),
			observability.F("route", route),
			observability.F("status", rec.status),
			observability.F("latency_seconds", time.Since(start).Seconds()),
		)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
