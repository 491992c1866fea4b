package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"garmentledger/backend/internal/service"
	"garmentledger/backend/internal/store"
)

type Options struct {
	AllowedOrigin  string
	MaxBodyBytes   int64
	TrustedProxies []netip.Prefix
	Logger         *zap.Logger
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	log           *zap.Logger
	allowedOrigin  string
	maxBodyBytes   int64
	trustedProxies []netip.Prefix
	loginLimiter   *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if strings.TrimSpace(opts.AllowedOrigin) == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:        svc,
		auth:           auth,
		log:            opts.Logger.Named("http"),
		allowedOrigin:  opts.AllowedOrigin,
		maxBodyBytes:   opts.MaxBodyBytes,
		trustedProxies: opts.TrustedProxies,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
	}
}

// ParseTrustedProxies accepts bare addresses and CIDR prefixes.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		if prefix, err := netip.ParsePrefix(v); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q is neither an address nor a CIDR", v)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return prefixes, nil
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.proxiedRealIP)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", idempotencyHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(a.limitBody)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusNotFound, false, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, http.StatusMethodNotAllowed, false, "method not allowed", nil)
	})

	r.Get("/healthz", a.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)
			a.ledgerRoutes(r)
		})
	})

	return r
}

// proxiedRealIP lets forwarding headers rewrite RemoteAddr only when the
// connection comes from a trusted proxy.
func (a *API) proxiedRealIP(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.fromTrustedProxy(r) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) fromTrustedProxy(r *http.Request) bool {
	if len(a.trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(clientKey(r))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range a.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (a *API) ledgerRoutes(r chi.Router) {
	r.Get("/me", a.handleMe)
	r.Get("/audit-logs", a.handleAuditLogs)
	r.Get("/notifications", a.handleNotifications)

	r.Route("/users", func(r chi.Router) {
		r.Get("/", a.handleListUsers)
		r.Post("/", mutation(a, "user_create", "users", "", a.service.CreateUser))
		r.Post("/{id}/delete", mutation(a, "user_delete", "users", "id", a.service.DeleteUser))
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", a.handleListProducts)
		r.Post("/", mutation(a, "product_create", "catalog", "", a.service.CreateProduct))
		r.Post("/{id}/delete", mutation(a, "product_delete", "catalog", "id", a.service.DeleteProduct))
	})
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", a.handleListCustomers)
		r.Post("/", mutation(a, "customer_create", "customers", "", a.service.CreateCustomer))
		r.Post("/{id}/delete", mutation(a, "customer_delete", "customers", "id", a.service.DeleteCustomer))
	})
	r.Route("/materials", func(r chi.Router) {
		r.Get("/", a.handleListMaterials)
		r.Post("/", mutation(a, "material_create", "inventory", "", a.service.CreateMaterial))
		r.Post("/{id}/delete", mutation(a, "material_delete", "inventory", "id", a.service.DeleteMaterial))
	})
	r.Route("/purchases", func(r chi.Router) {
		r.Post("/", mutation(a, "purchase_create", "inventory", "", a.service.CreatePurchase))
		r.Get("/{id}", lookup(a, a.service.GetPurchase))
		r.Post("/{id}/delete", mutation(a, "purchase_delete", "inventory", "id", a.service.DeletePurchase))
	})

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", mutation(a, "batch_create", "manufacturing", "", a.service.CreateBatch))
		r.Get("/{id}", lookup(a, a.service.GetBatch))
		r.Post("/{id}/costs", mutation(a, "batch_cost", "manufacturing", "batch_id", a.service.RecordCost))
		r.Post("/{id}/status", mutation(a, "batch_status", "manufacturing", "batch_id", a.service.AdvanceStatus))
		r.Post("/{id}/adjust", mutation(a, "batch_adjust", "manufacturing", "batch_id", a.service.AdjustFinalQuantity))
		r.Post("/{id}/quality-checks", mutation(a, "batch_quality_check", "manufacturing", "batch_id", a.service.RecordQualityCheck))
		r.Post("/{id}/delete", mutation(a, "batch_delete", "manufacturing", "id", a.service.DeleteBatch))
	})

	r.Get("/finished-goods", a.handleFinishedGoods)
	r.Route("/transfers", func(r chi.Router) {
		r.Get("/", a.handlePendingTransfers)
		r.Post("/", mutation(a, "transfer_initiate", "inventory", "", a.service.InitiateTransfer))
		r.Get("/{id}", lookup(a, a.service.GetTransfer))
		r.Post("/{id}/confirm", mutation(a, "transfer_confirm", "inventory", "transfer_id", a.service.ConfirmTransfer))
	})

	r.Route("/funds", func(r chi.Router) {
		r.Post("/", mutation(a, "fund_allocate", "finance", "", a.service.AllocateFund))
		r.Get("/{id}", lookup(a, a.service.GetFund))
		r.Post("/{id}/usages", mutation(a, "fund_usage", "finance", "fund_id", a.service.RecordUsage))
		r.Post("/{id}/returns", mutation(a, "fund_return", "finance", "fund_id", a.service.ReturnFunds))
	})
	r.Post("/fund-returns/{id}/approve", mutation(a, "fund_return_approve", "finance", "return_id", a.service.ApproveFundReturn))

	r.Route("/sales", func(r chi.Router) {
		r.Post("/", mutation(a, "sale_create", "sales", "", a.service.SaveSale))
		r.Get("/{id}", lookup(a, a.service.GetSale))
		r.Post("/{id}", mutation(a, "sale_edit", "sales", "sale_id", a.service.SaveSale))
		r.Post("/{id}/payments", mutation(a, "payment_record", "sales", "sale_id", a.service.RecordPayment))
		r.Post("/{id}/delete", mutation(a, "sale_delete", "sales", "id", a.service.DeleteSale))
	})
	r.Post("/payments/{id}/void", mutation(a, "payment_void", "sales", "payment_id", a.service.VoidPayment))
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			r.Body = http.MaxBytesReader(w, r.Body, a.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)
		a.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(startedAt)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func statusFor(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch store.Kind(err) {
	case store.KindValidation:
		return http.StatusBadRequest
	case store.KindPermission:
		return http.StatusForbidden
	case store.KindNotFound:
		return http.StatusNotFound
	case store.KindConsistency:
		return http.StatusConflict
	case store.KindState:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// writeError maps a ledger error onto the envelope. Internal failures are
// logged and masked.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= 500 {
		a.log.Error("internal error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeEnvelope(w, status, false, msg, nil)
}

// writeEnvelope writes {success, message, ...data}. Object payloads are
// flattened into the envelope; anything else lands under "data".
func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data any) {
	body := map[string]json.RawMessage{}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			status, success, message = http.StatusInternalServerError, false, "internal server error"
		} else if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
			if err := json.Unmarshal(trimmed, &body); err != nil {
				body = map[string]json.RawMessage{"data": trimmed}
			}
		} else {
			body["data"] = trimmed
		}
	}
	body["success"], _ = json.Marshal(success)
	body["message"], _ = json.Marshal(message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
