package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"garmentledger/backend/internal/domain"
	"garmentledger/backend/internal/store"
)

// mutation binds the request body, overlays the {id} path segment onto
// pathKey when set, and runs one ledger operation for the caller.
func mutation[Req any, Res any](a *API, action string, module string, pathKey string, op func(context.Context, domain.Actor, Req) (Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorFrom(r.Context())

		var path map[string]string
		if pathKey != "" {
			path = map[string]string{pathKey: chi.URLParam(r, "id")}
		}
		var req Req
		if err := bind(r, &req, path); err != nil {
			a.service.AuditRejected(r.Context(), actor, action, module, err)
			a.writeError(w, r, err)
			return
		}

		result, err := op(r.Context(), actor, req)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeEnvelope(w, http.StatusOK, true, strings.ReplaceAll(action, "_", " ")+" ok", result)
	}
}

func lookup[Res any](a *API, get func(context.Context, domain.Actor, string) (Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeEnvelope(w, http.StatusOK, true, "ok", result)
	}
}

func list[T any](a *API, w http.ResponseWriter, r *http.Request, items []T, err error) {
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	writeEnvelope(w, http.StatusOK, true, "ok", map[string]any{"items": items})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, http.StatusOK, true, "ok", map[string]any{
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	origin := clientKey(r)
	if !a.loginLimiter.Allow(origin) {
		a.service.AuditUnauthenticated(r.Context(), origin, "login", "rate limited")
		writeEnvelope(w, http.StatusTooManyRequests, false, "too many login attempts, try again later", nil)
		return
	}

	var req domain.LoginRequest
	if err := bind(r, &req, nil); err != nil {
		a.service.AuditUnauthenticated(r.Context(), origin, "login", err.Error())
		a.writeError(w, r, err)
		return
	}

	res, err := a.auth.Login(r.Context(), req)
	if err != nil {
		if store.Kind(err) == store.KindPermission {
			a.service.AuditUnauthenticated(r.Context(), origin, "login", "rejected credentials for "+strings.TrimSpace(req.Username))
			writeEnvelope(w, http.StatusUnauthorized, false, err.Error(), nil)
			return
		}
		a.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, true, "logged in", res)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := a.service.UserByID(r.Context(), actorFrom(r.Context()).UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeEnvelope(w, http.StatusOK, true, "ok", map[string]any{"user": user})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListUsers(r.Context(), actorFrom(r.Context()))
	list(a, w, r, items, err)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListProducts(r.Context(), actorFrom(r.Context()))
	list(a, w, r, items, err)
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListCustomers(r.Context(), actorFrom(r.Context()))
	list(a, w, r, items, err)
}

func (a *API) handleListMaterials(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListMaterials(r.Context(), actorFrom(r.Context()))
	list(a, w, r, items, err)
}

func (a *API) handleFinishedGoods(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	items, err := a.service.ListFinishedGoods(r.Context(), actorFrom(r.Context()), productID)
	list(a, w, r, items, err)
}

func (a *API) handlePendingTransfers(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListPendingTransfers(r.Context(), actorFrom(r.Context()))
	list(a, w, r, items, err)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	items, err := a.service.ListAuditLogs(r.Context(), actorFrom(r.Context()), limit)
	list(a, w, r, items, err)
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	items, err := a.service.ListNotifications(r.Context(), actorFrom(r.Context()), limit)
	list(a, w, r, items, err)
}
