package gatewaytest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const userIDKey contextKey = "user_id"

type phoneRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type submitRequest struct {
	Category string `json:"category"`
	Details  string `json:"details"`
}

func (g *Gateway) countAndFail(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		g.mu.Lock()
		g.calls[route]++
		status, fail := g.failures[route]
		g.mu.Unlock()
		if fail {
			respondWithError(w, status, "injected failure")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			respondWithError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims, err := g.verifyToken(raw)
		if err != nil {
			respondWithError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		respondWithError(w, http.StatusBadRequest, "phone is required")
		return
	}

	g.mu.Lock()
	g.issueCode(req.Phone)
	g.mu.Unlock()

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "code_sent"})
}

func (g *Gateway) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.Code = strings.TrimSpace(req.Code)
	if req.Phone == "" || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "phone and code are required")
		return
	}

	g.mu.Lock()
	valid := g.checkCode(req.Phone, req.Code)
	userID := ""
	if valid {
		userID = g.userFor(req.Phone)
	}
	shape := g.verifyShape
	g.mu.Unlock()

	if !valid {
		respondWithError(w, http.StatusUnauthorized, "invalid or expired code")
		return
	}
	token, err := g.SignToken(userID, req.Phone, tokenExpiry)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	var body map[string]any
	switch shape {
	case VerifyAccessToken:
		body = map[string]any{"access_token": token, "token_type": "bearer"}
	case VerifyJWT:
		body = map[string]any{"jwt": token, "user": map[string]any{"id": userID, "phone_number": req.Phone}}
	case VerifyNoToken:
		body = map[string]any{"user": map[string]any{"id": userID, "phone": req.Phone}}
	default:
		body = map[string]any{"token": token, "user": map[string]any{"id": userID, "phone": req.Phone}}
	}
	respondWithJSON(w, http.StatusOK, body)
}

func (g *Gateway) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Category) == "" || strings.TrimSpace(req.Details) == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "category and details are required")
		return
	}
	owner, _ := r.Context().Value(userIDKey).(string)

	g.mu.Lock()
	stored := Request{
		ID:        g.newRequestID(),
		Category:  req.Category,
		Details:   req.Details,
		Status:    "pending",
		CreatedAt: time.Now().UTC().Format("2006-01-02T15:04:05.000000"),
		Owner:     owner,
	}
	g.requests = append(g.requests, stored)
	shape := g.submitShape
	g.mu.Unlock()

	var body any
	switch shape {
	case SubmitDataID:
		body = map[string]any{"data": map[string]any{"id": stored.ID}}
	case SubmitNoID:
		body = map[string]any{"ok": true}
	default:
		body = map[string]any{"id": stored.ID, "status": stored.Status}
	}
	respondWithJSON(w, http.StatusCreated, body)
}

// handleList returns every stored request, not only the caller's; scoping
// is the client's job
func (g *Gateway) handleList(w http.ResponseWriter, r *http.Request) {
	status := strings.ToLower(r.URL.Query().Get("status"))

	g.mu.Lock()
	items := make([]Request, 0, len(g.requests))
	for i := len(g.requests) - 1; i >= 0; i-- {
		req := g.requests[i]
		if status != "" && strings.ToLower(req.Status) != status {
			continue
		}
		items = append(items, req)
	}
	shape := g.listShape
	g.mu.Unlock()

	if shape == ListItems {
		respondWithJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
		return
	}
	respondWithJSON(w, http.StatusOK, items)
}

func (g *Gateway) handleArticles(w http.ResponseWriter, r *http.Request) {
	page := atoiDefault(r.URL.Query().Get("page"), 1)
	size := atoiDefault(r.URL.Query().Get("page_size"), 20)

	g.mu.Lock()
	all := append([]Article(nil), g.articles...)
	g.mu.Unlock()

	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	respondWithJSON(w, http.StatusOK, all[start:end])
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func respondWithJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a FastAPI-style error body
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"detail": message})
}
