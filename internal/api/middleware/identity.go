package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ubl-proto/ubl/internal/models"
)

type contextKey string

const (
	IdentityContextKey  contextKey = "identity"
	RequestIDContextKey contextKey = "request_id"
)

// RequestID preserves an inbound X-Request-Id or mints one, echoes it on the
// response, and stores it in the request context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = models.NewRequestID()
		}
		w.Header().Set("X-Request-Id", requestID)
		ctx := context.WithValue(r.Context(), RequestIDContextKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity reads the verified identity headers injected by the edge auth
// layer. The core never parses tokens; a request without identity headers is
// rejected before any handler runs.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-UBL-User-Id")
		email := r.Header.Get("X-UBL-Email")
		if userID == "" || email == "" {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "missing identity headers")
			return
		}

		identity := models.Identity{
			UserID:      userID,
			Email:       email,
			EmailDomain: emailDomain(email),
			IsService:   r.Header.Get("X-UBL-Service") == "true",
		}
		if groups := r.Header.Get("X-UBL-Groups"); groups != "" {
			for _, g := range strings.Split(groups, ",") {
				if g = strings.TrimSpace(g); g != "" {
					identity.Groups = append(identity.Groups, g)
				}
			}
		}
		if identity.EmailDomain == "" {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "identity email has no domain")
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// GetIdentity retrieves the verified identity from the request context.
func GetIdentity(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(models.Identity)
	return identity, ok
}

// GetRequestID retrieves the request id from the request context.
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(RequestIDContextKey).(string)
	return requestID
}

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
