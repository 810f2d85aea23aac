package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const employeeKey contextKey = "employee"

// EmployeeFromContext returns the authenticated employee id, if any
func EmployeeFromContext(ctx context.Context) (string, bool) {
	employee, ok := ctx.Value(employeeKey).(string)
	return employee, ok
}

// Middleware returns an HTTP middleware that validates the bearer token
// and stores the authenticated employee id in the request context.
func (m *JWTManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			http.Error(w, "invalid authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), employeeKey, claims.Employee)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
