package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	token, err := manager.GenerateToken("emp-42")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Employee != "emp-42" {
		t.Errorf("Employee = %q, want emp-42", claims.Employee)
	}
}

func TestValidateTokenErrors(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	t.Run("garbage token", func(t *testing.T) {
		if _, err := manager.ValidateToken("not.a.token"); err == nil {
			t.Error("expected error for garbage token")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager("other-secret", time.Hour)
		token, err := other.GenerateToken("emp-42")
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if _, err := manager.ValidateToken(token); err == nil {
			t.Error("expected error for token signed with another secret")
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired := NewJWTManager("test-secret", -time.Minute)
		token, err := expired.GenerateToken("emp-42")
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if _, err := manager.ValidateToken(token); err != ErrExpiredToken {
			t.Errorf("ValidateToken() error = %v, want ErrExpiredToken", err)
		}
	})
}

func TestMiddleware(t *testing.T) {
	manager := NewJWTManager("test-secret", time.Hour)

	var gotEmployee string
	handler := manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEmployee, _ = EmployeeFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid bearer token", func(t *testing.T) {
		token, err := manager.GenerateToken("emp-42")
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if gotEmployee != "emp-42" {
			t.Errorf("employee in context = %q, want emp-42", gotEmployee)
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}

func TestEmployeeFromContextMissing(t *testing.T) {
	if _, ok := EmployeeFromContext(context.Background()); ok {
		t.Error("expected no employee in a bare context")
	}
}
