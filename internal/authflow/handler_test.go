package authflow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func setupRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(svc).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func post(router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestPasswordResetHandlers(t *testing.T) {
	svc, _, clk := newTestService()
	router := setupRouter(svc)

	resp := post(router, "/api/v1/auth/password-reset", `{"email":"a@example.com"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", resp.Code, resp.Body.String())
	}
	var view FlowView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = post(router, "/api/v1/auth/flows/"+view.FlowID+"/resend", "")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", resp.Header().Get("Retry-After"))
	}

	clk.t = clk.t.Add(31 * time.Second)
	resp = post(router, "/api/v1/auth/flows/"+view.FlowID+"/resend", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp = post(router, "/api/v1/auth/flows/"+view.FlowID+"/reset", `{"password":"new-password","confirmPassword":"new-password"}`)
	if resp.Code != http.StatusConflict {
		t.Fatalf("reset before verify: expected 409, got %d", resp.Code)
	}

	resp = post(router, "/api/v1/auth/flows/"+view.FlowID+"/verify", `{"otp":"123456"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.Code)
	}

	resp = post(router, "/api/v1/auth/flows/"+view.FlowID+"/reset", `{"password":"short","confirmPassword":"short"}`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", resp.Code)
	}

	resp = post(router, "/api/v1/auth/flows/"+view.FlowID+"/reset", `{"password":"new-password","confirmPassword":"new-password"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestUnknownFlowHandler(t *testing.T) {
	svc, _, _ := newTestService()
	router := setupRouter(svc)
	resp := post(router, "/api/v1/auth/flows/missing/verify", `{"otp":"1"}`)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestLoginHandlerPassesUpstreamStatus(t *testing.T) {
	svc, _, _ := newTestService()
	router := setupRouter(svc)

	resp := post(router, "/api/v1/auth/login", `{"email":"a@example.com","password":"wrong"}`)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Invalid credentials") {
		t.Fatalf("expected backend message, got %s", resp.Body.String())
	}

	resp = post(router, "/api/v1/auth/login", `{"email":"a@example.com","password":"correct-horse"}`)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "jwt-token") {
		t.Fatalf("expected token, got %d %s", resp.Code, resp.Body.String())
	}

	resp = post(router, "/api/v1/auth/login", `not-json`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestRegisterHandler(t *testing.T) {
	svc, _, _ := newTestService()
	router := setupRouter(svc)
	resp := post(router, "/api/v1/auth/register", `{"name":"Asha","email":"asha@example.com","password":"password1","confirmPassword":"password1"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"step":"otp_sent"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}
