package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestErrorWritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		Error(c, http.StatusConflict, "submission_in_progress", "a submission for this scope is already running", gin.H{"scopeId": "stage-1"})
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/x", nil))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "submission_in_progress" {
		t.Fatalf("unexpected code %q", body.Error.Code)
	}
	details, ok := body.Error.Details.(map[string]any)
	if !ok || details["scopeId"] != "stage-1" {
		t.Fatalf("unexpected details %#v", body.Error.Details)
	}
}
