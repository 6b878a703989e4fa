package workspaces

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/stagedocs"
)

func setupRouter(svc *Service, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("userId", userID)
		c.Set("authToken", "token-"+userID)
		c.Set("requestId", "req-test")
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, fileName string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(content)
	}
	w.Close()
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code
}

func TestUploadAndViewHandler(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	req := multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files",
		map[string]string{"documentType": "Resume", "lastModified": "1767225600000"}, "cv.pdf", []byte("%PDF-1.4\n%%EOF\n"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", resp.Code, resp.Body.String())
	}
	var created PendingView
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.DocumentType != "Resume" || created.LastModified.IsZero() || created.PreviewURL == "" {
		t.Fatalf("unexpected entry %+v", created)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-1/documents", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", resp.Code, resp.Body.String())
	}
	var view JobView
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if len(view.Stages) == 0 || len(view.Stages[0].Pending) != 1 {
		t.Fatalf("expected pending file in view, got %+v", view.Stages)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, created.PreviewURL, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected preview 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected pdf content type, got %q", ct)
	}
	if !strings.HasPrefix(resp.Body.String(), "%PDF") {
		t.Fatalf("unexpected preview body")
	}
}

func TestUploadHandlerValidation(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files", nil, "cv.pdf", []byte("x")))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing documentType: expected 400, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files", map[string]string{"documentType": "Resume"}, "", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("missing file: expected 400, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	big := bytes.Repeat([]byte("a"), stagedocs.MaxFileSize)
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files", map[string]string{"documentType": "Resume"}, "big.pdf", big))
	if resp.Code != http.StatusUnprocessableEntity || decodeError(t, resp) != "file_too_large" {
		t.Fatalf("expected 422 file_too_large, got %d body=%s", resp.Code, resp.Body.String())
	}
}

func TestRemoveFileHandler(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1/scopes/sp-1/files/abc", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1/scopes/sp-1/files/0", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSelectExistingHandler(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	body := strings.NewReader(`{"certificateId":"cert-1","documentType":"Resume"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/existing", body)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/existing", strings.NewReader(`{"certificateId":"nope","documentType":"Resume"}`))
	req.Header.Set("Content-Type", "application/json")
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnprocessableEntity || decodeError(t, resp) != "certificate_not_found" {
		t.Fatalf("expected 422 certificate_not_found, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1/scopes/sp-1/existing/cert-1", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func TestSubmitHandler(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/submit", nil))
	if resp.Code != http.StatusUnprocessableEntity || decodeError(t, resp) != "nothing_to_submit" {
		t.Fatalf("expected 422 nothing_to_submit, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files",
		map[string]string{"documentType": "Resume"}, "cv.pdf", []byte("%PDF-1.4\n%%EOF\n")))
	if resp.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/submit", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", resp.Code, resp.Body.String())
	}
	var out stagedocs.Outcome
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Message != "Documents uploaded" || out.FileCount != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if msgs := f.queue.messages(); len(msgs) != 1 || msgs[0].RequestID != "req-test" {
		t.Fatalf("expected event with request id, got %+v", msgs)
	}
}

func TestSubmitHandlerUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")
	f.uploader.err = &portalapi.APIError{Operation: "upload_stage_documents", Status: http.StatusInternalServerError}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files",
		map[string]string{"documentType": "Resume"}, "cv.pdf", []byte("%PDF-1.4\n%%EOF\n")))

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/submit", nil))
	if resp.Code != http.StatusBadGateway || decodeError(t, resp) != "upstream_error" {
		t.Fatalf("expected 502 upstream_error, got %d body=%s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), portalapi.FallbackMessage) {
		t.Fatalf("expected fallback message, got %s", resp.Body.String())
	}
}

func TestEditFlowHandlers(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-2/edits/Offer%20Letter", nil))
	if resp.Code != http.StatusConflict || decodeError(t, resp) != "document_locked" {
		t.Fatalf("expected 409 document_locked, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPut, "/api/v1/jobs/job-1/scopes/sp-1/replacements/Passport",
		map[string]string{"editMode": "true", "certificateId": "cert-1"}, "", nil))
	if resp.Code != http.StatusConflict || decodeError(t, resp) != "not_editing" {
		t.Fatalf("expected 409 not_editing, got %d body=%s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/edits/Passport", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("begin edit: expected 204, got %d body=%s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPut, "/api/v1/jobs/job-1/scopes/sp-1/replacements/Passport",
		map[string]string{"editMode": "true"}, "passport-new.pdf", []byte("%PDF-1.4\n%%EOF\n")))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"staged"`) {
		t.Fatalf("propose: expected staged replacement, got %d body=%s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/edits/Passport/save", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d body=%s", resp.Code, resp.Body.String())
	}
	if len(f.uploader.edits) != 1 || f.uploader.bodies["passport-new.pdf"] == "" {
		t.Fatalf("expected the new file to be sent, got %+v", f.uploader.edits)
	}
}

func TestProposeHandlerRejectsOversizeBody(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	big := bytes.Repeat([]byte("a"), maxUploadBody+1)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPut, "/api/v1/jobs/job-1/scopes/sp-1/replacements/Resume",
		map[string]string{"editMode": "false"}, "huge.pdf", big))
	if resp.Code != http.StatusRequestEntityTooLarge || decodeError(t, resp) != "file_too_large" {
		t.Fatalf("expected 413 file_too_large, got %d body=%s", resp.Code, resp.Body.String())
	}
	if ws, ok := f.svc.Registry.Lookup("u1", "job-1"); ok && ws.Store.Snapshot("sp-1").HasPending() {
		t.Fatalf("oversize replacement must not stage anything")
	}
}

func TestClearAndDisposeHandlers(t *testing.T) {
	f := newFixture(t)
	router := setupRouter(f.svc, "u1")

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files",
		map[string]string{"documentType": "Resume"}, "cv.pdf", []byte("%PDF-1.4\n%%EOF\n")))

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1/scopes/sp-1/pending", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", resp.Code)
	}
	ws, _ := f.svc.Registry.Lookup("u1", "job-1")
	if ws.Store.Snapshot("sp-1").HasPending() || ws.Store.Previews().Live() != 0 {
		t.Fatalf("clear should drop pending files and previews")
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/job-1/workspace", nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("dispose: expected 204, got %d", resp.Code)
	}
	if f.svc.Registry.Len() != 0 {
		t.Fatalf("expected workspace removed")
	}
}

func TestPreviewHandlerRejectsOtherUsers(t *testing.T) {
	f := newFixture(t)
	owner := setupRouter(f.svc, "u1")
	other := setupRouter(f.svc, "u2")

	resp := httptest.NewRecorder()
	owner.ServeHTTP(resp, multipartRequest(t, http.MethodPost, "/api/v1/jobs/job-1/scopes/sp-1/files",
		map[string]string{"documentType": "Resume"}, "cv.pdf", []byte("%PDF-1.4\n%%EOF\n")))
	var created PendingView
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = httptest.NewRecorder()
	other.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, created.PreviewURL, nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", resp.Code)
	}
}
