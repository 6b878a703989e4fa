package workspaces

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"portal-gateway/internal/inflight"
	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/server/middleware"
	"portal-gateway/internal/shared/server/respond"
	"portal-gateway/internal/shared/storage/object"
	"portal-gateway/internal/stagedocs"
)

// maxUploadBody bounds a multipart request; the per-file limit is enforced by the store.
const maxUploadBody = 2 * stagedocs.MaxFileSize

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches workspace routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	jobs := rg.Group("/jobs/:jobId")
	jobs.GET("/documents", h.view)
	jobs.DELETE("/workspace", h.dispose)

	scopes := jobs.Group("/scopes/:scopeId")
	scopes.POST("/files", h.addFile)
	scopes.DELETE("/files/:index", h.removeFile)
	scopes.POST("/existing", h.selectExisting)
	scopes.DELETE("/existing/:fileId", h.removeExisting)
	scopes.POST("/edits/:documentName", h.beginEdit)
	scopes.DELETE("/edits/:documentName", h.cancelEdit)
	scopes.POST("/edits/:documentName/save", h.saveEdit)
	scopes.PUT("/replacements/:documentName", h.propose)
	scopes.DELETE("/pending", h.clear)
	scopes.POST("/submit", h.submit)

	rg.GET("/previews/*key", h.preview)
}

// upstreamCtx forwards the caller's bearer token to the backend.
func upstreamCtx(c *gin.Context) context.Context {
	return portalapi.WithToken(c.Request.Context(), middleware.AuthTokenFromContext(c))
}

func (h *Handler) view(c *gin.Context) {
	view, err := h.Svc.View(upstreamCtx(c), middleware.UserIDFromContext(c), c.Param("jobId"))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, view)
}

func (h *Handler) dispose(c *gin.Context) {
	if err := h.Svc.Dispose(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("jobId")); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) addFile(c *gin.Context) {
	file, ok := readUpload(c)
	if !ok {
		return
	}
	documentType := strings.TrimSpace(c.PostForm("documentType"))
	if documentType == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "documentType is required", nil)
		return
	}

	entry, err := h.Svc.AddLocalFile(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), documentType, file)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, h.Svc.links.pending(c.Request.Context(), entry))
}

func (h *Handler) removeFile(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "index must be an integer", nil)
		return
	}
	if err := h.Svc.RemoveLocalFile(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), index); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

type selectExistingRequest struct {
	CertificateID string `json:"certificateId"`
	DocumentType  string `json:"documentType"`
}

func (h *Handler) selectExisting(c *gin.Context) {
	var req selectExistingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	entry, err := h.Svc.SelectExistingFile(upstreamCtx(c), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), req.CertificateID, strings.TrimSpace(req.DocumentType))
	if err != nil {
		writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, entry)
}

func (h *Handler) removeExisting(c *gin.Context) {
	if err := h.Svc.RemoveExistingFile(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), c.Param("fileId")); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) beginEdit(c *gin.Context) {
	if err := h.Svc.BeginEdit(upstreamCtx(c), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), c.Param("documentName")); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) cancelEdit(c *gin.Context) {
	if err := h.Svc.CancelEdit(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), c.Param("documentName")); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) propose(c *gin.Context) {
	local, hasFile, ok := optionalUpload(c)
	if !ok {
		return
	}

	editMode, err := strconv.ParseBool(c.DefaultPostForm("editMode", "false"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "editMode must be a boolean", nil)
		return
	}

	var in ReplacementInput
	if hasFile {
		in.Local = &local
	} else {
		in.CertificateID = strings.TrimSpace(c.PostForm("certificateId"))
	}

	mode, err := h.Svc.ProposeReplacement(upstreamCtx(c), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), c.Param("documentName"), in, editMode)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"mode": mode})
}

func (h *Handler) saveEdit(c *gin.Context) {
	outcome, err := h.Svc.SaveEdit(upstreamCtx(c), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), c.Param("documentName"), middleware.RequestIDFromContext(c))
	h.finish(c, outcome, err)
}

func (h *Handler) clear(c *gin.Context) {
	if err := h.Svc.ClearScope(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId")); err != nil {
		writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) submit(c *gin.Context) {
	outcome, err := h.Svc.Submit(upstreamCtx(c), middleware.UserIDFromContext(c), c.Param("jobId"), c.Param("scopeId"), middleware.RequestIDFromContext(c))
	h.finish(c, outcome, err)
}

func (h *Handler) finish(c *gin.Context, outcome stagedocs.Outcome, err error) {
	if err != nil {
		if !isLocalRejection(err) {
			c.Set("submissionOutcome", "failure")
		}
		writeError(c, err)
		return
	}
	c.Set("submissionOutcome", "success")
	respond.OK(c, outcome)
}

func (h *Handler) preview(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	rc, err := h.Svc.OpenPreview(c.Request.Context(), middleware.UserIDFromContext(c), key)
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
}

// readUpload reads the required multipart "file" field.
func readUpload(c *gin.Context) (stagedocs.LocalUpload, bool) {
	upload, present, ok := optionalUpload(c)
	if ok && !present {
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return stagedocs.LocalUpload{}, false
	}
	return upload, ok
}

// optionalUpload reads the multipart "file" field when one was sent. The body
// is parsed before any other form field so an oversized request is answered
// with 413. Files at or over the size limit are passed on without their bytes
// so the store can reject them.
func optionalUpload(c *gin.Context) (stagedocs.LocalUpload, bool, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", stagedocs.ErrFileTooLarge.Error(), nil)
			return stagedocs.LocalUpload{}, false, false
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			return stagedocs.LocalUpload{}, false, true
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "malformed multipart body", nil)
		return stagedocs.LocalUpload{}, false, false
	}

	upload := stagedocs.LocalUpload{
		Name:         fh.Filename,
		Type:         fh.Header.Get("Content-Type"),
		Size:         fh.Size,
		LastModified: lastModified(c.PostForm("lastModified")),
	}
	if fh.Size >= stagedocs.MaxFileSize {
		return upload, true, true
	}
	data, err := readAll(fh)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return stagedocs.LocalUpload{}, false, false
	}
	upload.Data = data
	return upload, true, true
}

func readAll(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, stagedocs.MaxFileSize))
}

// lastModified parses the browser's File.lastModified (unix millis).
func lastModified(raw string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, stagedocs.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrFileTooLarge):
		respond.Error(c, http.StatusUnprocessableEntity, "file_too_large", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrCertificateNotFound):
		respond.Error(c, http.StatusUnprocessableEntity, "certificate_not_found", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrNothingToSubmit):
		respond.Error(c, http.StatusUnprocessableEntity, "nothing_to_submit", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrNoReplacementSelected):
		respond.Error(c, http.StatusUnprocessableEntity, "no_replacement_selected", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrEntryNotFound), errors.Is(err, object.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, ErrScopeNotFound), errors.Is(err, ErrDocumentNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrNotEditing):
		respond.Error(c, http.StatusConflict, "not_editing", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrDocumentLocked):
		respond.Error(c, http.StatusConflict, "document_locked", err.Error(), nil)
	case errors.Is(err, stagedocs.ErrDisposed):
		respond.Error(c, http.StatusConflict, "workspace_disposed", err.Error(), nil)
	case errors.Is(err, inflight.ErrBusy):
		respond.Error(c, http.StatusConflict, "submission_in_progress", err.Error(), nil)
	default:
		respond.Error(c, portalapi.ResponseStatus(err), "upstream_error", portalapi.MessageOf(err), nil)
	}
}
