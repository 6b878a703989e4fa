package stagedocs

import (
	"context"
	"io"
	"time"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/metrics"
	"portal-gateway/internal/shared/telemetry"
)

// Uploader is the part of the backend API the submission protocol needs.
type Uploader interface {
	UploadStageDocuments(ctx context.Context, upload portalapi.DocumentUpload) (portalapi.Result, error)
	UploadWorkOrderDocuments(ctx context.Context, upload portalapi.DocumentUpload) (portalapi.Result, error)
	EditDocument(ctx context.Context, edit portalapi.EditRequest) (portalapi.Result, error)
}

const (
	KindStage     = "stage"
	KindWorkOrder = "workOrder"
	KindEdit      = "edit"
)

// Target identifies the scope being submitted. StageID is the backend stage
// id and is ignored for the work-order scope.
type Target struct {
	JobID   string
	ScopeID string
	StageID string
}

// WorkOrder reports whether the target is the job's work-order scope.
func (t Target) WorkOrder() bool {
	return t.ScopeID == WorkOrderScope
}

// Outcome summarizes one submission attempt.
type Outcome struct {
	Kind          string   `json:"kind"`
	ScopeID       string   `json:"scopeId"`
	DocumentNames []string `json:"documentNames"`
	FileCount     int      `json:"fileCount"`
	ExistingCount int      `json:"existingCount"`
	Message       string   `json:"message"`

	// LocalIDs and ExistingIDs list the entries the request carried.
	LocalIDs    []string `json:"-"`
	ExistingIDs []string `json:"-"`
}

type Submitter struct {
	API Uploader
}

func NewSubmitter(api Uploader) *Submitter {
	return &Submitter{API: api}
}

// SubmitScope sends every pending file and certificate selection of a scope
// in one request. On success the submitted entries leave the store; on
// failure the store is untouched.
func (s *Submitter) SubmitScope(ctx context.Context, store *Store, target Target) (Outcome, error) {
	kind := KindStage
	if target.WorkOrder() {
		kind = KindWorkOrder
	}
	out := Outcome{Kind: kind, ScopeID: target.ScopeID}
	if target.JobID == "" || (!target.WorkOrder() && target.StageID == "") {
		return out, ErrInvalidInput
	}

	snap := store.Snapshot(target.ScopeID)
	if !snap.HasPending() {
		metrics.IncValidationRejection("nothing_to_submit")
		return out, ErrNothingToSubmit
	}

	upload := portalapi.DocumentUpload{CustomFieldID: target.JobID}
	if !target.WorkOrder() {
		upload.StageID = target.StageID
	}
	localIDs := make([]string, 0, len(snap.Pending))
	for _, f := range snap.Pending {
		upload.Files = append(upload.Files, uploadFile(ctx, store, f))
		localIDs = append(localIDs, f.ID)
		out.DocumentNames = append(out.DocumentNames, f.DocumentType)
	}
	existingIDs := make([]string, 0, len(snap.Selected))
	for _, f := range snap.Selected {
		upload.ExistingFiles = append(upload.ExistingFiles, portalapi.ExistingFileRef{
			FileName:     f.FileName,
			FileURL:      f.FileURL,
			DocumentName: f.DocumentName,
		})
		existingIDs = append(existingIDs, f.ID)
		out.DocumentNames = append(out.DocumentNames, f.DocumentName)
	}
	upload.IsReplaced = len(upload.ExistingFiles) > 0
	out.FileCount = len(upload.Files)
	out.ExistingCount = len(upload.ExistingFiles)

	start := time.Now()
	var (
		res portalapi.Result
		err error
	)
	if target.WorkOrder() {
		res, err = s.API.UploadWorkOrderDocuments(ctx, upload)
	} else {
		res, err = s.API.UploadStageDocuments(ctx, upload)
	}
	if err != nil {
		metrics.ObserveSubmission(kind, "failure", time.Since(start))
		out.Message = portalapi.MessageOf(err)
		telemetry.Warn("stagedocs.submit_failed", map[string]any{
			"job_id":   target.JobID,
			"scope_id": target.ScopeID,
			"kind":     kind,
			"error":    err,
		})
		return out, err
	}
	metrics.ObserveSubmission(kind, "success", time.Since(start))
	out.Message = res.Message
	out.LocalIDs, out.ExistingIDs = localIDs, existingIDs

	store.DiscardSubmitted(ctx, target.ScopeID, localIDs, existingIDs)
	return out, nil
}

// SaveEdit sends the staged replacement for one document.
func (s *Submitter) SaveEdit(ctx context.Context, store *Store, target Target, documentName string) (Outcome, error) {
	out := Outcome{Kind: KindEdit, ScopeID: target.ScopeID, DocumentNames: []string{documentName}}
	if target.JobID == "" || (!target.WorkOrder() && target.StageID == "") {
		return out, ErrInvalidInput
	}

	snap := store.Snapshot(target.ScopeID)
	repl, ok := snap.Replacements[documentName]
	if !ok {
		metrics.IncValidationRejection("no_replacement_selected")
		return out, ErrNoReplacementSelected
	}

	edit := portalapi.EditRequest{
		CustomFieldID: target.JobID,
		DocumentName:  documentName,
		DocumentType:  portalapi.DocumentTypeStage,
	}
	if target.WorkOrder() {
		edit.DocumentType = portalapi.DocumentTypeWorkOrder
	} else {
		edit.StageID = target.StageID
	}
	switch {
	case repl.IsExisting && repl.Existing != nil:
		edit.ExistingFile = &portalapi.ExistingFileEdit{
			FileName: repl.Existing.FileName,
			FileURL:  repl.Existing.FileURL,
			ID:       repl.Existing.ID,
		}
		out.ExistingCount = 1
	case repl.Local != nil:
		f := uploadFile(ctx, store, *repl.Local)
		edit.File = &f
		out.FileCount = 1
	default:
		return out, ErrNoReplacementSelected
	}

	start := time.Now()
	res, err := s.API.EditDocument(ctx, edit)
	if err != nil {
		metrics.ObserveSubmission(KindEdit, "failure", time.Since(start))
		out.Message = portalapi.MessageOf(err)
		telemetry.Warn("stagedocs.edit_failed", map[string]any{
			"job_id":        target.JobID,
			"scope_id":      target.ScopeID,
			"document_name": documentName,
			"error":         err,
		})
		return out, err
	}
	metrics.ObserveSubmission(KindEdit, "success", time.Since(start))
	out.Message = res.Message

	store.FinishEdit(ctx, target.ScopeID, documentName)
	return out, nil
}

func uploadFile(ctx context.Context, store *Store, f PendingLocalFile) portalapi.UploadFile {
	key := f.PreviewKey
	return portalapi.UploadFile{
		FileName:     f.Name,
		DocumentName: f.DocumentType,
		ContentType:  f.Type,
		Size:         f.Size,
		Open: func() (io.ReadCloser, error) {
			return store.Previews().Open(ctx, key)
		},
	}
}
