package workspaces

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"portal-gateway/internal/inflight"
	"portal-gateway/internal/inspect"
	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/queue"
	"portal-gateway/internal/shared/storage/object"
	"portal-gateway/internal/shared/telemetry"
	"portal-gateway/internal/stagedocs"
	"portal-gateway/internal/submissions"
)

var (
	ErrScopeNotFound    = errors.New("scope not found")
	ErrDocumentNotFound = errors.New("uploaded document not found")
)

// JobAPI fetches the authoritative job record.
type JobAPI interface {
	GetJobDetail(ctx context.Context, jobID string) (portalapi.JobDetail, error)
}

// Journal records submission attempts.
type Journal interface {
	Record(ctx context.Context, entry submissions.Entry) (submissions.Entry, error)
}

type Service struct {
	Registry  *Registry
	Jobs      JobAPI
	Submitter *stagedocs.Submitter
	Guard     inflight.Guard
	Journal   Journal
	Queue     queue.Client
	links     previewLinker
}

// NewService wires a workspace service. When objects can presign URLs the
// view links previews directly to storage for previewTTL.
func NewService(registry *Registry, jobs JobAPI, uploader stagedocs.Uploader, guard inflight.Guard, journal Journal, q queue.Client, objects object.ObjectStore, previewTTL time.Duration) *Service {
	links := previewLinker{ttl: previewTTL}
	if signer, ok := objects.(object.URLSigner); ok {
		links.signer = signer
	}
	if q == nil {
		q = queue.LogClient{}
	}
	return &Service{
		Registry:  registry,
		Jobs:      jobs,
		Submitter: stagedocs.NewSubmitter(uploader),
		Guard:     guard,
		Journal:   journal,
		Queue:     q,
		links:     links,
	}
}

// View fetches the job record and renders it with the caller's pending state.
func (s *Service) View(ctx context.Context, userID, jobID string) (JobView, error) {
	ws := s.Registry.Get(userID, jobID)
	if err := s.Registry.Load(ctx, ws); err != nil {
		return JobView{}, err
	}
	detail, err := s.refresh(ctx, ws)
	if err != nil {
		return JobView{}, err
	}
	return buildView(ctx, detail, jobID, ws.Store, s.links), nil
}

// Dispose drops the workspace, releasing every preview it holds.
func (s *Service) Dispose(ctx context.Context, userID, jobID string) error {
	return s.Registry.Dispose(ctx, userID, jobID)
}

// AddLocalFile stages a local file. Missing content type and PDF page count
// are filled in by sniffing the bytes.
func (s *Service) AddLocalFile(ctx context.Context, userID, jobID, scopeID, documentType string, file stagedocs.LocalUpload) (stagedocs.PendingLocalFile, error) {
	ws := s.Registry.Get(userID, jobID)
	if len(file.Data) > 0 && file.Size < stagedocs.MaxFileSize {
		info := inspect.Describe(file.Name, file.Data)
		if t := strings.TrimSpace(file.Type); t == "" || t == "application/octet-stream" {
			file.Type = info.MimeType
		}
		file.PageCount = info.PageCount
	}
	var entry stagedocs.PendingLocalFile
	err := s.Registry.Update(ctx, ws, func() error {
		var err error
		entry, err = ws.Store.AddLocalFile(ctx, scopeID, documentType, file)
		return err
	})
	return entry, err
}

func (s *Service) RemoveLocalFile(ctx context.Context, userID, jobID, scopeID string, index int) error {
	ws := s.Registry.Get(userID, jobID)
	return s.Registry.Update(ctx, ws, func() error {
		return ws.Store.RemoveLocalFile(ctx, scopeID, index)
	})
}

// SelectExistingFile stages one of the candidate's certificates for a slot.
func (s *Service) SelectExistingFile(ctx context.Context, userID, jobID, scopeID, certificateID, documentType string) (stagedocs.SelectedExistingFile, error) {
	ws := s.Registry.Get(userID, jobID)
	cert, err := s.certificate(ctx, ws, certificateID)
	if err != nil && !errors.Is(err, stagedocs.ErrCertificateNotFound) {
		return stagedocs.SelectedExistingFile{}, err
	}
	var entry stagedocs.SelectedExistingFile
	err = s.Registry.Update(ctx, ws, func() error {
		var err error
		entry, err = ws.Store.SelectExistingFile(ctx, scopeID, cert, documentType)
		return err
	})
	return entry, err
}

func (s *Service) RemoveExistingFile(ctx context.Context, userID, jobID, scopeID, fileID string) error {
	ws := s.Registry.Get(userID, jobID)
	return s.Registry.Update(ctx, ws, func() error {
		return ws.Store.RemoveExistingFile(scopeID, fileID)
	})
}

// BeginEdit enters edit mode for an uploaded document. Documents of an
// approved stage are refused.
func (s *Service) BeginEdit(ctx context.Context, userID, jobID, scopeID, documentName string) error {
	ws := s.Registry.Get(userID, jobID)
	detail, err := s.detail(ctx, ws)
	if err != nil {
		return err
	}
	docs, status, ok := scopeDocuments(detail, scopeID)
	if !ok {
		return ErrScopeNotFound
	}
	if stagedocs.IsLocked(status) {
		return stagedocs.ErrDocumentLocked
	}
	var (
		current stagedocs.UploadedDocument
		found   bool
	)
	for _, doc := range docs.Uploaded {
		if stagedocs.Matches(stagedocs.Requirement{Name: documentName}, doc) {
			current, found = doc, true
			break
		}
	}
	if !found {
		return ErrDocumentNotFound
	}
	return s.Registry.Update(ctx, ws, func() error {
		return ws.Store.BeginEdit(scopeID, documentName, current, status)
	})
}

func (s *Service) CancelEdit(ctx context.Context, userID, jobID, scopeID, documentName string) error {
	ws := s.Registry.Get(userID, jobID)
	return s.Registry.Update(ctx, ws, func() error {
		return ws.Store.CancelEdit(ctx, scopeID, documentName)
	})
}

// ReplacementInput carries either a local file or a certificate id.
type ReplacementInput struct {
	Local         *stagedocs.LocalUpload
	CertificateID string
}

// ProposeReplacement applies a replacement candidate. editMode selects the
// staged replacement of a submitted document over a direct pending swap.
func (s *Service) ProposeReplacement(ctx context.Context, userID, jobID, scopeID, documentName string, in ReplacementInput, editMode bool) (stagedocs.ReplaceMode, error) {
	ws := s.Registry.Get(userID, jobID)
	candidate := stagedocs.Candidate{Local: in.Local}
	if in.Local == nil {
		cert, err := s.certificate(ctx, ws, in.CertificateID)
		if err != nil && !errors.Is(err, stagedocs.ErrCertificateNotFound) {
			return "", err
		}
		candidate.Certificate = cert
	} else if len(in.Local.Data) > 0 && in.Local.Size < stagedocs.MaxFileSize {
		info := inspect.Describe(in.Local.Name, in.Local.Data)
		if t := strings.TrimSpace(in.Local.Type); t == "" || t == "application/octet-stream" {
			in.Local.Type = info.MimeType
		}
		in.Local.PageCount = info.PageCount
	}
	var mode stagedocs.ReplaceMode
	err := s.Registry.Update(ctx, ws, func() error {
		var err error
		mode, err = ws.Store.ProposeReplacement(ctx, scopeID, documentName, candidate, editMode)
		return err
	})
	return mode, err
}

// ClearScope drops the scope's pending state. It shares the submit guard so
// a clear cannot race an outstanding submission.
func (s *Service) ClearScope(ctx context.Context, userID, jobID, scopeID string) error {
	release, err := s.Guard.Acquire(ctx, inflight.Key(userID, jobID, scopeID))
	if err != nil {
		return err
	}
	defer release()
	ws := s.Registry.Get(userID, jobID)
	return s.Registry.Update(ctx, ws, func() error {
		return ws.Store.ClearScope(ctx, scopeID)
	})
}

// Submit sends the scope's pending files and certificate selections.
func (s *Service) Submit(ctx context.Context, userID, jobID, scopeID, requestID string) (stagedocs.Outcome, error) {
	release, err := s.Guard.Acquire(ctx, inflight.Key(userID, jobID, scopeID))
	if err != nil {
		return stagedocs.Outcome{ScopeID: scopeID}, err
	}
	defer release()

	ws := s.Registry.Get(userID, jobID)
	target, err := s.target(ctx, ws, scopeID)
	if err != nil {
		return stagedocs.Outcome{ScopeID: scopeID}, err
	}
	if err := s.Registry.Load(ctx, ws); err != nil {
		return stagedocs.Outcome{ScopeID: scopeID}, err
	}
	outcome, err := s.Submitter.SubmitScope(ctx, ws.Store, target)
	if err == nil && s.Registry.Shared() {
		s.commit(ctx, ws, scopeID, func() {
			ws.Store.DiscardSubmitted(ctx, scopeID, outcome.LocalIDs, outcome.ExistingIDs)
		})
	}
	s.afterSubmission(ctx, ws, outcome, requestID, err)
	return outcome, err
}

// SaveEdit sends the staged replacement for one document.
func (s *Service) SaveEdit(ctx context.Context, userID, jobID, scopeID, documentName, requestID string) (stagedocs.Outcome, error) {
	release, err := s.Guard.Acquire(ctx, inflight.Key(userID, jobID, scopeID, documentName))
	if err != nil {
		return stagedocs.Outcome{ScopeID: scopeID}, err
	}
	defer release()

	ws := s.Registry.Get(userID, jobID)
	target, err := s.target(ctx, ws, scopeID)
	if err != nil {
		return stagedocs.Outcome{ScopeID: scopeID}, err
	}
	if err := s.Registry.Load(ctx, ws); err != nil {
		return stagedocs.Outcome{ScopeID: scopeID}, err
	}
	outcome, err := s.Submitter.SaveEdit(ctx, ws.Store, target, documentName)
	if err == nil && s.Registry.Shared() {
		s.commit(ctx, ws, scopeID, func() {
			ws.Store.FinishEdit(ctx, scopeID, documentName)
		})
	}
	s.afterSubmission(ctx, ws, outcome, requestID, err)
	return outcome, err
}

// commit replays a successful submission's cleanup on the current state, so
// entries staged elsewhere while the request was in flight are kept.
func (s *Service) commit(ctx context.Context, ws *Workspace, scopeID string, apply func()) {
	err := s.Registry.Update(ctx, ws, func() error {
		apply()
		return nil
	})
	if err != nil {
		telemetry.Error("submission.commit_failed", map[string]any{
			"job_id":   ws.JobID,
			"scope_id": scopeID,
			"error":    err,
		})
	}
}

// OpenPreview streams a pending file preview owned by userID.
func (s *Service) OpenPreview(ctx context.Context, userID, key string) (io.ReadCloser, error) {
	ws, err := s.Registry.Owner(ctx, userID, key)
	if err != nil {
		return nil, err
	}
	return ws.Store.Previews().Open(ctx, key)
}

func (s *Service) afterSubmission(ctx context.Context, ws *Workspace, outcome stagedocs.Outcome, requestID string, err error) {
	if err != nil && isLocalRejection(err) {
		return
	}
	result := submissions.OutcomeSuccess
	if err != nil {
		result = submissions.OutcomeFailure
	}
	if s.Journal != nil {
		if _, jerr := s.Journal.Record(ctx, submissions.Entry{
			UserID:        ws.UserID,
			JobID:         ws.JobID,
			ScopeID:       outcome.ScopeID,
			Kind:          outcome.Kind,
			DocumentNames: outcome.DocumentNames,
			FileCount:     outcome.FileCount,
			ExistingCount: outcome.ExistingCount,
			Outcome:       result,
			Message:       outcome.Message,
			RequestID:     requestID,
		}); jerr != nil {
			telemetry.Error("submission.journal_failed", map[string]any{
				"job_id":   ws.JobID,
				"scope_id": outcome.ScopeID,
				"error":    jerr,
			})
		}
	}
	if err != nil {
		return
	}

	if qerr := s.Queue.Send(ctx, queue.Message{
		Type:          queue.TypeDocumentsSubmitted,
		JobID:         ws.JobID,
		ScopeID:       outcome.ScopeID,
		Kind:          outcome.Kind,
		UserID:        ws.UserID,
		DocumentNames: outcome.DocumentNames,
		RequestID:     requestID,
		EnqueuedAt:    time.Now().UTC().Format(time.RFC3339),
		Version:       queue.MessageVersion,
	}); qerr != nil {
		telemetry.Warn("submission.event_failed", map[string]any{
			"job_id":   ws.JobID,
			"scope_id": outcome.ScopeID,
			"error":    qerr,
		})
	}

	ws.setDetail(nil)
	if _, rerr := s.refresh(ctx, ws); rerr != nil {
		telemetry.Warn("submission.refetch_failed", map[string]any{
			"job_id": ws.JobID,
			"error":  rerr,
		})
	}
}

// detail returns the cached job record, fetching it when absent.
func (s *Service) detail(ctx context.Context, ws *Workspace) (portalapi.JobDetail, error) {
	if d, ok := ws.cachedDetail(); ok {
		return d, nil
	}
	return s.refresh(ctx, ws)
}

func (s *Service) refresh(ctx context.Context, ws *Workspace) (portalapi.JobDetail, error) {
	d, err := s.Jobs.GetJobDetail(ctx, ws.JobID)
	if err != nil {
		return portalapi.JobDetail{}, err
	}
	ws.setDetail(&d)
	return d, nil
}

func (s *Service) certificate(ctx context.Context, ws *Workspace, id string) (*portalapi.Certificate, error) {
	if strings.TrimSpace(id) == "" {
		return nil, stagedocs.ErrCertificateNotFound
	}
	detail, err := s.detail(ctx, ws)
	if err != nil {
		return nil, err
	}
	cert, ok := detail.Certificate(id)
	if !ok {
		return nil, stagedocs.ErrCertificateNotFound
	}
	return &cert, nil
}

func (s *Service) target(ctx context.Context, ws *Workspace, scopeID string) (stagedocs.Target, error) {
	t := stagedocs.Target{JobID: ws.JobID, ScopeID: scopeID}
	if scopeID == stagedocs.WorkOrderScope {
		return t, nil
	}
	detail, err := s.detail(ctx, ws)
	if err != nil {
		return stagedocs.Target{}, err
	}
	sp, ok := detail.Stage(scopeID)
	if !ok {
		return stagedocs.Target{}, ErrScopeNotFound
	}
	t.StageID = stageIDOf(sp)
	return t, nil
}

func scopeDocuments(detail portalapi.JobDetail, scopeID string) (stagedocs.StageDocuments, string, bool) {
	if scopeID == stagedocs.WorkOrderScope {
		return stagedocs.FromWorkOrder(detail), "", true
	}
	sp, ok := detail.Stage(scopeID)
	if !ok {
		return stagedocs.StageDocuments{}, "", false
	}
	return stagedocs.FromStage(sp), sp.StageStatus, true
}

func isLocalRejection(err error) bool {
	for _, target := range []error{
		stagedocs.ErrInvalidInput,
		stagedocs.ErrNothingToSubmit,
		stagedocs.ErrNoReplacementSelected,
		stagedocs.ErrDisposed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
