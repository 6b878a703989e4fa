package workspaces

import (
	"context"
	"net/url"
	"strings"
	"time"

	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/shared/storage/object"
	"portal-gateway/internal/shared/telemetry"
	"portal-gateway/internal/stagedocs"
)

// JobView is the render-ready document page for one job.
type JobView struct {
	JobID        string                  `json:"jobId"`
	JobTitle     string                  `json:"jobTitle,omitempty"`
	Status       string                  `json:"status,omitempty"`
	Stages       []ScopeView             `json:"stages"`
	WorkOrder    *ScopeView              `json:"workOrder,omitempty"`
	Certificates []portalapi.Certificate `json:"certificates"`
}

// ScopeView merges reconciliation with the scope's pending state.
type ScopeView struct {
	ScopeID       string                           `json:"scopeId"`
	StageID       string                           `json:"stageId,omitempty"`
	StageName     string                           `json:"stageName"`
	Status        string                           `json:"status,omitempty"`
	Locked        bool                             `json:"locked"`
	Documents     []DocumentRow                    `json:"documents"`
	Uploaded      []stagedocs.UploadedDocument     `json:"uploaded"`
	Additional    []stagedocs.AdditionalDocument   `json:"additional"`
	Pending       []PendingView                    `json:"pending"`
	Selected      []stagedocs.SelectedExistingFile `json:"selected"`
	Complete      bool                             `json:"complete"`
	UploadedCount int                              `json:"uploadedCount"`
	RequiredCount int                              `json:"requiredCount"`
}

// DocumentRow is one required document with its slot state.
type DocumentRow struct {
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	Mandatory   bool                        `json:"mandatory"`
	State       stagedocs.SlotState         `json:"state"`
	CanEdit     bool                        `json:"canEdit"`
	Uploaded    *stagedocs.UploadedDocument `json:"uploaded,omitempty"`
	Editing     *stagedocs.UploadedDocument `json:"editing,omitempty"`
	Replacement *ReplacementView            `json:"replacement,omitempty"`
}

// PendingView is a pending local file plus a URL the UI can preview it from.
type PendingView struct {
	stagedocs.PendingLocalFile
	PreviewURL string `json:"previewUrl"`
}

type ReplacementView struct {
	IsExisting bool                            `json:"isExisting"`
	Local      *PendingView                    `json:"local,omitempty"`
	Existing   *stagedocs.SelectedExistingFile `json:"existing,omitempty"`
}

// previewLinker turns preview keys into URLs: presigned when the object
// store can sign, otherwise the gateway's own preview route.
type previewLinker struct {
	signer object.URLSigner
	ttl    time.Duration
}

func (l previewLinker) link(ctx context.Context, key string) string {
	if l.signer != nil {
		u, err := l.signer.PresignGet(ctx, key, l.ttl)
		if err == nil {
			return u
		}
		telemetry.Warn("preview.presign_failed", map[string]any{"preview_key": key, "error": err})
	}
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return "/api/v1/previews/" + strings.Join(parts, "/")
}

func (l previewLinker) pending(ctx context.Context, f stagedocs.PendingLocalFile) PendingView {
	return PendingView{PendingLocalFile: f, PreviewURL: l.link(ctx, f.PreviewKey)}
}

func scopeIDOf(sp portalapi.StageProgress) string {
	if sp.ID != "" {
		return sp.ID
	}
	return sp.StageID
}

func stageIDOf(sp portalapi.StageProgress) string {
	if sp.StageID != "" {
		return sp.StageID
	}
	return sp.ID
}

// buildView renders the job detail and pending state. Missing stages or
// work-order data render as empty scopes.
func buildView(ctx context.Context, detail portalapi.JobDetail, jobID string, store *stagedocs.Store, links previewLinker) JobView {
	view := JobView{
		JobID:        jobID,
		JobTitle:     detail.JobTitle,
		Status:       detail.Status,
		Stages:       make([]ScopeView, 0, len(detail.StageProgress)),
		Certificates: detail.Certificates,
	}
	if view.Certificates == nil {
		view.Certificates = []portalapi.Certificate{}
	}
	for _, sp := range detail.StageProgress {
		sv := buildScope(ctx, scopeIDOf(sp), stagedocs.FromStage(sp), sp.StageStatus, store.Snapshot(scopeIDOf(sp)), links)
		sv.StageID = stageIDOf(sp)
		sv.StageName = sp.StageName
		view.Stages = append(view.Stages, sv)
	}
	if detail.WorkOrder != nil || len(detail.WorkOrderUploadedDocuments) > 0 {
		wo := buildScope(ctx, stagedocs.WorkOrderScope, stagedocs.FromWorkOrder(detail), "", store.Snapshot(stagedocs.WorkOrderScope), links)
		wo.StageName = "Work Order"
		if detail.WorkOrder != nil && detail.WorkOrder.Title != "" {
			wo.StageName = detail.WorkOrder.Title
		}
		view.WorkOrder = &wo
	}
	return view
}

func buildScope(ctx context.Context, scopeID string, docs stagedocs.StageDocuments, status string, snap stagedocs.ScopeState, links previewLinker) ScopeView {
	rec := stagedocs.Reconcile(docs)
	sv := ScopeView{
		ScopeID:       scopeID,
		Status:        status,
		Locked:        stagedocs.IsLocked(status),
		Documents:     make([]DocumentRow, 0, len(docs.Required)),
		Uploaded:      docs.Uploaded,
		Additional:    rec.Additional,
		Pending:       make([]PendingView, 0, len(snap.Pending)),
		Selected:      snap.Selected,
		Complete:      rec.Complete,
		UploadedCount: len(rec.Satisfied),
		RequiredCount: len(docs.Required),
	}

	satisfied := make(map[string]stagedocs.UploadedDocument, len(rec.Satisfied))
	for _, s := range rec.Satisfied {
		satisfied[s.Requirement.Name] = s.Document
	}
	for _, req := range docs.Required {
		row := DocumentRow{Name: req.Name, Description: req.Description, Mandatory: req.Mandatory}
		doc, uploaded := satisfied[req.Name]
		if uploaded {
			d := doc
			row.Uploaded = &d
		}
		row.State = snap.Slot(req.Name, uploaded)
		row.CanEdit = stagedocs.CanEdit(row.State, status)
		if current, ok := snap.Editing[req.Name]; ok {
			c := current
			row.Editing = &c
		}
		if r, ok := snap.Replacements[req.Name]; ok {
			rv := &ReplacementView{IsExisting: r.IsExisting, Existing: r.Existing}
			if r.Local != nil {
				p := links.pending(ctx, *r.Local)
				rv.Local = &p
			}
			row.Replacement = rv
		}
		sv.Documents = append(sv.Documents, row)
	}
	for _, f := range snap.Pending {
		sv.Pending = append(sv.Pending, links.pending(ctx, f))
	}
	if sv.Uploaded == nil {
		sv.Uploaded = []stagedocs.UploadedDocument{}
	}
	return sv
}
