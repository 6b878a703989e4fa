package workspaces

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"portal-gateway/internal/inflight"
	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/queue"
	"portal-gateway/internal/stagedocs"
	"portal-gateway/internal/submissions"
)

func TestViewMergesPendingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.AddLocalFile(ctx, "u1", "job-1", "sp-1", "Resume", pdfUpload("cv.pdf")); err != nil {
		t.Fatalf("add: %v", err)
	}

	view, err := f.svc.View(ctx, "u1", "job-1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if len(view.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(view.Stages))
	}
	stage := view.Stages[0]
	if stage.ScopeID != "sp-1" || stage.StageID != "stage-1" {
		t.Fatalf("unexpected scope ids %q %q", stage.ScopeID, stage.StageID)
	}
	if stage.Complete || stage.UploadedCount != 1 || stage.RequiredCount != 2 {
		t.Fatalf("unexpected progress %+v", stage)
	}
	if stage.Documents[0].State != stagedocs.SlotUploaded || !stage.Documents[0].CanEdit {
		t.Fatalf("passport should be uploaded and editable, got %+v", stage.Documents[0])
	}
	if stage.Documents[1].State != stagedocs.SlotPendingLocal {
		t.Fatalf("resume should be pending, got %s", stage.Documents[1].State)
	}
	if len(stage.Pending) != 1 || !strings.HasPrefix(stage.Pending[0].PreviewURL, "/api/v1/previews/") {
		t.Fatalf("unexpected pending view %+v", stage.Pending)
	}

	approved := view.Stages[1]
	if !approved.Locked || approved.Documents[0].CanEdit {
		t.Fatalf("approved stage must be locked")
	}
	if view.WorkOrder == nil || view.WorkOrder.ScopeID != stagedocs.WorkOrderScope {
		t.Fatalf("expected work order scope, got %+v", view.WorkOrder)
	}
}

func TestViewPropagatesUpstreamError(t *testing.T) {
	f := newFixture(t)
	f.jobs.err = &portalapi.APIError{Operation: "get_job", Status: http.StatusNotFound, Message: "Job not found"}
	if _, err := f.svc.View(context.Background(), "u1", "job-1"); portalapi.StatusOf(err) != http.StatusNotFound {
		t.Fatalf("expected upstream 404, got %v", err)
	}
}

func TestAddLocalFileSniffsContentType(t *testing.T) {
	f := newFixture(t)
	upload := pdfUpload("scan.bin")
	upload.Type = ""
	entry, err := f.svc.AddLocalFile(context.Background(), "u1", "job-1", "sp-1", "Resume", upload)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if entry.Type != "application/pdf" {
		t.Fatalf("expected sniffed pdf type, got %q", entry.Type)
	}
}

func TestAddLocalFileRejectsLargeFile(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddLocalFile(context.Background(), "u1", "job-1", "sp-1", "Resume", bigUpload("huge.pdf"))
	if !errors.Is(err, stagedocs.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestSelectExistingFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	got, err := f.svc.SelectExistingFile(ctx, "u1", "job-1", "sp-1", "cert-1", "Resume")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.FileURL != "https://files/degree.pdf" || got.DocumentName != "Resume" {
		t.Fatalf("unexpected selection %+v", got)
	}
	if _, err := f.svc.SelectExistingFile(ctx, "u1", "job-1", "sp-1", "missing", "Resume"); !errors.Is(err, stagedocs.ErrCertificateNotFound) {
		t.Fatalf("expected ErrCertificateNotFound, got %v", err)
	}
}

func TestBeginEditChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		scope string
		doc   string
		want  error
	}{
		{"unknown scope", "sp-9", "Passport", ErrScopeNotFound},
		{"approved stage", "sp-2", "Offer Letter", stagedocs.ErrDocumentLocked},
		{"not uploaded", "sp-1", "Resume", ErrDocumentNotFound},
		{"uploaded", "sp-1", "Passport", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.BeginEdit(ctx, "u1", "job-1", tc.scope, tc.doc)
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmitSuccessJournalsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.AddLocalFile(ctx, "u1", "job-1", "sp-1", "Resume", pdfUpload("cv.pdf")); err != nil {
		t.Fatalf("add: %v", err)
	}
	callsBefore := f.jobs.callCount()

	out, err := f.svc.Submit(ctx, "u1", "job-1", "sp-1", "req-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Message != "Documents uploaded" || out.FileCount != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(f.uploader.stage) != 1 || f.uploader.stage[0].StageID != "stage-1" || f.uploader.stage[0].CustomFieldID != "job-1" {
		t.Fatalf("unexpected upload %+v", f.uploader.stage)
	}
	if f.uploader.bodies["cv.pdf"] == "" {
		t.Fatalf("file bytes were not sent")
	}

	entries, err := f.journal.List(ctx, "u1", "job-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != submissions.OutcomeSuccess || entries[0].RequestID != "req-1" {
		t.Fatalf("unexpected journal %+v", entries)
	}
	msgs := f.queue.messages()
	if len(msgs) != 1 || msgs[0].Type != queue.TypeDocumentsSubmitted || msgs[0].ScopeID != "sp-1" {
		t.Fatalf("unexpected queue messages %+v", msgs)
	}
	if f.jobs.callCount() <= callsBefore {
		t.Fatalf("expected job detail to be refetched after submit")
	}
	ws, _ := f.svc.Registry.Lookup("u1", "job-1")
	if ws.Store.Snapshot("sp-1").HasPending() {
		t.Fatalf("submitted entries should be cleared")
	}
}

func TestSubmitFailureKeepsPendingState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.AddLocalFile(ctx, "u1", "job-1", "sp-1", "Resume", pdfUpload("cv.pdf")); err != nil {
		t.Fatalf("add: %v", err)
	}
	f.uploader.err = &portalapi.APIError{Operation: "upload_stage_documents", Status: http.StatusUnprocessableEntity, Message: "Unsupported file"}

	out, err := f.svc.Submit(ctx, "u1", "job-1", "sp-1", "req-2")
	if err == nil {
		t.Fatalf("expected error")
	}
	if out.Message != "Unsupported file" {
		t.Fatalf("expected backend message, got %q", out.Message)
	}
	ws, _ := f.svc.Registry.Lookup("u1", "job-1")
	if len(ws.Store.Snapshot("sp-1").Pending) != 1 {
		t.Fatalf("pending file must survive a failed submit")
	}
	entries, _ := f.journal.List(ctx, "u1", "job-1", 10)
	if len(entries) != 1 || entries[0].Outcome != submissions.OutcomeFailure {
		t.Fatalf("expected a failure entry, got %+v", entries)
	}
	if len(f.queue.messages()) != 0 {
		t.Fatalf("failures must not publish events")
	}
}

func TestSubmitNothingIsNotJournaled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Submit(ctx, "u1", "job-1", "sp-1", ""); !errors.Is(err, stagedocs.ErrNothingToSubmit) {
		t.Fatalf("expected ErrNothingToSubmit, got %v", err)
	}
	entries, _ := f.journal.List(ctx, "u1", "job-1", 10)
	if len(entries) != 0 || len(f.uploader.stage) != 0 {
		t.Fatalf("local rejection must not reach backend or journal")
	}
}

func TestSubmitUnknownScope(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Submit(context.Background(), "u1", "job-1", "sp-9", ""); !errors.Is(err, ErrScopeNotFound) {
		t.Fatalf("expected ErrScopeNotFound, got %v", err)
	}
}

func TestSubmitWorkOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.AddLocalFile(ctx, "u1", "job-1", stagedocs.WorkOrderScope, "Timesheet", pdfUpload("ts.pdf")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := f.svc.Submit(ctx, "u1", "job-1", stagedocs.WorkOrderScope, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(f.uploader.workOrder) != 1 || f.uploader.workOrder[0].StageID != "" {
		t.Fatalf("unexpected work order upload %+v", f.uploader.workOrder)
	}
}

func TestConcurrentSubmitIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.AddLocalFile(ctx, "u1", "job-1", "sp-1", "Resume", pdfUpload("cv.pdf")); err != nil {
		t.Fatalf("add: %v", err)
	}
	entered := make(chan struct{})
	block := make(chan struct{})
	f.uploader.entered = entered
	f.uploader.block = block

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.svc.Submit(ctx, "u1", "job-1", "sp-1", "")
	}()
	<-entered

	_, busy := f.svc.Submit(ctx, "u1", "job-1", "sp-1", "")
	clearErr := f.svc.ClearScope(ctx, "u1", "job-1", "sp-1")
	close(block)
	wg.Wait()
	if !errors.Is(busy, inflight.ErrBusy) {
		t.Fatalf("expected ErrBusy while a submit is in flight, got %v", busy)
	}
	if !errors.Is(clearErr, inflight.ErrBusy) {
		t.Fatalf("clear must wait for the in-flight submit, got %v", clearErr)
	}
	if err := f.svc.ClearScope(ctx, "u1", "job-1", "sp-1"); err != nil {
		t.Fatalf("clear after submit: %v", err)
	}
}

func TestSaveEditWithCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.BeginEdit(ctx, "u1", "job-1", "sp-1", "Passport"); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	mode, err := f.svc.ProposeReplacement(ctx, "u1", "job-1", "sp-1", "Passport", ReplacementInput{CertificateID: "cert-1"}, true)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if mode != stagedocs.StagedReplace {
		t.Fatalf("expected staged replace, got %s", mode)
	}

	out, err := f.svc.SaveEdit(ctx, "u1", "job-1", "sp-1", "Passport", "req-3")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if out.Kind != stagedocs.KindEdit || out.ExistingCount != 1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(f.uploader.edits) != 1 {
		t.Fatalf("expected one edit call")
	}
	edit := f.uploader.edits[0]
	if edit.StageID != "stage-1" || edit.ExistingFile == nil || edit.ExistingFile.ID != "cert-1" {
		t.Fatalf("unexpected edit request %+v", edit)
	}
	ws, _ := f.svc.Registry.Lookup("u1", "job-1")
	snap := ws.Store.Snapshot("sp-1")
	if len(snap.Editing) != 0 || len(snap.Replacements) != 0 {
		t.Fatalf("edit state should be cleared after save")
	}
}

func TestSaveEditWithoutReplacement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.BeginEdit(ctx, "u1", "job-1", "sp-1", "Passport"); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	if _, err := f.svc.SaveEdit(ctx, "u1", "job-1", "sp-1", "Passport", ""); !errors.Is(err, stagedocs.ErrNoReplacementSelected) {
		t.Fatalf("expected ErrNoReplacementSelected, got %v", err)
	}
}

func TestOpenPreviewIsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entry, err := f.svc.AddLocalFile(ctx, "u1", "job-1", "sp-1", "Resume", pdfUpload("cv.pdf"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	rc, err := f.svc.OpenPreview(ctx, "u1", entry.PreviewKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if body := readAllString(t, rc); !strings.HasPrefix(body, "%PDF") {
		t.Fatalf("unexpected preview body %q", body)
	}
	if _, err := f.svc.OpenPreview(ctx, "u2", entry.PreviewKey); !errors.Is(err, stagedocs.ErrEntryNotFound) {
		t.Fatalf("other users must not read previews, got %v", err)
	}
}
