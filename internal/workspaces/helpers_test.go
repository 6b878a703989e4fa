package workspaces

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"portal-gateway/internal/inflight"
	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/queue"
	"portal-gateway/internal/shared/storage/object/local"
	"portal-gateway/internal/stagedocs"
	"portal-gateway/internal/submissions"
)

type fakeJobs struct {
	mu     sync.Mutex
	detail portalapi.JobDetail
	err    error
	calls  int
}

func (f *fakeJobs) GetJobDetail(ctx context.Context, jobID string) (portalapi.JobDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return portalapi.JobDetail{}, f.err
	}
	return f.detail, nil
}

func (f *fakeJobs) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeUploader struct {
	mu        sync.Mutex
	stage     []portalapi.DocumentUpload
	workOrder []portalapi.DocumentUpload
	edits     []portalapi.EditRequest
	bodies    map[string]string
	err       error
	entered   chan struct{}
	block     chan struct{}
}

func (f *fakeUploader) record(files ...portalapi.UploadFile) {
	for _, file := range files {
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if f.bodies == nil {
			f.bodies = make(map[string]string)
		}
		f.bodies[file.FileName] = string(data)
	}
}

func (f *fakeUploader) UploadStageDocuments(ctx context.Context, upload portalapi.DocumentUpload) (portalapi.Result, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stage = append(f.stage, upload)
	f.record(upload.Files...)
	if f.err != nil {
		return portalapi.Result{}, f.err
	}
	return portalapi.Result{Message: "Documents uploaded"}, nil
}

func (f *fakeUploader) UploadWorkOrderDocuments(ctx context.Context, upload portalapi.DocumentUpload) (portalapi.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workOrder = append(f.workOrder, upload)
	f.record(upload.Files...)
	if f.err != nil {
		return portalapi.Result{}, f.err
	}
	return portalapi.Result{Message: "Work order uploaded"}, nil
}

func (f *fakeUploader) EditDocument(ctx context.Context, edit portalapi.EditRequest) (portalapi.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit)
	if edit.File != nil {
		f.record(*edit.File)
	}
	if f.err != nil {
		return portalapi.Result{}, f.err
	}
	return portalapi.Result{Message: "Document updated"}, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	sent []queue.Message
}

func (q *recordingQueue) Send(ctx context.Context, msg queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sent = append(q.sent, msg)
	return nil
}

func (q *recordingQueue) messages() []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Message(nil), q.sent...)
}

// sampleDetail has one open stage, one approved stage and a work order.
func sampleDetail() portalapi.JobDetail {
	return portalapi.JobDetail{
		ID:       "job-1",
		JobTitle: "Site Engineer",
		StageProgress: []portalapi.StageProgress{
			{
				ID:          "sp-1",
				StageID:     "stage-1",
				StageName:   "Onboarding",
				StageStatus: "pending",
				RequiredDocuments: []portalapi.RequirementRef{
					{Name: "Passport"},
					{Name: "Resume"},
				},
				UploadedDocuments: []portalapi.UploadedDocument{
					{DocumentName: "Passport", FileName: "passport.pdf", FileURL: "https://files/passport.pdf"},
				},
			},
			{
				ID:                "sp-2",
				StageID:           "stage-2",
				StageName:         "Contract",
				StageStatus:       "approved",
				RequiredDocuments: []portalapi.RequirementRef{{Name: "Offer Letter"}},
				UploadedDocuments: []portalapi.UploadedDocument{
					{DocumentName: "Offer Letter", FileName: "offer.pdf", FileURL: "https://files/offer.pdf"},
				},
			},
		},
		WorkOrder: &portalapi.WorkOrder{Title: "Work Order", Documents: []portalapi.RequirementRef{{Name: "Timesheet"}}},
		Certificates: []portalapi.Certificate{
			{ID: "cert-1", FileName: "degree.pdf", FileURL: "https://files/degree.pdf"},
		},
	}
}

type fixture struct {
	svc      *Service
	jobs     *fakeJobs
	uploader *fakeUploader
	journal  *submissions.Service
	queue    *recordingQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	objects := local.New(t.TempDir())
	jobs := &fakeJobs{detail: sampleDetail()}
	uploader := &fakeUploader{}
	journal := submissions.NewService(submissions.NewMemoryRepo())
	q := &recordingQueue{}
	svc := NewService(NewRegistry(objects, time.Minute), jobs, uploader, inflight.NewMemoryGuard(), journal, q, objects, time.Minute)
	return &fixture{svc: svc, jobs: jobs, uploader: uploader, journal: journal, queue: q}
}

func pdfUpload(name string) stagedocs.LocalUpload {
	data := []byte("%PDF-1.4\n%%EOF\n")
	return stagedocs.LocalUpload{Name: name, Type: "application/pdf", Size: int64(len(data)), Data: data}
}

func bigUpload(name string) stagedocs.LocalUpload {
	return stagedocs.LocalUpload{Name: name, Type: "application/pdf", Size: stagedocs.MaxFileSize}
}

func readAllString(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf.String()
}
