package health

import (
	"context"
	"errors"
	"testing"
)

func TestReadyWithoutChecks(t *testing.T) {
	report := NewService().Ready(context.Background())
	if !report.OK || len(report.Checks) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestReadyReportsFailures(t *testing.T) {
	svc := NewService()
	svc.Register("database", func(ctx context.Context) error { return nil })
	svc.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	svc.Register("ignored", nil)

	report := svc.Ready(context.Background())
	if report.OK {
		t.Fatalf("expected not ready")
	}
	if report.Checks["database"] != "ok" || report.Checks["redis"] != "connection refused" {
		t.Fatalf("unexpected checks %+v", report.Checks)
	}
	if _, ok := report.Checks["ignored"]; ok {
		t.Fatalf("nil checks must not be registered")
	}
}

func TestStatus(t *testing.T) {
	if !NewService().Status()["ok"] {
		t.Fatalf("expected ok")
	}
}
