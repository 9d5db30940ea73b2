package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

func TestWriteAndReadReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := Report{
		SessionID: "s1",
		StartedAt: started,
		EndedAt:   started.Add(90 * time.Second),
		Params:    denoise.DefaultParams(),
		Stats:     denoise.AdapterStats{Mode: "worker", Frames: 4800, DroppedSamples: 12},
	}

	id, err := WriteReport(dir, r)
	if err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	if !strings.HasPrefix(id, "2026-03-01_10-01-30_") {
		t.Fatalf("id=%q, want timestamp prefix", id)
	}

	got, err := ReadReport(dir, id)
	if err != nil {
		t.Fatalf("ReadReport error: %v", err)
	}
	if got.ID != id || got.Stats.Frames != 4800 || got.Params != r.Params {
		t.Fatalf("report=%+v", got)
	}
	if got.Duration() != 90*time.Second {
		t.Fatalf("Duration=%v, want 90s", got.Duration())
	}
	if _, err := os.Stat(filepath.Join(dir, id+".json.tmp")); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestListReportsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, session := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		_, err := WriteReport(dir, Report{SessionID: session, EndedAt: base.Add(offsets[i])})
		if err != nil {
			t.Fatalf("WriteReport error: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644); err != nil {
		t.Fatalf("write broken: %v", err)
	}

	list := ListReports(dir)
	if len(list) != 3 {
		t.Fatalf("len=%d, want 3", len(list))
	}
	if list[0].SessionID != "new" || list[1].SessionID != "mid" || list[2].SessionID != "old" {
		t.Fatalf("order=%v %v %v", list[0].SessionID, list[1].SessionID, list[2].SessionID)
	}
}

func TestReportIDValidation(t *testing.T) {
	if _, err := WriteReport("", Report{}); !errors.Is(err, ErrNoReportsDir) {
		t.Fatalf("err=%v, want ErrNoReportsDir", err)
	}
	if _, err := WriteReport(t.TempDir(), Report{ID: "../x"}); !errors.Is(err, ErrInvalidReportID) {
		t.Fatalf("err=%v, want ErrInvalidReportID", err)
	}
	if _, err := ReadReport(t.TempDir(), "a/b"); !errors.Is(err, ErrInvalidReportID) {
		t.Fatalf("err=%v, want ErrInvalidReportID", err)
	}
	if len(ListReports(filepath.Join(t.TempDir(), "missing"))) != 0 {
		t.Fatal("missing dir should list nothing")
	}
}

func TestDeleteReport(t *testing.T) {
	dir := t.TempDir()
	id, err := WriteReport(dir, Report{SessionID: "s", EndedAt: time.Now()})
	if err != nil {
		t.Fatalf("WriteReport error: %v", err)
	}
	if !DeleteReport(dir, id) {
		t.Fatal("DeleteReport=false, want true")
	}
	if DeleteReport(dir, id) {
		t.Fatal("second DeleteReport=true, want false")
	}
}
