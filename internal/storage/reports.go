// Package storage persists per-session stream reports as JSON files.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saker-ai/denoise-bridge/pkg/denoise"
)

const timestampLayout = "2006-01-02_15-04-05"

var (
	// ErrNoReportsDir is returned when the reports directory is unset.
	ErrNoReportsDir = errors.New("reports dir is empty")
	// ErrInvalidReportID is returned for ids that are not plain file names.
	ErrInvalidReportID = errors.New("invalid report id")
)

var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Report summarizes one closed stream session.
type Report struct {
	ID         string                    `json:"id"`
	SessionID  string                    `json:"session_id"`
	RemoteAddr string                    `json:"remote_addr,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	EndedAt    time.Time                 `json:"ended_at"`
	Params     denoise.SuppressionParams `json:"params"`
	Stats      denoise.AdapterStats      `json:"stats"`
	CloseError string                    `json:"close_error,omitempty"`
}

// Duration of the session.
func (r Report) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// ReportInfo is a listing entry.
type ReportInfo struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	EndedAt   time.Time `json:"ended_at"`
	Frames    uint64    `json:"frames"`
	Dropped   uint64    `json:"dropped_samples"`
}

// NewReportID returns "<timestamp>_<hex uuid>" for t.
func NewReportID(t time.Time) string {
	return t.Format(timestampLayout) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WriteReport stores r under baseDir, assigning an id when it has none, and
// returns the id.
func WriteReport(baseDir string, r Report) (string, error) {
	if baseDir == "" {
		return "", ErrNoReportsDir
	}
	if r.ID == "" {
		r.ID = NewReportID(r.EndedAt)
	}
	if !safeNamePattern.MatchString(r.ID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReportID, r.ID)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, r.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return r.ID, nil
}

// ReadReport loads one report by id.
func ReadReport(baseDir string, id string) (Report, error) {
	if baseDir == "" {
		return Report{}, ErrNoReportsDir
	}
	if !safeNamePattern.MatchString(id) {
		return Report{}, fmt.Errorf("%w: %q", ErrInvalidReportID, id)
	}
	data, err := os.ReadFile(filepath.Join(baseDir, id+".json"))
	if err != nil {
		return Report{}, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", id, err)
	}
	return r, nil
}

// ListReports returns stored reports, newest first. Unreadable files are
// skipped and a missing directory yields an empty list.
func ListReports(baseDir string) []ReportInfo {
	list := []ReportInfo{}
	if baseDir == "" {
		return list
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return list
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		r, err := ReadReport(baseDir, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		list = append(list, ReportInfo{
			ID:        r.ID,
			SessionID: r.SessionID,
			EndedAt:   r.EndedAt,
			Frames:    r.Stats.Frames,
			Dropped:   r.Stats.DroppedSamples,
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].EndedAt.After(list[j].EndedAt)
	})
	return list
}

// DeleteReport removes one report. It reports whether a file was removed.
func DeleteReport(baseDir string, id string) bool {
	if baseDir == "" || !safeNamePattern.MatchString(id) {
		return false
	}
	return os.Remove(filepath.Join(baseDir, id+".json")) == nil
}
