package dto

import (
	"time"

	"github.com/Additional-Code/orderpipe/internal/report"
)

// Run statuses.
const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunSummary describes one cleaning run as published and cached.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Status     string        `json:"status"`
	Strategy   string        `json:"strategy"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Stats      report.Stats  `json:"stats"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// CompareResponse reports whether two outputs are equivalent. LeftStats and
// RightStats are set when both sides were produced by a strategy run.
type CompareResponse struct {
	Left       string        `json:"left"`
	Right      string        `json:"right"`
	Equal      bool          `json:"equal"`
	LeftRows   int           `json:"left_rows"`
	RightRows  int           `json:"right_rows"`
	Mismatches []Mismatch    `json:"mismatches,omitempty"`
	LeftStats  *report.Stats `json:"left_stats,omitempty"`
	RightStats *report.Stats `json:"right_stats,omitempty"`
}

// Mismatch is one differing cell; row 0 is the header.
type Mismatch struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Left   string `json:"left"`
	Right  string `json:"right"`
}
