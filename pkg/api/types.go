package api

import (
	"github.com/ssargent/vitalgap/pkg/archive"
	"github.com/ssargent/vitalgap/pkg/record"
	"github.com/ssargent/vitalgap/pkg/report"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ServerConfig holds configuration for the status server
type ServerConfig struct {
	Bind   string
	Port   int
	APIKey string // empty disables authentication
}

// RunStore is the read side of the validation archive.
type RunStore interface {
	Run(id string) (archive.Run, error)
	LatestRun() (archive.Run, error)
	Runs() ([]string, error)
	Results(runID string, offset, limit int) ([]report.Line, error)
	Truth(packetID int64) ([]record.TruthRecord, error)
}

// ResultsPage is the body of /results.
type ResultsPage struct {
	RunID   string        `json:"run_id"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	Results []report.Line `json:"results"`
}

// TruthResponse is the body of /truth/{packetID}.
type TruthResponse struct {
	PacketID int64                `json:"packet_id"`
	Records  []record.TruthRecord `json:"records"`
}

// RunsResponse is the body of /runs.
type RunsResponse struct {
	Runs []string `json:"runs"`
}
