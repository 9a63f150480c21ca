// Package ingest turns object-created notifications into pipeline work.
package ingest

import (
	"path"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

// Event is an object-created notification.
type Event struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type Kind int

const (
	KindIgnored Kind = iota
	KindReport       // {run_id}/inputs/*.pdf
	KindGrading      // grading/*.csv or grading/*.xlsx
)

func (k Kind) String() string {
	switch k {
	case KindReport:
		return "report"
	case KindGrading:
		return "grading"
	default:
		return "ignored"
	}
}

// Classify decides what an event key triggers. For reports the run id is returned.
func Classify(key string) (Kind, string) {
	clean, ok := storage.CleanKey(key)
	if !ok {
		return KindIgnored, ""
	}
	parts := strings.Split(clean, "/")
	ext := strings.ToLower(path.Ext(clean))
	switch {
	case len(parts) == 2 && parts[0] == constants.GradingPrefix && (ext == ".csv" || ext == ".xlsx"):
		return KindGrading, ""
	case len(parts) == 3 && parts[1] == constants.InputsDir && ext == ".pdf":
		if v := common.NewValidator().Field("run_id", parts[0], common.RunID); v.HasErrors() {
			return KindIgnored, ""
		}
		return KindReport, parts[0]
	}
	return KindIgnored, ""
}

// ParseRunKey returns the run id of a report input key.
func ParseRunKey(key string) (string, bool) {
	kind, runID := Classify(key)
	return runID, kind == KindReport
}
