// Package reconcile grades extracted non-compliance issues against the grading reference table.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

// DefaultThreshold is the partial-ratio score an exact-tier candidate must exceed.
const DefaultThreshold = 80

// GradingLookup finds reference rows whose issue title contains a substring.
type GradingLookup interface {
	FindByTitle(ctx context.Context, substr string) ([]entity.GradingReference, error)
}

// Match is an accepted reference row with its score.
type Match struct {
	Reference entity.GradingReference
	Score     int
}

// ExactMatcher is the database tier: substring candidates ranked by partial ratio.
type ExactMatcher struct {
	lookup    GradingLookup
	threshold int
	log       *slog.Logger
}

func NewExactMatcher(lookup GradingLookup, threshold int, logger *slog.Logger) *ExactMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExactMatcher{lookup: lookup, threshold: threshold, log: logger}
}

// Match returns the best candidate for title, or nil when nothing scores above the threshold.
func (m *ExactMatcher) Match(ctx context.Context, title string) (*Match, error) {
	q := strings.TrimSpace(title)
	if q == "" {
		return nil, nil
	}
	candidates, err := m.lookup.FindByTitle(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("grading lookup: %w", err)
	}

	var best *Match
	lower := strings.ToLower(q)
	for _, c := range candidates {
		score := PartialRatio(lower, strings.ToLower(c.Title()))
		if best == nil || score > best.Score {
			best = &Match{Reference: c, Score: score}
		}
	}
	if best == nil || best.Score <= m.threshold {
		m.log.Debug("reconcile.exact.miss", "title", q, "candidates", len(candidates))
		return nil, nil
	}
	m.log.Debug("reconcile.exact.hit", "title", q, "ref_key", best.Reference.RefKey, "score", best.Score)
	return best, nil
}

// Apply copies the reference grading onto rec. The remediation window is compared with
// the report timescale after trimming; a reference without a window yields N/A for both
// the ESG timescale and the match flag. A missing rating is written as N/A.
func Apply(rec entity.AuditRecord, ref entity.GradingReference, exact bool) entity.AuditRecord {
	if rating, ok := ref.Rating(); ok {
		rec.ESGRating = rating
	} else {
		rec.ESGRating = constants.NotApplicable
	}
	rec.ExactIssueTitle = constants.FlagNo
	if exact {
		rec.ExactIssueTitle = constants.FlagYes
	}
	if ref.ResolutionWindow == nil || strings.TrimSpace(*ref.ResolutionWindow) == "" {
		rec.ESGTimescale = constants.NotApplicable
		rec.TimescalesMatch = constants.NotApplicable
		return rec
	}
	rec.ESGTimescale = *ref.ResolutionWindow
	if strings.TrimSpace(*ref.ResolutionWindow) == strings.TrimSpace(rec.ReportTimescale) {
		rec.TimescalesMatch = constants.FlagYes
	} else {
		rec.TimescalesMatch = constants.FlagNo
	}
	return rec
}
