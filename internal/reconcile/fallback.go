package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/llm"
)

// DefaultQueryTemplate wraps a deferred issue title before it is embedded.
const DefaultQueryTemplate = common.DefaultQueryTemplate

// Reconciler is the embedding tier for issues the exact tier could not rate.
type Reconciler struct {
	embedder llm.Embedder
	cache    EmbeddingCache
	template string
	log      *slog.Logger
}

// NewReconciler builds the fallback tier. cache may be nil; an empty or malformed
// template uses DefaultQueryTemplate.
func NewReconciler(embedder llm.Embedder, cache EmbeddingCache, template string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if template == "" {
		template = DefaultQueryTemplate
	} else if !common.ValidQueryTemplate(template) {
		logger.Warn("reconcile.template.invalid", "template", template)
		template = DefaultQueryTemplate
	}
	return &Reconciler{embedder: embedder, cache: cache, template: template, log: logger}
}

// Reconcile rates every unrated issue with its nearest reference title by cosine similarity.
// Records carry the run id found on ctx.
// The best reference is taken unconditionally; the first one wins a tie. References without
// a title are not candidates.
func (r *Reconciler) Reconcile(ctx context.Context, unrated []entity.UnratedIssue, refs []entity.GradingReference) ([]entity.AuditRecord, error) {
	if len(unrated) == 0 {
		return nil, nil
	}
	runID := common.RunIDFromContext(ctx)
	candidates := make([]entity.GradingReference, 0, len(refs))
	titles := make([]string, 0, len(refs))
	for _, ref := range refs {
		if t := strings.TrimSpace(ref.Title()); t != "" {
			candidates = append(candidates, ref)
			titles = append(titles, t)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("reconcile %d unrated issues: grading reference table has no titles", len(unrated))
	}

	refVecs, err := r.embedCached(ctx, titles)
	if err != nil {
		return nil, fmt.Errorf("embed reference titles: %w", err)
	}
	queries := make([]string, len(unrated))
	for i, u := range unrated {
		queries[i] = fmt.Sprintf(r.template, u.Issue.Title)
	}
	queryVecs, err := r.embedder.Embed(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed unrated issues: %w", err)
	}
	if len(queryVecs) != len(queries) {
		return nil, fmt.Errorf("embed unrated issues: got %d vectors for %d inputs", len(queryVecs), len(queries))
	}

	out := make([]entity.AuditRecord, 0, len(unrated))
	for i, u := range unrated {
		best, score := nearest(queryVecs[i], refVecs)
		ref := candidates[best]
		rec := Apply(entity.NewAuditRecord(runID, u.RecordKey, u.Issue), ref, false)
		r.log.Debug("reconcile.fallback.match",
			"run_id", runID,
			"record_key", u.RecordKey,
			"ref_key", ref.RefKey,
			"similarity", score,
		)
		out = append(out, rec)
	}
	r.log.Info("reconcile.fallback.ok", "run_id", runID, "issues", len(out), "references", len(candidates))
	return out, nil
}

func (r *Reconciler) embedCached(ctx context.Context, texts []string) ([][]float32, error) {
	if r.cache == nil {
		return r.embedAll(ctx, texts)
	}
	vecs, err := r.cache.GetMany(ctx, texts)
	if err != nil {
		r.log.Warn("reconcile.cache.get_failed", "error", err)
		return r.embedAll(ctx, texts)
	}
	var missIdx []int
	var missing []string
	for i, v := range vecs {
		if v == nil {
			missIdx = append(missIdx, i)
			missing = append(missing, texts[i])
		}
	}
	if len(missing) == 0 {
		return vecs, nil
	}
	fresh, err := r.embedAll(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vecs[i] = fresh[j]
	}
	if err := r.cache.SetMany(ctx, missing, fresh); err != nil {
		r.log.Warn("reconcile.cache.set_failed", "error", err)
	}
	r.log.Debug("reconcile.cache.filled", "hits", len(texts)-len(missing), "misses", len(missing))
	return vecs, nil
}

func (r *Reconciler) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

// nearest returns the index of the most similar vector. Ties keep the lowest index.
func nearest(q []float32, vecs [][]float32) (int, float64) {
	best, bestScore := 0, math.Inf(-1)
	for i, v := range vecs {
		if s := cosine(q, v); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
