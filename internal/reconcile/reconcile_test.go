package reconcile

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

func strp(s string) *string { return &s }

func ref(key, title, grading string, window *string) entity.GradingReference {
	r := entity.GradingReference{RefKey: key, ResolutionWindow: window}
	if title != "" {
		r.IssueTitle = strp(title)
	}
	if grading != "" {
		r.UpdatedGrading = strp(grading)
	}
	return r
}

type staticLookup struct {
	rows  []entity.GradingReference
	err   error
	calls []string
}

func (l *staticLookup) FindByTitle(_ context.Context, substr string) ([]entity.GradingReference, error) {
	l.calls = append(l.calls, substr)
	return l.rows, l.err
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 100},
		{"abc", "", 0},
		{"abcdefghij", "abcdefghij", 100},
		{"abcdefghij", "abcdefghxy", 80},
		{"abcdefghijklmnopqrstu", "abcdefghijklmnopqwxyz", 81},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Ratio(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestPartialRatio(t *testing.T) {
	assert.Equal(t, 100, PartialRatio("fire exit", "blocked fire exit door"))
	assert.Equal(t, 100, PartialRatio("blocked fire exit door", "fire exit"))
	assert.Equal(t, 0, PartialRatio("", "anything"))
	assert.Equal(t, 80, PartialRatio("abcdefghij", "abcdefghxy"))
}

func TestExactMatcher_Threshold(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name      string
		query     string
		candidate string
		wantHit   bool
	}{
		{"score 80 rejected", "abcdefghij", "abcdefghxy", false},
		{"score 81 accepted", "abcdefghijklmnopqrstu", "abcdefghijklmnopqwxyz", true},
		{"substring accepted", "Fire Exit", "Blocked fire exit door", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &staticLookup{rows: []entity.GradingReference{ref("1", tt.candidate, "Major", strp("30 days"))}}
			m := NewExactMatcher(lookup, DefaultThreshold, nil)
			got, err := m.Match(ctx, tt.query)
			require.NoError(t, err)
			if !tt.wantHit {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, "1", got.Reference.RefKey)
			assert.Greater(t, got.Score, DefaultThreshold)
		})
	}
}

func TestExactMatcher_BestCandidateAndTrim(t *testing.T) {
	lookup := &staticLookup{rows: []entity.GradingReference{
		ref("weak", "abcdefghijklmnopqwxyz", "Minor", nil),
		ref("strong", "xx abcdefghijklmnopqrstu xx", "Critical", nil),
	}}
	m := NewExactMatcher(lookup, DefaultThreshold, nil)

	got, err := m.Match(context.Background(), "  abcdefghijklmnopqrstu ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "strong", got.Reference.RefKey)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, []string{"abcdefghijklmnopqrstu"}, lookup.calls)
}

func TestExactMatcher_EmptyAndErrors(t *testing.T) {
	lookup := &staticLookup{}
	m := NewExactMatcher(lookup, DefaultThreshold, nil)

	got, err := m.Match(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, lookup.calls)

	got, err = m.Match(context.Background(), "no rows")
	require.NoError(t, err)
	assert.Nil(t, got)

	lookup.err = common.ErrDatabase
	_, err = m.Match(context.Background(), "boom")
	assert.ErrorIs(t, err, common.ErrDatabase)
}

func TestApply(t *testing.T) {
	base := entity.AuditRecord{ReportTimescale: "30 days"}

	rec := Apply(base, ref("1", "t", "Major", strp(" 30 days ")), true)
	assert.Equal(t, "Major", rec.ESGRating)
	assert.Equal(t, " 30 days ", rec.ESGTimescale)
	assert.Equal(t, constants.FlagYes, rec.ExactIssueTitle)
	assert.Equal(t, constants.FlagYes, rec.TimescalesMatch)

	rec = Apply(base, ref("1", "t", "Major", strp("90 days")), false)
	assert.Equal(t, constants.FlagNo, rec.ExactIssueTitle)
	assert.Equal(t, constants.FlagNo, rec.TimescalesMatch)

	rec = Apply(base, ref("1", "t", "Major", nil), true)
	assert.Equal(t, constants.NotApplicable, rec.ESGTimescale)
	assert.Equal(t, constants.NotApplicable, rec.TimescalesMatch)

	rec = Apply(base, ref("1", "t", "", strp("")), false)
	assert.Equal(t, constants.NotApplicable, rec.ESGRating)
	assert.Equal(t, constants.NotApplicable, rec.TimescalesMatch)
}

// vectorEmbedder maps texts to fixed vectors by substring and counts inputs.
type vectorEmbedder struct {
	mu     sync.Mutex
	vecs   map[string][]float32
	inputs [][]string
	err    error
}

func (e *vectorEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inputs = append(e.inputs, append([]string(nil), texts...))
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{0, 0, 1}
		for k, v := range e.vecs {
			if strings.Contains(t, k) {
				out[i] = v
				break
			}
		}
	}
	return out, nil
}

func fallbackFixture() (*vectorEmbedder, []entity.GradingReference, []entity.UnratedIssue) {
	emb := &vectorEmbedder{vecs: map[string][]float32{
		"Fire safety":       {1, 0, 0},
		"Wages":             {0, 1, 0},
		"emergency lights":  {0.9, 0.1, 0},
		"overtime premiums": {0.1, 0.9, 0},
	}}
	refs := []entity.GradingReference{
		ref("no-title", "", "Critical", nil),
		ref("fire", "Fire safety", "Major", strp("30 days")),
		ref("wages", "Wages", "", strp("60 days")),
	}
	unrated := []entity.UnratedIssue{
		{RecordKey: "2024-01-15-Health#1", Issue: entity.Issue{
			Category: constants.NonCompliance, Title: "No emergency lights", ReportTimescale: "30 days",
			CompanyName: "Acme", AuditDate: "2024-01-15", Section: "Health", Clause: "3",
		}},
		{RecordKey: "2024-01-15-Health#2", Issue: entity.Issue{
			Category: constants.NonCompliance, Title: "Unpaid overtime premiums", ReportTimescale: "90 days",
			CompanyName: "Acme", AuditDate: "2024-01-15", Section: "Health", Clause: "3",
		}},
	}
	return emb, refs, unrated
}

func TestReconciler_NearestReference(t *testing.T) {
	emb, refs, unrated := fallbackFixture()
	r := NewReconciler(emb, nil, "", nil)
	ctx := common.WithRunID(context.Background(), "run-1")

	got, err := r.Reconcile(ctx, unrated, refs)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "run-1", got[0].RunID)
	assert.Equal(t, "2024-01-15-Health#1", got[0].RecordKey)
	assert.Equal(t, "Major", got[0].ESGRating)
	assert.Equal(t, "30 days", got[0].ESGTimescale)
	assert.Equal(t, constants.FlagNo, got[0].ExactIssueTitle)
	assert.Equal(t, constants.FlagYes, got[0].TimescalesMatch)

	assert.Equal(t, constants.NotApplicable, got[1].ESGRating)
	assert.Equal(t, "60 days", got[1].ESGTimescale)
	assert.Equal(t, constants.FlagNo, got[1].TimescalesMatch)

	require.Len(t, emb.inputs, 2)
	assert.Equal(t, []string{"Fire safety", "Wages"}, emb.inputs[0])
	assert.Equal(t, "Which issue title is the closest match to this: No emergency lights", emb.inputs[1][0])
}

func TestReconciler_Idempotent(t *testing.T) {
	emb, refs, unrated := fallbackFixture()
	r := NewReconciler(emb, NewMemoryCache("m", time.Hour), "", nil)
	ctx := context.Background()

	first, err := r.Reconcile(ctx, unrated, refs)
	require.NoError(t, err)
	second, err := r.Reconcile(ctx, unrated, refs)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// reference titles were embedded once; the second pass only embedded the queries
	require.Len(t, emb.inputs, 3)
	assert.Len(t, emb.inputs[2], len(unrated))
}

func TestReconciler_TieKeepsFirst(t *testing.T) {
	emb := &vectorEmbedder{vecs: map[string][]float32{}}
	refs := []entity.GradingReference{
		ref("a", "First", "Minor", nil),
		ref("b", "Second", "Major", nil),
	}
	unrated := []entity.UnratedIssue{{RecordKey: "k", Issue: entity.Issue{Title: "anything"}}}

	got, err := NewReconciler(emb, nil, "", nil).Reconcile(context.Background(), unrated, refs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Minor", got[0].ESGRating)
}

func TestReconciler_Errors(t *testing.T) {
	emb, refs, unrated := fallbackFixture()
	r := NewReconciler(emb, nil, "", nil)

	got, err := r.Reconcile(context.Background(), nil, refs)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, emb.inputs)

	_, err = r.Reconcile(context.Background(), unrated, []entity.GradingReference{ref("x", "", "Major", nil)})
	require.Error(t, err)

	emb.err = common.ErrThroughputExceeded
	_, err = r.Reconcile(context.Background(), unrated, refs)
	assert.True(t, errors.Is(err, common.ErrThroughputExceeded))
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache("m", time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetMany(ctx, []string{"a"}, [][]float32{{1, 2}}))
	got, err := c.GetMany(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, nil}, got)

	now = now.Add(2 * time.Minute)
	got, err = c.GetMany(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Nil(t, got[0])

	assert.Error(t, c.SetMany(ctx, []string{"a"}, nil))
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := decodeVector(encodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	k := CacheKey("text-embedding-3-small", "Fire safety")
	assert.True(t, strings.HasPrefix(k, "esg:emb:text-embedding-3-small:"))
	assert.NotEqual(t, k, CacheKey("other", "Fire safety"))
}

func TestRedisCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(ctx, RedisOptions{Addr: addr, TTL: time.Minute, Model: "test-" + t.Name()}, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SetMany(ctx, []string{"x"}, [][]float32{{1, 0.5}}))
	got, err := c.GetMany(ctx, []string{"x", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5}, got[0])
	assert.Nil(t, got[1])
}

func TestReconciler_QueryTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"custom", "closest match to: %s", "closest match to: No emergency lights"},
		{"two verbs falls back", "%s vs %s", "Which issue title is the closest match to this: No emergency lights"},
		{"no verb falls back", "closest match", "Which issue title is the closest match to this: No emergency lights"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, refs, unrated := fallbackFixture()
			_, err := NewReconciler(emb, nil, tt.template, nil).Reconcile(context.Background(), unrated, refs)
			require.NoError(t, err)
			require.Len(t, emb.inputs, 2)
			assert.Equal(t, tt.want, emb.inputs[1][0])
		})
	}
}
