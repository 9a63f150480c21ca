package review

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

type captured struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *captured) Notify(_ context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

type fixture struct {
	svc       *Service
	runs      repository.RunRepository
	suppliers repository.SupplierRepository
	store     *storage.MemoryStore
	sent      *captured
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "esg.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(nil) })
	require.NoError(t, repository.Migrate(ctx, db, nil))

	f := &fixture{
		runs:      repository.NewRunRepository(db, nil),
		suppliers: repository.NewSupplierRepository(db, nil),
		store:     storage.NewMemoryStore(),
		sent:      &captured{},
	}
	audits := repository.NewAuditRepository(db, nil)
	f.svc = NewService(f.runs, f.suppliers, audits, f.store, f.sent, "https://esg.example.com/", nil)
	f.svc.tokenCost = bcrypt.MinCost
	tokens := []string{"tok-1", "tok-2", "tok-3"}
	f.svc.newToken = func() string {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok
	}

	require.NoError(t, f.runs.StartRun(ctx, "run-1", "run-1/inputs/report.pdf"))
	_, err = f.suppliers.Save(ctx, entity.SupplierRecord{
		CompanyName: "Acme Ltd",
		AuditDate:   "2024-01-15",
		RunID:       "run-1",
		Details:     map[string]string{"Site Name": "Acme Mill"},
	})
	require.NoError(t, err)
	require.NoError(t, audits.Upsert(ctx, entity.AuditRecord{
		CompanyName:     "Acme Ltd",
		RecordKey:       "2024-01-15-Health#1",
		RunID:           "run-1",
		DateOfAudit:     "2024-01-15",
		Clause:          "3",
		Section:         "Health",
		IssueType:       string(constants.NonCompliance),
		IssueTitle:      "Fire exits blocked",
		ESGRating:       "Critical",
		ESGTimescale:    "30 days",
		ExactIssueTitle: constants.FlagYes,
		TimescalesMatch: constants.FlagYes,
	}))
	require.NoError(t, f.store.Put(ctx, storage.Keys{RunID: "run-1"}.Email(), []byte("Dear Acme")))
	return f
}

func (f *fixture) complete(t *testing.T) {
	t.Helper()
	require.NoError(t, f.runs.FinishRun(context.Background(), "run-1", constants.RunStatusCompleted, ""))
}

func TestRequestApprovalRequiresCompletedRun(t *testing.T) {
	f := newFixture(t)
	err := f.svc.RequestApproval(context.Background(), "run-1")
	require.ErrorIs(t, err, common.ErrNotReady)
	assert.Empty(t, f.sent.msgs)

	_, err = f.svc.Decide(context.Background(), "run-1", "tok-1", Approve)
	require.ErrorIs(t, err, common.ErrNotReady)
}

func TestRequestApprovalPublishesLinks(t *testing.T) {
	f := newFixture(t)
	f.complete(t)
	ctx := context.Background()

	require.NoError(t, f.svc.RequestApproval(ctx, "run-1"))
	require.Len(t, f.sent.msgs, 1)
	msg := f.sent.msgs[0]
	assert.Equal(t, KindApprovalRequest, msg.Kind)
	assert.Equal(t, "Acme Ltd", msg.CompanyName)
	assert.Contains(t, msg.Body, "https://esg.example.com/approve?run=run-1&token=tok-1")
	assert.Contains(t, msg.Body, "https://esg.example.com/reject?run=run-1&token=tok-1")
	assert.Contains(t, msg.Body, "| 1 | Fire exits blocked | Critical | 30 days |")

	sup, err := f.suppliers.GetByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.NotEqual(t, "tok-1", sup.ApprovalToken)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(sup.ApprovalToken), []byte("tok-1")))
	assert.Equal(t, constants.ApprovalPending, sup.ApprovalStatus)
}

func TestDecideApproveStoresEmail(t *testing.T) {
	f := newFixture(t)
	f.complete(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestApproval(ctx, "run-1"))

	rec, err := f.svc.Decide(ctx, "run-1", "tok-1", Approve)
	require.NoError(t, err)
	assert.Equal(t, constants.ApprovalApproved, rec.ApprovalStatus)
	assert.Equal(t, "Dear Acme", rec.EmailBody)
	assert.Empty(t, rec.ApprovalToken)

	require.Len(t, f.sent.msgs, 2)
	assert.Equal(t, KindConfirmation, f.sent.msgs[1].Kind)
	assert.Equal(t, "Dear Acme", f.sent.msgs[1].Body)

	// the link is single use
	_, err = f.svc.Decide(ctx, "run-1", "tok-1", Reject)
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestDecideRejectStoresNotice(t *testing.T) {
	f := newFixture(t)
	f.complete(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestApproval(ctx, "run-1"))

	rec, err := f.svc.Decide(ctx, "run-1", "tok-1", Reject)
	require.NoError(t, err)
	assert.Equal(t, constants.ApprovalRejected, rec.ApprovalStatus)
	assert.Contains(t, rec.EmailBody, "rejected upon human review")
	assert.Contains(t, rec.EmailBody, "Acme Ltd")
}

func TestDecideRejectsStaleToken(t *testing.T) {
	f := newFixture(t)
	f.complete(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestApproval(ctx, "run-1"))
	require.NoError(t, f.svc.RequestApproval(ctx, "run-1"))

	_, err := f.svc.Decide(ctx, "run-1", "tok-1", Approve)
	require.ErrorIs(t, err, common.ErrConflict)

	_, err = f.svc.Decide(ctx, "run-1", "tok-2", Approve)
	require.NoError(t, err)
}

func TestDecideAfterReextractionIsStale(t *testing.T) {
	f := newFixture(t)
	f.complete(t)
	ctx := context.Background()
	require.NoError(t, f.svc.RequestApproval(ctx, "run-1"))

	_, err := f.suppliers.Save(ctx, entity.SupplierRecord{
		CompanyName: "Acme Ltd",
		AuditDate:   "2024-01-15",
		RunID:       "run-1",
		Details:     map[string]string{"Site Name": "Acme Mill 2"},
	})
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, "run-1", "tok-1", Approve)
	require.ErrorIs(t, err, common.ErrConflict)
}

func TestDecideValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		run      string
		token    string
		decision string
	}{
		{"bad decision", "run-1", "tok-1", "maybe"},
		{"missing token", "run-1", "", Approve},
		{"bad run", "../x", "tok-1", Approve},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Decide(context.Background(), tt.run, tt.token, tt.decision)
			require.ErrorIs(t, err, common.ErrValidation)
		})
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 0, nil)
	require.NoError(t, n.Notify(context.Background(), Message{Kind: KindConfirmation, RunID: "run-1", Body: "hi"}))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "hi", got.Body)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	err := NewWebhookNotifier(failing.URL, 0, nil).Notify(context.Background(), Message{})
	var statusErr *common.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}
