package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/esg-compliance/internal/async"
	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/grading"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		key   string
		kind  Kind
		runID string
	}{
		{"run-1/inputs/report.pdf", KindReport, "run-1"},
		{"/run-1/inputs/Report.PDF", KindReport, "run-1"},
		{"run-1/inputs/report.docx", KindIgnored, ""},
		{"run-1/processing/Health_nc.pdf", KindIgnored, ""},
		{"run-1/inputs/nested/report.pdf", KindIgnored, ""},
		{"_bad/inputs/report.pdf", KindIgnored, ""},
		{"grading/esg.csv", KindGrading, ""},
		{"grading/esg.XLSX", KindGrading, ""},
		{"grading/esg.json", KindIgnored, ""},
		{"../grading/esg.csv", KindIgnored, ""},
		{"", KindIgnored, ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			kind, runID := Classify(tt.key)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.runID, runID)
		})
	}
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []async.Job
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job async.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) runIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []string
	for _, j := range q.jobs {
		ids = append(ids, j.RunID)
	}
	return ids
}

type fakeGrading struct {
	keys []string
	err  error
}

func (g *fakeGrading) LoadKey(_ context.Context, _ storage.Store, key string) (grading.Summary, error) {
	g.keys = append(g.keys, key)
	return grading.Summary{Source: key, Rows: 2}, g.err
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{}
	g := &fakeGrading{}
	d := NewDispatcher(q, g, storage.NewMemoryStore(), nil)

	kind, err := d.Dispatch(ctx, Event{Key: "run-1/inputs/report.pdf"}, true)
	require.NoError(t, err)
	assert.Equal(t, KindReport, kind)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, async.Job{RunID: "run-1", Key: "run-1/inputs/report.pdf", Force: true}, q.jobs[0])

	kind, err = d.Dispatch(ctx, Event{Key: "grading/esg.csv"}, false)
	require.NoError(t, err)
	assert.Equal(t, KindGrading, kind)
	assert.Equal(t, []string{"grading/esg.csv"}, g.keys)

	kind, err = d.Dispatch(ctx, Event{Key: "run-1/email/email.txt"}, false)
	require.NoError(t, err)
	assert.Equal(t, KindIgnored, kind)
	assert.Len(t, q.jobs, 1)
}

func TestDispatchErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	d := NewDispatcher(&fakeQueue{err: async.ErrClosed}, &fakeGrading{err: boom}, storage.NewMemoryStore(), nil)
	_, err := d.Dispatch(ctx, Event{Key: "run-1/inputs/report.pdf"}, false)
	require.ErrorIs(t, err, async.ErrClosed)
	_, err = d.Dispatch(ctx, Event{Key: "grading/esg.csv"}, false)
	require.ErrorIs(t, err, boom)

	d = NewDispatcher(&fakeQueue{}, nil, storage.NewMemoryStore(), nil)
	_, err = d.Dispatch(ctx, Event{Key: "grading/esg.csv"}, false)
	require.ErrorIs(t, err, common.ErrNotReady)
}

func TestRescan(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, k := range []string{
		"run-1/inputs/a.pdf",
		"run-2/inputs/b.pdf",
		"run-2/status/status.txt",
		"run-3/processing/x_nc.pdf",
		"grading/esg.csv",
	} {
		body := []byte("x")
		if k == "run-2/status/status.txt" {
			body = []byte("completed\n")
		}
		require.NoError(t, store.Put(ctx, k, body))
	}
	q := &fakeQueue{}
	g := &fakeGrading{}
	d := NewDispatcher(q, g, store, nil)

	_, stats, err := d.Rescan(ctx, "", false)
	require.NoError(t, err)
	assert.Equal(t, RescanStats{Scanned: 5, Matched: 3, Dispatched: 2, Completed: 1}, stats)
	assert.Equal(t, []string{"run-1"}, q.runIDs())
	assert.Equal(t, []string{"grading/esg.csv"}, g.keys)

	q2 := &fakeQueue{}
	d = NewDispatcher(q2, g, store, nil)
	res, stats, err := d.Rescan(ctx, "run-2/", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.Dispatched)
	assert.Equal(t, []string{"run-2"}, q2.runIDs())
	require.Len(t, res, 1)
	assert.Equal(t, KindReport, res[0].Kind)
}

func TestWatcherEmitsStorageKeys(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewFSStore(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "grading/esg.csv", []byte("a,b\n")))

	events, _, err := StartWatcher(ctx, WatchConfig{
		Root:     store.Root(),
		Bucket:   "local",
		Keys:     store.Key,
		Debounce: 20 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	next := func() Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("no event")
			return Event{}
		}
	}

	require.NoError(t, store.Put(ctx, "grading/more.csv", []byte("a,b\n")))
	assert.Equal(t, Event{Bucket: "local", Key: "grading/more.csv"}, next())

	require.NoError(t, store.Put(ctx, "run-9/processing/Health_nc_data.txt", []byte("x")))
	require.NoError(t, store.Put(ctx, "run-9/inputs/report.pdf", []byte("%PDF")))
	assert.Equal(t, Event{Bucket: "local", Key: "run-9/inputs/report.pdf"}, next())

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherRequiresRoot(t *testing.T) {
	_, _, err := StartWatcher(context.Background(), WatchConfig{}, nil)
	require.Error(t, err)
}
