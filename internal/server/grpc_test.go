package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/entity"
)

type grpcCalls struct {
	mu    sync.Mutex
	calls map[string]int
}

func (g *grpcCalls) RecordGrpcRequest(method, code string, _ time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[method+" "+code]++
}

func (g *grpcCalls) get(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[key]
}

func newRunClient(t *testing.T, review Decider, rec GrpcRecorder) *RunServiceClient {
	t.Helper()
	views := &fakeStatus{views: map[string]*RunView{
		"run-1": {
			Run: entity.WorkflowRun{ID: "run-1", Status: constants.RunStatusCompleted,
				CompanyName: "Acme Ltd", AuditDate: "2024-01-15"},
			Sections:  []entity.SectionRun{{RunID: "run-1", Section: "Health", Status: constants.SectionStatusOK, Issues: 3}},
			Completed: true,
		},
		"run-2": {Run: entity.WorkflowRun{ID: "run-2", Status: constants.RunStatusRunning}},
	}}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(GrpcMetricsInterceptor(rec, nil)))
	srv.RegisterService(&RunServiceDesc, NewRunService(views, &fakeExport{}, review, nil))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewRunServiceClient(conn)
}

func TestGrpcGetRun(t *testing.T) {
	rec := &grpcCalls{calls: map[string]int{}}
	c := newRunClient(t, nil, rec)
	ctx := context.Background()

	out, err := c.GetRun(ctx, "run-1")
	require.NoError(t, err)
	m := out.AsMap()
	assert.Equal(t, true, m["completed"])
	run := m["run"].(map[string]any)
	assert.Equal(t, "COMPLETED", run["status"])
	assert.Equal(t, "Acme Ltd", run["company_name"])
	sections := m["sections"].([]any)
	require.Len(t, sections, 1)
	assert.Equal(t, 3.0, sections[0].(map[string]any)["issues"])

	_, err = c.GetRun(ctx, "nope")
	assert.Equal(t, codes.NotFound, status.Code(err))

	assert.Equal(t, 1, rec.get("/esg.v1.RunService/GetRun OK"))
	assert.Equal(t, 1, rec.get("/esg.v1.RunService/GetRun NotFound"))
}

func TestGrpcExportAudit(t *testing.T) {
	c := newRunClient(t, nil, nil)

	data, err := c.ExportAudit(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("xlsx"), data)

	_, err = c.ExportAudit(context.Background(), "run-2")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestGrpcDecide(t *testing.T) {
	review := &fakeDecider{}
	c := newRunClient(t, review, nil)

	out, err := c.Decide(context.Background(), "run-1", "tok-1", "approve")
	require.NoError(t, err)
	assert.Equal(t, "APPROVED", out.GetFields()["approval_status"].GetStringValue())
	assert.Equal(t, []string{"run-1|tok-1|approve"}, review.calls)

	disabled := newRunClient(t, nil, nil)
	_, err = disabled.Decide(context.Background(), "run-1", "tok-1", "approve")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
