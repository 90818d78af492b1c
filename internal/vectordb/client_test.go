package vectordb

import (
	"context"
	"errors"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/cleansight/analytics/internal/session"
)

// #region mock
type fakeConn struct {
	mu       sync.Mutex
	calls    []string
	requests map[string]proto.Message
	replies  map[string]proto.Message
	errs     map[string]error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		requests: map[string]proto.Message{},
		replies:  map[string]proto.Message{},
		errs:     map[string]error{},
	}
}

func (f *fakeConn) Invoke(_ context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	f.requests[method] = args.(proto.Message)
	if err := f.errs[method]; err != nil {
		return err
	}
	if r := f.replies[method]; r != nil {
		proto.Merge(reply.(proto.Message), r)
	}
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("streams not supported")
}

func searchReply(hits ...Match) proto.Message {
	resp := newMessage("SearchResponse")
	list := resp.Mutable(fieldOf(resp, "results")).List()
	for _, h := range hits {
		el := list.NewElement()
		r := el.Message()
		setString(child(r, "id"), "uuid", h.ID)
		r.Set(fieldOf(r, "score"), protoreflect.ValueOfFloat32(h.Score))
		if h.PayloadJSON != "" {
			setString(child(r, "payload"), "json", h.PayloadJSON)
		}
		list.Append(el)
	}
	return resp
}

func statusReply(name string, code int32, msg string) proto.Message {
	resp := newMessage(name)
	st := child(resp, "status")
	st.Set(fieldOf(st, "code"), protoreflect.ValueOfInt32(code))
	setString(st, "message", msg)
	return resp
}

// #endregion mock

// #region schema-tests
func TestSchemaBuilds(t *testing.T) {
	svc := schema.Services().ByName("VDSSService")
	if svc == nil {
		t.Fatal("expected VDSSService in schema")
	}
	if n := svc.Methods().Len(); n != 5 {
		t.Errorf("expected 5 methods, got %d", n)
	}
	vid := schema.Messages().ByName("VectorIdentifier")
	if vid.Oneofs().ByName("id") == nil {
		t.Error("expected oneof id on VectorIdentifier")
	}
}

func TestVectorID_Stable(t *testing.T) {
	a := VectorID("S-001")
	if a != VectorID("S-001") {
		t.Error("expected same id for same session")
	}
	if a == VectorID("S-002") {
		t.Error("expected different ids for different sessions")
	}
	if len(a) != 36 {
		t.Errorf("expected canonical uuid, got %q", a)
	}
}

// #endregion schema-tests

// #region constructor-tests
func TestNewClientLazyDial(t *testing.T) {
	c, err := NewClient("localhost:0", "sessions")
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer c.Close()
	if c.Collection() != "sessions" {
		t.Errorf("expected collection 'sessions', got %q", c.Collection())
	}
}

func TestCloseWithoutOwnedConn(t *testing.T) {
	c := NewClientWithConn(newFakeConn(), "sessions")
	if err := c.Close(); err != nil {
		t.Errorf("expected nil close, got %v", err)
	}
}

// #endregion constructor-tests

// #region upsert-tests
func TestUpsert_SendsVectorAndFlushes(t *testing.T) {
	conn := newFakeConn()
	c := NewClientWithConn(conn, "sessions")

	err := c.Upsert(context.Background(), "S-001", []float32{0.1, 0.2, 0.3}, `{"session_id":"S-001"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(conn.calls) != 2 || conn.calls[0] != methodUpsertVector || conn.calls[1] != methodFlush {
		t.Fatalf("expected upsert then flush, got %v", conn.calls)
	}

	req := conn.requests[methodUpsertVector].ProtoReflect()
	if got := getString(req, "collection_name"); got != "sessions" {
		t.Errorf("expected collection 'sessions', got %q", got)
	}
	if got := getString(getMessage(req, "vector_id"), "uuid"); got != VectorID("S-001") {
		t.Errorf("expected uuid %s, got %s", VectorID("S-001"), got)
	}
	vec := getMessage(req, "vector")
	if n := vec.Get(fieldOf(vec, "data")).List().Len(); n != 3 {
		t.Errorf("expected 3 components, got %d", n)
	}
	if d := vec.Get(fieldOf(vec, "dimension")).Uint(); d != 3 {
		t.Errorf("expected dimension 3, got %d", d)
	}
	if got := getString(getMessage(req, "payload"), "json"); got != `{"session_id":"S-001"}` {
		t.Errorf("unexpected payload %q", got)
	}
}

func TestUpsert_RPCError(t *testing.T) {
	conn := newFakeConn()
	rpcErr := status.Error(codes.Unavailable, "down")
	conn.errs[methodUpsertVector] = rpcErr
	c := NewClientWithConn(conn, "sessions")

	err := c.Upsert(context.Background(), "S-001", []float32{1}, "{}")
	if err == nil {
		t.Fatal("expected error")
	}
	if !session.IsExternal(err) {
		t.Errorf("expected ExternalServiceError, got %T", err)
	}
	if !errors.Is(err, rpcErr) {
		t.Errorf("expected wrapped rpc error, got: %v", err)
	}
	if len(conn.calls) != 1 {
		t.Errorf("expected no flush after failed upsert, got %v", conn.calls)
	}
}

func TestUpsert_StatusError(t *testing.T) {
	conn := newFakeConn()
	conn.replies[methodUpsertVector] = statusReply("UpsertVectorResponse", 3, "dimension mismatch")
	c := NewClientWithConn(conn, "sessions")

	if err := c.Upsert(context.Background(), "S-001", []float32{1}, "{}"); !session.IsExternal(err) {
		t.Errorf("expected ExternalServiceError, got %v", err)
	}
}

// #endregion upsert-tests

// #region search-tests
func TestSearch_Success(t *testing.T) {
	conn := newFakeConn()
	conn.replies[methodSearch] = searchReply(
		Match{ID: "u1", Score: 0.97, PayloadJSON: `{"session_id":"S-002"}`},
		Match{ID: "u2", Score: 0.80},
	)
	c := NewClientWithConn(conn, "sessions")

	matches, err := c.Search(context.Background(), []float32{0.5, 0.5}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ID != "u1" || matches[0].Score != 0.97 {
		t.Errorf("unexpected first match %+v", matches[0])
	}
	if matches[0].PayloadJSON != `{"session_id":"S-002"}` {
		t.Errorf("unexpected payload %q", matches[0].PayloadJSON)
	}
	if matches[1].PayloadJSON != "" {
		t.Errorf("expected empty payload, got %q", matches[1].PayloadJSON)
	}

	req := conn.requests[methodSearch].ProtoReflect()
	if k := req.Get(fieldOf(req, "top_k")).Uint(); k != 4 {
		t.Errorf("expected top_k 4, got %d", k)
	}
	if !req.Get(fieldOf(req, "with_payload")).Bool() {
		t.Error("expected with_payload")
	}
}

func TestSearch_Error(t *testing.T) {
	conn := newFakeConn()
	conn.errs[methodSearch] = context.DeadlineExceeded
	c := NewClientWithConn(conn, "sessions")

	_, err := c.Search(context.Background(), []float32{1}, 3)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wrapped deadline error, got: %v", err)
	}
}

// #endregion search-tests

// #region collection-tests
func TestEnsureCollection_AlreadyExists(t *testing.T) {
	conn := newFakeConn()
	conn.errs[methodCreateCollection] = status.Error(codes.AlreadyExists, "exists")
	c := NewClientWithConn(conn, "sessions")

	if err := c.EnsureCollection(context.Background(), 202); err != nil {
		t.Errorf("expected existing collection to be accepted, got %v", err)
	}
}

func TestEnsureCollection_Request(t *testing.T) {
	conn := newFakeConn()
	c := NewClientWithConn(conn, "sessions")

	if err := c.EnsureCollection(context.Background(), 202); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := getMessage(conn.requests[methodCreateCollection].ProtoReflect(), "config")
	if d := cfg.Get(fieldOf(cfg, "dimension")).Uint(); d != 202 {
		t.Errorf("expected dimension 202, got %d", d)
	}
	if m := cfg.Get(fieldOf(cfg, "distance_metric")).Enum(); m != distanceCosine {
		t.Errorf("expected cosine metric, got %d", m)
	}
}

func TestEnsureCollection_Failure(t *testing.T) {
	conn := newFakeConn()
	conn.errs[methodCreateCollection] = status.Error(codes.Unavailable, "down")
	c := NewClientWithConn(conn, "sessions")

	if err := c.EnsureCollection(context.Background(), 202); !session.IsExternal(err) {
		t.Errorf("expected ExternalServiceError, got %v", err)
	}
}

// #endregion collection-tests

// #region delete-health-tests
func TestDelete(t *testing.T) {
	conn := newFakeConn()
	c := NewClientWithConn(conn, "sessions")

	if err := c.Delete(context.Background(), "S-009"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := conn.requests[methodDeleteVector].ProtoReflect()
	if got := getString(getMessage(req, "vector_id"), "uuid"); got != VectorID("S-009") {
		t.Errorf("unexpected vector id %q", got)
	}
}

func TestHealth(t *testing.T) {
	conn := newFakeConn()
	const check = "/grpc.health.v1.Health/Check"
	conn.replies[check] = &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	c := NewClientWithConn(conn, "sessions")

	if err := c.Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}

	conn.replies[check] = &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}
	if err := c.Health(context.Background()); !session.IsExternal(err) {
		t.Errorf("expected ExternalServiceError for NOT_SERVING, got %v", err)
	}
}

// #endregion delete-health-tests
