// Package vectordb is a gRPC client for the external VDSS vector store
// (service vdss.VDSSService). Every failure is returned as a
// *session.ExternalServiceError; callers decide the fallback.
package vectordb

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/cleansight/analytics/internal/session"
)

const serviceLabel = "similarity_index"

// #region types
// Match is a single search hit. ID is the store's vector id (a UUID);
// PayloadJSON is the metadata stored alongside the vector.
type Match struct {
	ID          string
	Score       float32
	PayloadJSON string
}
// #endregion types

// #region client-struct
// Client talks to one collection of a VDSS server.
type Client struct {
	conn       *grpc.ClientConn
	cc         grpc.ClientConnInterface
	health     healthpb.HealthClient
	collection string
}
// #endregion client-struct

// #region constructor
// NewClient connects to the VDSS server at addr. The connection is lazy;
// the first RPC or Health call dials.
func NewClient(addr, collection string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := NewClientWithConn(conn, collection)
	c.conn = conn
	return c, nil
}

// NewClientWithConn creates a Client over an existing connection.
// Used for testing without a real server.
func NewClientWithConn(cc grpc.ClientConnInterface, collection string) *Client {
	return &Client{
		cc:         cc,
		health:     healthpb.NewHealthClient(cc),
		collection: collection,
	}
}
// #endregion constructor

// #region close
// Close shuts down the gRPC connection if the client owns one.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

// Collection returns the collection name this client writes to.
func (c *Client) Collection() string { return c.collection }

// VectorID maps a session id onto the store's UUID key space
// (UUIDv5 in the DNS namespace), so re-ingesting a session overwrites it.
func VectorID(sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(sessionID)).String()
}

// #region ensure-collection
// EnsureCollection creates the collection with the given dimension and
// cosine distance. An existing collection is not an error.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	req := newMessage("CreateCollectionRequest")
	setString(req, "collection_name", c.collection)
	cfg := child(req, "config")
	setUint32(cfg, "dimension", uint32(dimension))
	cfg.Set(fieldOf(cfg, "distance_metric"), protoreflect.ValueOfEnum(distanceCosine))

	resp := newMessage("CreateCollectionResponse")
	if err := c.cc.Invoke(ctx, methodCreateCollection, req, resp); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return c.fail("create collection", err)
	}
	if code, msg := statusOf(resp); code != 0 && !strings.Contains(strings.ToLower(msg), "exist") {
		return c.fail("create collection", fmt.Errorf("status %d: %s", code, msg))
	}
	return nil
}
// #endregion ensure-collection

// #region upsert
// Upsert stores vec under sessionID with the given JSON payload and flushes
// the collection so the vector is searchable immediately.
func (c *Client) Upsert(ctx context.Context, sessionID string, vec []float32, payloadJSON string) error {
	req := newMessage("UpsertVectorRequest")
	setString(req, "collection_name", c.collection)
	vectorIdentifier(child(req, "vector_id"), VectorID(sessionID))
	vectorData(child(req, "vector"), vec)
	setString(child(req, "payload"), "json", payloadJSON)

	resp := newMessage("UpsertVectorResponse")
	if err := c.cc.Invoke(ctx, methodUpsertVector, req, resp); err != nil {
		return c.fail("upsert", err)
	}
	if code, msg := statusOf(resp); code != 0 {
		return c.fail("upsert", fmt.Errorf("status %d: %s", code, msg))
	}

	flush := newMessage("FlushRequest")
	setString(flush, "collection_name", c.collection)
	if err := c.cc.Invoke(ctx, methodFlush, flush, newMessage("FlushResponse")); err != nil {
		return c.fail("flush", err)
	}
	return nil
}
// #endregion upsert

// #region search
// Search returns up to topK nearest vectors with their payloads, in the
// order the store ranks them.
func (c *Client) Search(ctx context.Context, vec []float32, topK int) ([]Match, error) {
	req := newMessage("SearchRequest")
	setString(req, "collection_name", c.collection)
	vectorData(child(req, "query"), vec)
	setUint32(req, "top_k", uint32(topK))
	setBool(req, "with_vector", false)
	setBool(req, "with_payload", true)

	resp := newMessage("SearchResponse")
	if err := c.cc.Invoke(ctx, methodSearch, req, resp); err != nil {
		return nil, c.fail("search", err)
	}
	if code, msg := statusOf(resp); code != 0 {
		return nil, c.fail("search", fmt.Errorf("status %d: %s", code, msg))
	}

	list := resp.Get(fieldOf(resp, "results")).List()
	matches := make([]Match, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		r := list.Get(i).Message()
		m := Match{
			ID:    getString(getMessage(r, "id"), "uuid"),
			Score: float32(r.Get(fieldOf(r, "score")).Float()),
		}
		if r.Has(fieldOf(r, "payload")) {
			m.PayloadJSON = getString(getMessage(r, "payload"), "json")
		}
		matches = append(matches, m)
	}
	return matches, nil
}
// #endregion search

// #region delete
// Delete removes the vector stored for sessionID.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	req := newMessage("DeleteVectorRequest")
	setString(req, "collection_name", c.collection)
	vectorIdentifier(child(req, "vector_id"), VectorID(sessionID))

	resp := newMessage("DeleteVectorResponse")
	if err := c.cc.Invoke(ctx, methodDeleteVector, req, resp); err != nil {
		return c.fail("delete", err)
	}
	if code, msg := statusOf(resp); code != 0 {
		return c.fail("delete", fmt.Errorf("status %d: %s", code, msg))
	}
	return nil
}
// #endregion delete

// #region health
// Health runs the standard gRPC health check against the VDSS service.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		return c.fail("health", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return c.fail("health", fmt.Errorf("status %s", resp.GetStatus()))
	}
	return nil
}
// #endregion health

func (c *Client) fail(op string, err error) error {
	return &session.ExternalServiceError{Service: serviceLabel, Op: op, Err: err}
}
