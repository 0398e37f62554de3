package api

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/valyala/fasthttp"

	"converse/pkg/auth"
	"converse/pkg/models"
	"converse/pkg/receipts"
	"converse/pkg/store"
	"converse/pkg/upload"
)

func newGateway(t *testing.T) *Gateway {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.SetPublisher(nil)
	t.Cleanup(func() { _ = store.Close() })

	dir := auth.NewDirectory()
	dir.AddMember("team", "alice")
	dir.AddMember("team", "bob")
	return NewGateway(GatewayOptions{
		Receipts: receipts.NewTracker(),
		IsMember: dir.IsMember,
		PageSize: 50,
	})
}

func doRequest(h fasthttp.RequestHandler, method, uri, user string, body []byte) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if body != nil {
		req.SetBody(body)
	}
	var ctx fasthttp.RequestCtx
	ctx.Init(&req, nil, nil)
	h(&ctx)
	return &ctx
}

func decodeBody(t *testing.T, ctx *fasthttp.RequestCtx, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(ctx.Response.Body(), v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, ctx.Response.Body())
	}
}

func TestMissingIdentityUnauthorized(t *testing.T) {
	h := newGateway(t).Handler()
	ctx := doRequest(h, "GET", "/v1/inbox", "", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestCreateAndListMessages(t *testing.T) {
	h := newGateway(t).Handler()
	conv := models.DirectKey("alice", "bob")

	ctx := doRequest(h, "POST", "/v1/conversations/"+conv+"/messages", "alice",
		[]byte(`{"body":"hello bob"}`))
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("create status = %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var created models.Message
	decodeBody(t, ctx, &created)
	if created.ID == "" || created.Recipient != "bob" || created.Sender != "alice" {
		t.Fatalf("created = %+v", created)
	}

	ctx = doRequest(h, "GET", "/v1/conversations/"+conv+"/messages", "bob", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("list status = %d", ctx.Response.StatusCode())
	}
	var list struct {
		Messages []models.Message `json:"messages"`
	}
	decodeBody(t, ctx, &list)
	if len(list.Messages) != 1 || list.Messages[0].ID != created.ID {
		t.Fatalf("list = %+v", list.Messages)
	}
}

func TestNonParticipantForbidden(t *testing.T) {
	h := newGateway(t).Handler()
	conv := models.DirectKey("alice", "bob")

	ctx := doRequest(h, "POST", "/v1/conversations/"+conv+"/messages", "carol",
		[]byte(`{"body":"let me in"}`))
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
	ctx = doRequest(h, "GET", "/v1/conversations/"+conv+"/messages", "carol", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("list status = %d", ctx.Response.StatusCode())
	}
}

func TestGroupMembershipEnforced(t *testing.T) {
	h := newGateway(t).Handler()
	conv := models.GroupKey("team")

	ctx := doRequest(h, "POST", "/v1/conversations/"+conv+"/messages", "alice",
		[]byte(`{"body":"standup in 5"}`))
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("member create status = %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	ctx = doRequest(h, "POST", "/v1/conversations/"+conv+"/messages", "mallory",
		[]byte(`{"body":"hi"}`))
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("outsider create status = %d", ctx.Response.StatusCode())
	}
}

func TestEditPermissionsAndVersions(t *testing.T) {
	h := newGateway(t).Handler()
	conv := models.DirectKey("alice", "bob")

	ctx := doRequest(h, "POST", "/v1/conversations/"+conv+"/messages", "alice",
		[]byte(`{"body":"draft"}`))
	var created models.Message
	decodeBody(t, ctx, &created)

	base := "/v1/conversations/" + conv + "/messages/" + created.ID
	ctx = doRequest(h, "PATCH", base, "bob", []byte(`{"body":"hijacked"}`))
	if ctx.Response.StatusCode() != fasthttp.StatusForbidden {
		t.Fatalf("foreign edit status = %d", ctx.Response.StatusCode())
	}

	ctx = doRequest(h, "PATCH", base, "alice", []byte(`{"body":"final"}`))
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("edit status = %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var edited models.Message
	decodeBody(t, ctx, &edited)
	if edited.Body != "final" || edited.EditedTS == 0 {
		t.Fatalf("edited = %+v", edited)
	}

	ctx = doRequest(h, "GET", base+"/versions", "alice", nil)
	var vs struct {
		Versions []models.Message `json:"versions"`
	}
	decodeBody(t, ctx, &vs)
	if len(vs.Versions) != 1 || vs.Versions[0].Body != "draft" {
		t.Fatalf("versions = %+v", vs.Versions)
	}
}

func TestDeleteThenConflict(t *testing.T) {
	h := newGateway(t).Handler()
	conv := models.DirectKey("alice", "bob")

	ctx := doRequest(h, "POST", "/v1/conversations/"+conv+"/messages", "alice",
		[]byte(`{"body":"short lived"}`))
	var created models.Message
	decodeBody(t, ctx, &created)

	base := "/v1/conversations/" + conv + "/messages/" + created.ID
	ctx = doRequest(h, "DELETE", base, "alice", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNoContent {
		t.Fatalf("delete status = %d", ctx.Response.StatusCode())
	}
	ctx = doRequest(h, "DELETE", base, "alice", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusConflict {
		t.Fatalf("second delete status = %d", ctx.Response.StatusCode())
	}
	ctx = doRequest(h, "PATCH", base, "alice", []byte(`{"body":"too late"}`))
	if ctx.Response.StatusCode() != fasthttp.StatusConflict {
		t.Fatalf("edit after delete status = %d", ctx.Response.StatusCode())
	}
}

func TestSeenRoundTrip(t *testing.T) {
	h := newGateway(t).Handler()
	conv := models.DirectKey("alice", "bob")

	ctx := doRequest(h, "POST", "/v1/conversations/"+conv+"/messages", "bob",
		[]byte(`{"body":"read me"}`))
	var created models.Message
	decodeBody(t, ctx, &created)

	seen := fmt.Sprintf(`{"ts":%d,"msg_id":"%s"}`, created.TS, created.ID)
	ctx = doRequest(h, "POST", "/v1/conversations/"+conv+"/seen", "alice", []byte(seen))
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("mark seen status = %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var res struct {
		Boundary models.ReadBoundary `json:"boundary"`
		Moved    bool                `json:"moved"`
	}
	decodeBody(t, ctx, &res)
	if !res.Moved || res.Boundary.MsgID != created.ID {
		t.Fatalf("advance = %+v", res)
	}

	// replaying an older position does not move the boundary back
	stale := fmt.Sprintf(`{"ts":%d,"msg_id":"%s"}`, created.TS-1, "0")
	ctx = doRequest(h, "POST", "/v1/conversations/"+conv+"/seen", "alice", []byte(stale))
	decodeBody(t, ctx, &res)
	if res.Moved || res.Boundary.MsgID != created.ID {
		t.Fatalf("stale advance = %+v", res)
	}

	ctx = doRequest(h, "GET", "/v1/conversations/"+conv+"/seen", "alice", nil)
	var b models.ReadBoundary
	decodeBody(t, ctx, &b)
	if b.MsgID != created.ID {
		t.Fatalf("boundary = %+v", b)
	}
}

func TestRateLimitedCallerRejected(t *testing.T) {
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.SetPublisher(nil)
	t.Cleanup(func() { _ = store.Close() })

	g := NewGateway(GatewayOptions{
		Receipts: receipts.NewTracker(),
		Limiter:  auth.NewLimiterPool(0.001, 1),
	})
	h := g.Handler()
	conv := models.DirectKey("alice", "bob")

	first := doRequest(h, "GET", "/v1/conversations/"+conv+"/messages", "alice", nil)
	if first.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("first status = %d", first.Response.StatusCode())
	}
	second := doRequest(h, "GET", "/v1/conversations/"+conv+"/messages", "alice", nil)
	if second.Response.StatusCode() != fasthttp.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Response.StatusCode())
	}
}

func TestInboxRouteWithoutAggregator(t *testing.T) {
	h := newGateway(t).Handler()
	ctx := doRequest(h, "GET", "/v1/inbox", "alice", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestUploadCeilingEnforced(t *testing.T) {
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	store.SetPublisher(nil)
	t.Cleanup(func() { _ = store.Close() })

	g := NewGateway(GatewayOptions{
		Receipts: receipts.NewTracker(),
		Uploads: upload.NewService(
			&upload.DiskUploader{Dir: t.TempDir(), BaseURL: "/attachments"}, 16),
	})
	h := g.Handler()

	ctx := doRequest(h, "POST", "/v1/uploads?name=note.txt", "alice", []byte("small"))
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("upload status = %d: %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	var att models.Attachment
	decodeBody(t, ctx, &att)
	if att.SizeBytes != 5 || att.URL == "" {
		t.Fatalf("attachment = %+v", att)
	}

	ctx = doRequest(h, "POST", "/v1/uploads?name=big.bin", "alice", []byte("this body is over the limit"))
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("oversized status = %d", ctx.Response.StatusCode())
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	h := newGateway(t).Handler()
	ctx := doRequest(h, "GET", "/v1/nope", "alice", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}
