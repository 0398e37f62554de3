// Package api is the JSON gateway over the durable log: conversation
// history, message mutations, version trails, read boundaries and the
// inbox summary. Handlers are thin; semantics live in the store and the
// receipt tracker.
package api

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"

	"converse/pkg/api/router"
	"converse/pkg/auth"
	apperrors "converse/pkg/errors"
	"converse/pkg/inbox"
	"converse/pkg/logger"
	"converse/pkg/models"
	"converse/pkg/receipts"
	"converse/pkg/store"
	"converse/pkg/upload"
	"converse/pkg/utils"
)

// GatewayOptions wires the gateway's collaborators.
type GatewayOptions struct {
	Receipts *receipts.Tracker
	// Inbox serves GET /v1/inbox when set; a gateway without one rejects
	// the route.
	Inbox    *inbox.Aggregator
	Uploads  *upload.Service
	IsMember auth.MembershipFunc
	Limiter  *auth.LimiterPool
	// PageSize caps list responses without an explicit limit.
	PageSize int
}

type Gateway struct {
	opts GatewayOptions
}

func NewGateway(opts GatewayOptions) *Gateway {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	return &Gateway{opts: opts}
}

// Handler returns the fasthttp handler for the full gateway surface.
func (g *Gateway) Handler() fasthttp.RequestHandler {
	r := router.New()
	g.register(r)
	return g.guard(r.Handler)
}

func (g *Gateway) register(r *router.Router) {
	r.POST("/v1/conversations/{key}/messages", g.createMessage)
	r.GET("/v1/conversations/{key}/messages", g.listMessages)
	r.GET("/v1/conversations/{key}/messages/{id}", g.getMessage)
	r.PATCH("/v1/conversations/{key}/messages/{id}", g.editMessage)
	r.DELETE("/v1/conversations/{key}/messages/{id}", g.deleteMessage)
	r.GET("/v1/conversations/{key}/messages/{id}/versions", g.listVersions)
	r.POST("/v1/conversations/{key}/seen", g.markSeen)
	r.GET("/v1/conversations/{key}/seen", g.getSeen)
	r.GET("/v1/inbox", g.getInbox)
	r.POST("/v1/uploads", g.createUpload)
}

// guard enforces identity and per-caller rate limits in front of every
// route.
func (g *Gateway) guard(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if auth.ResolveUserFast(ctx) == "" {
			utils.JSONErrorFast(ctx, fasthttp.StatusUnauthorized, "unauthorized")
			return
		}
		if g.opts.Limiter != nil && !g.opts.Limiter.Allow(auth.LimitKeyFast(ctx)) {
			logger.Warn("rate_limited", "path", string(ctx.Path()))
			utils.JSONErrorFast(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(ctx)
	}
}

// statusOf maps engine error codes onto HTTP statuses.
func statusOf(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeValidation:
		return fasthttp.StatusBadRequest
	case apperrors.CodePermissionDenied:
		return fasthttp.StatusForbidden
	case apperrors.CodeNotFound:
		return fasthttp.StatusNotFound
	case apperrors.CodeConflict:
		return fasthttp.StatusConflict
	case apperrors.CodeTransientNetwork, apperrors.CodePresenceUnavailable:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}

func writeErr(ctx *fasthttp.RequestCtx, err error) {
	utils.JSONErrorFast(ctx, statusOf(err), err.Error())
}

func pathParam(ctx *fasthttp.RequestCtx, param string) string {
	if v := ctx.UserValue(param); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// authorize rejects callers that are not participants of the conversation.
func (g *Gateway) authorize(conv, user string) error {
	if models.IsDirect(conv) {
		if models.Counterpart(conv, user) == "" {
			return apperrors.PermissionDenied("not a participant of this conversation")
		}
		return nil
	}
	if gid := models.GroupID(conv); gid != "" {
		if g.opts.IsMember == nil || !g.opts.IsMember(gid, user) {
			return apperrors.PermissionDenied("not a member of this group")
		}
		return nil
	}
	return apperrors.Validation("unrecognized conversation key")
}

type createMessageRequest struct {
	Body       string                `json:"body"`
	SenderName string                `json:"sender_name,omitempty"`
	Reply      *models.ReplyEnvelope `json:"reply,omitempty"`
	Attachment *models.Attachment    `json:"attachment,omitempty"`
}

func (g *Gateway) createMessage(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	var req createMessageRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.JSONErrorFast(ctx, fasthttp.StatusBadRequest, "invalid json")
		return
	}
	m := models.Message{
		Conversation: conv,
		Sender:       user,
		SenderName:   req.SenderName,
		Body:         req.Body,
		Reply:        req.Reply,
		Attachment:   req.Attachment,
	}
	if models.IsDirect(conv) {
		m.Recipient = models.Counterpart(conv, user)
	} else {
		m.Group = models.GroupID(conv)
	}
	saved, err := store.Append(m)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusCreated, saved)
}

func (g *Gateway) listMessages(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	limit := g.opts.PageSize
	if s := string(ctx.QueryArgs().Peek("limit")); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n < limit {
			limit = n
		}
	}
	cursor := string(ctx.QueryArgs().Peek("cursor"))
	msgs, next, err := store.ListRange(conv, cursor, limit)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusOK, struct {
		Conversation string           `json:"conversation"`
		Messages     []models.Message `json:"messages"`
		NextCursor   string           `json:"next_cursor,omitempty"`
	}{Conversation: conv, Messages: msgs, NextCursor: next})
}

func (g *Gateway) getMessage(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	m, err := store.Get(conv, pathParam(ctx, "id"))
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusOK, m)
}

func (g *Gateway) editMessage(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.JSONErrorFast(ctx, fasthttp.StatusBadRequest, "invalid json")
		return
	}
	m, err := store.Edit(conv, pathParam(ctx, "id"), user, req.Body)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusOK, m)
}

func (g *Gateway) deleteMessage(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	if err := store.SoftDelete(conv, pathParam(ctx, "id"), user); err != nil {
		writeErr(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (g *Gateway) listVersions(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	id := pathParam(ctx, "id")
	vs, err := store.ListVersions(id)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusOK, struct {
		ID       string           `json:"id"`
		Versions []models.Message `json:"versions"`
	}{ID: id, Versions: vs})
}

func (g *Gateway) markSeen(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		TS    int64  `json:"ts"`
		MsgID string `json:"msg_id"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		utils.JSONErrorFast(ctx, fasthttp.StatusBadRequest, "invalid json")
		return
	}
	if req.MsgID == "" {
		utils.JSONErrorFast(ctx, fasthttp.StatusBadRequest, "msg_id is required")
		return
	}
	b, moved, err := g.opts.Receipts.Advance(conv, user, req.TS, req.MsgID)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusOK, struct {
		Boundary models.ReadBoundary `json:"boundary"`
		Moved    bool                `json:"moved"`
	}{Boundary: b, Moved: moved})
}

func (g *Gateway) getSeen(ctx *fasthttp.RequestCtx) {
	conv := pathParam(ctx, "key")
	user := auth.ResolveUserFast(ctx)
	if err := g.authorize(conv, user); err != nil {
		writeErr(ctx, err)
		return
	}
	b, err := g.opts.Receipts.Boundary(conv, user)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusOK, b)
}

func (g *Gateway) getInbox(ctx *fasthttp.RequestCtx) {
	if g.opts.Inbox == nil {
		utils.JSONErrorFast(ctx, fasthttp.StatusNotFound, "inbox not enabled")
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusOK, struct {
		Entries []models.InboxEntry `json:"entries"`
	}{Entries: g.opts.Inbox.Entries()})
}

// createUpload transfers an attachment body and returns its reference.
// The declared size is the request body length; the service rejects
// anything over the ceiling before bytes move.
func (g *Gateway) createUpload(ctx *fasthttp.RequestCtx) {
	if g.opts.Uploads == nil {
		utils.JSONErrorFast(ctx, fasthttp.StatusNotFound, "uploads not enabled")
		return
	}
	name := string(ctx.QueryArgs().Peek("name"))
	if name == "" {
		utils.JSONErrorFast(ctx, fasthttp.StatusBadRequest, "name is required")
		return
	}
	mime := string(ctx.Request.Header.ContentType())
	body := ctx.PostBody()
	att, err := g.opts.Uploads.Upload(ctx, name, mime, bytes.NewReader(body), int64(len(body)))
	if err != nil {
		writeErr(ctx, err)
		return
	}
	_ = utils.JSONWriteFast(ctx, fasthttp.StatusCreated, att)
}
