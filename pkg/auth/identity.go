package auth

import "github.com/valyala/fasthttp"

const userHeader = "X-User-ID"

// ResolveUserFast extracts the authenticated user id from a gateway
// request. Authentication happens upstream; an empty result means the
// request carries no identity and must be rejected.
func ResolveUserFast(ctx *fasthttp.RequestCtx) string {
	return string(ctx.Request.Header.Peek(userHeader))
}

// LimitKeyFast picks the rate-limit bucket for a request: the user id
// when present, the remote address otherwise.
func LimitKeyFast(ctx *fasthttp.RequestCtx) string {
	if u := ResolveUserFast(ctx); u != "" {
		return u
	}
	return ctx.RemoteAddr().String()
}
