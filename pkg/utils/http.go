package utils

import (
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
)

// JSONError writes a JSON error response with the given status code and
// message. It ensures the Content-Type is set to application/json.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// JSONWrite writes the provided value as JSON with the given status code.
func JSONWrite(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	return json.NewEncoder(w).Encode(v)
}

// JSONErrorFast is the fasthttp variant of JSONError.
func JSONErrorFast(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.Response.Header.Set("Content-Type", "application/json")
	ctx.SetStatusCode(status)
	_ = json.NewEncoder(ctx).Encode(map[string]string{"error": message})
}

// JSONWriteFast writes v as JSON on a fasthttp context.
func JSONWriteFast(ctx *fasthttp.RequestCtx, status int, v interface{}) error {
	ctx.Response.Header.Set("Content-Type", "application/json")
	if status != 0 {
		ctx.SetStatusCode(status)
	}
	return json.NewEncoder(ctx).Encode(v)
}
