package app

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"converse/pkg/banner"
	"converse/pkg/store"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// handler routes ops endpoints ahead of the gateway. Metrics and docs are
// net/http handlers bridged onto fasthttp.
func (a *App) handler() fasthttp.RequestHandler {
	gw := a.gateway.Handler()
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	docs := fasthttpadaptor.NewFastHTTPHandler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	openapi := fasthttpadaptor.NewFastHTTPHandler(http.FileServer(http.Dir("./docs")))

	return func(ctx *fasthttp.RequestCtx) {
		switch path := string(ctx.Path()); {
		case path == "/healthz":
			ctx.Response.Header.Set("Content-Type", "application/json")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString(`{"status":"ok"}`)
		case path == "/readyz":
			a.readyz(ctx)
		case path == "/metrics":
			metrics(ctx)
		case strings.HasPrefix(path, "/docs/"):
			docs(ctx)
		case path == "/openapi.yaml":
			openapi(ctx)
		default:
			gw(ctx)
		}
	}
}

func (a *App) readyz(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Content-Type", "application/json")
	if !store.Ready() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		ctx.SetBodyString(`{"status":"not ready"}`)
		return
	}
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString(`{"status":"ok","version":"` + ver + `"}`)
}

// startHTTP starts the server in a goroutine and returns a channel that
// will carry any fatal server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &fasthttp.Server{
		Handler: a.handler(),
		Name:    "conversed",
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.ListenAndServe(a.eff.Addr)
	}()
	return errCh
}
