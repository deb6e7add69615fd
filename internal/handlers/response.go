package handlers

import (
	"encoding/json"
	"fmt"

	xhttp "github.com/nimasrn/mail-tracker/pkg/http"
)

// Routes is satisfied by both the router and its groups.
type Routes interface {
	GET(path string, handler xhttp.RequestHandler)
	POST(path string, handler xhttp.RequestHandler)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeErrorDetail adds the underlying cause next to the public message.
func writeErrorDetail(ctx *xhttp.RequestCtx, status int, msg string, err error) {
	writeJSON(ctx, status, map[string]string{"error": msg, "message": err.Error()})
}

// pathParam returns a router path parameter as a string.
func pathParam(ctx *xhttp.RequestCtx, name string) string {
	switch v := ctx.UserValue(name).(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
