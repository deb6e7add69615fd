package xhttp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"slices"
	"strconv"
	"time"

	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/valyala/fasthttp"
)

// env list:
// HTTP_SERVER_READ_TIMEOUT_MS
// HTTP_SERVER_WRITE_TIMEOUT_MS
// HTTP_SERVER_IDLE_TIMEOUT_MS
// HTTP_SERVER_READ_BUFFER_BYTE
// HTTP_SERVER_WRITE_BUFFER_BYTE
// HTTP_SERVER_CONCURRENCY

// envInt reads a positive integer above min from the environment.
func envInt(key string, def, min int) int {
	raw := os.Getenv(key)
	if raw == "" || raw == "0" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= min {
		return def
	}
	fmt.Println("xhttp pkg: setting value from env:", key)
	return v
}

func envMillis(key string, def time.Duration) time.Duration {
	return time.Millisecond * time.Duration(envInt(key, int(def/time.Millisecond), 0))
}

type RequestHeader = fasthttp.RequestHeader
type ResponseHeader = fasthttp.ResponseHeader
type Server = fasthttp.Server

// ServerOption holds the knobs this service tunes; everything else keeps the
// fasthttp default.
type ServerOption struct {
	Name               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ReadBufferSize     int // also the max header size
	WriteBufferSize    int
	MaxRequestBodySize int
	Concurrency        int
	// mail clients behind corporate proxies share addresses
	MaxConnsPerIP int
}

// DefaultServerOption reads its values from HTTP_SERVER_* variables.
func DefaultServerOption() ServerOption {
	return ServerOption{
		Name:               "mail-tracker",
		ReadTimeout:        envMillis("HTTP_SERVER_READ_TIMEOUT_MS", 2500*time.Millisecond),
		WriteTimeout:       envMillis("HTTP_SERVER_WRITE_TIMEOUT_MS", 2500*time.Millisecond),
		IdleTimeout:        envMillis("HTTP_SERVER_IDLE_TIMEOUT_MS", 10*time.Second),
		ReadBufferSize:     envInt("HTTP_SERVER_READ_BUFFER_BYTE", 4*1024, 1024),
		WriteBufferSize:    envInt("HTTP_SERVER_WRITE_BUFFER_BYTE", 4*1024, 1024),
		MaxRequestBodySize: 1024 * 1024, // callbacks and batch triggers carry tiny bodies
		Concurrency:        envInt("HTTP_SERVER_CONCURRENCY", 30_000, 0),
		MaxConnsPerIP:      10_000,
	}
}

type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

func newServer(options ServerOption) *fasthttp.Server {
	return &fasthttp.Server{
		Name:                         options.Name,
		ErrorHandler:                 errorHandler,
		ReadTimeout:                  options.ReadTimeout,
		WriteTimeout:                 options.WriteTimeout,
		IdleTimeout:                  options.IdleTimeout,
		ReadBufferSize:               options.ReadBufferSize,
		WriteBufferSize:              options.WriteBufferSize,
		MaxRequestBodySize:           options.MaxRequestBodySize,
		Concurrency:                  options.Concurrency,
		MaxConnsPerIP:                options.MaxConnsPerIP,
		TCPKeepalive:                 true,
		TCPKeepalivePeriod:           2 * time.Hour,
		MaxIdleWorkerDuration:        time.Minute,
		DisablePreParseMultipartForm: true,
		LogAllErrors:                 true,
		NoDefaultServerHeader:        true,
		NoDefaultDate:                true,
		NoDefaultContentType:         true,
		CloseOnShutdown:              true,
		Logger:                       logger.GetLogger(),
	}
}

// errorHandler answers request parse failures with the same JSON shape the
// handlers use.
func errorHandler(ctx *RequestCtx, err error) {
	status := StatusBadRequest
	if errors.Is(err, fasthttp.ErrBodyTooLarge) {
		status = StatusRequestEntityTooLarge
	}
	logger.Debug("xhttp: request rejected", "status", status, "error", err)
	jsonError(ctx, status)
}

func NewServer(options ServerOption) *Engine {
	return &Engine{
		Server: newServer(options),
		Router: NewRouter(),
	}
}

func CreateServer() *Engine {
	s := NewServer(DefaultServerOption())
	s.Router = CreateDefaultRouter()
	return s
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	e.Server.Logger.Printf("[xhttp] server is listening on %s", addr)
	return e.Server.ListenAndServe(addr)
}

// DoRouting installs the router behind the registered middlewares. The
// first middleware passed to Use is the outermost one.
func (e *Engine) DoRouting() {
	for method, route := range e.Router.List() {
		for _, r := range route {
			e.Server.Logger.Printf("[xhttp] method: %s, path: %s", method, r)
		}
	}

	h := e.Router.Handler
	chain := slices.Clone(e.middle)
	slices.Reverse(chain)
	for i, m := range chain {
		h = m(h)
		e.Server.Logger.Printf("[xhttp] middleware %d registered - %s", i+1, runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = h
}

// Handler returns the routed handler chain, building it on first use.
func (e *Engine) Handler() RequestHandler {
	if e.Server.Handler == nil {
		e.DoRouting()
	}
	return e.Server.Handler
}

// Use adds middleware to the chain which is run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown stops accepting connections and waits for active ones until ctx
// is done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.Server.Logger.Printf("[xhttp] server is shutting down, process id: %d", os.Getpid())
	if err := e.Server.ShutdownWithContext(ctx); err != nil {
		e.Server.Logger.Printf("[xhttp] error while shutting down: %v", err)
		return err
	}
	return nil
}
