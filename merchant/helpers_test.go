package merchant

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/corepay/gestpay/gateway"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

// soapResult wraps an inner payload the way the gateway's web services
// respond to a given operation.
func soapResult(op, inner string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/">` +
		`<soap:Body><` + op + `Response xmlns="https://ecomm.sella.it/gestpay/">` +
		`<` + op + `Result><GestPayCryptDecrypt xmlns="">` + inner + `</GestPayCryptDecrypt></` + op + `Result>` +
		`</` + op + `Response></soap:Body></soap:Envelope>`
}

// fakeGateway is an httptest stand-in for both gateway web services. Each
// operation gets a canned inner payload; requests are counted per
// operation and bodies retained for wire assertions.
type fakeGateway struct {
	t       *testing.T
	srv     *httptest.Server
	replies map[string]string
	calls   map[string]*int64
	lastReq atomic.Value
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{
		t:       t,
		replies: make(map[string]string),
		calls: map[string]*int64{
			"Encrypt":             new(int64),
			"Decrypt":             new(int64),
			"callPagamS2S":        new(int64),
			"callSettleS2S":       new(int64),
			"callDeleteS2S":       new(int64),
			"callRefundS2S":       new(int64),
			"callDeleteTokenS2S":  new(int64),
			"callRequestTokenS2S": new(int64),
		},
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.handle))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	g.lastReq.Store(string(body))

	for op, n := range g.calls {
		if strings.Contains(string(body), "<"+op+" ") || strings.Contains(string(body), "<"+op+">") {
			atomic.AddInt64(n, 1)
			inner, ok := g.replies[op]
			if !ok {
				g.t.Errorf("unexpected gateway call %s", op)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/xml; charset=utf-8")
			io.WriteString(w, soapResult(op, inner))
			return
		}
	}
	g.t.Errorf("unrecognized gateway request: %s", body)
	w.WriteHeader(http.StatusBadRequest)
}

func (g *fakeGateway) reply(op, inner string) { g.replies[op] = inner }

func (g *fakeGateway) callCount(op string) int { return int(atomic.LoadInt64(g.calls[op])) }

func (g *fakeGateway) lastBody() string {
	if v, ok := g.lastReq.Load().(string); ok {
		return v
	}
	return ""
}

// env wires a full merchant stack against the fake gateway with the
// in-memory repository and transient store.
type env struct {
	gw         *fakeGateway
	cfg        *Config
	repo       *Repository
	transient  *MemoryTransientStore
	builder    *ParamsBuilder
	reconciler *Reconciler
	checkout   *Checkout
	vault      *Vault
}

func newEnv(t *testing.T, cfg *Config, hooks ...Hook) *env {
	t.Helper()

	gw := newFakeGateway(t)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ShopLogin == "" {
		cfg.ShopLogin = "GESPAY12345"
	}

	logger := testLogger()
	repo := NewRepository()
	transient := NewMemoryTransientStore()
	crypt := gateway.NewClient(gw.srv.URL, nil, logger)
	s2s := gateway.NewS2SClient(gw.srv.URL, nil, logger)

	builder := NewParamsBuilder(cfg, repo, logger)
	reconciler := NewReconciler(cfg, crypt, s2s, repo, repo, transient, logger, hooks...)
	checkout := NewCheckout(cfg, builder, crypt, s2s, repo, repo, transient, reconciler, logger)
	vault := NewVault(cfg, repo, s2s, logger)

	return &env{
		gw:         gw,
		cfg:        cfg,
		repo:       repo,
		transient:  transient,
		builder:    builder,
		reconciler: reconciler,
		checkout:   checkout,
		vault:      vault,
	}
}
