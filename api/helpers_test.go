package api

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"cipherbid/adapters/sse"
	"cipherbid/api/openapi"
	"cipherbid/auction"
	"cipherbid/fhe"
)

var (
	t0      = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	server  *ServerImpl
	router  *gin.Engine
	machine *auction.Machine
	cp      *fhe.MockCoprocessor
	hub     *sse.Hub[auction.Event]
	tokens  *openapi.TokenIssuer
	clock   *fakeClock
	metrics *Metrics
}

func newTestServer(t *testing.T, opts ...ServerOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cp, err := fhe.NewMockCoprocessor()
	require.NoError(t, err)
	hub := sse.NewHub[auction.Event](sse.WithLogger[auction.Event](discard))
	t.Cleanup(hub.Close)
	sink := auction.EventSinkFunc(func(e auction.Event) error {
		return hub.Publish(ChannelOf(e.AuctionID), e)
	})
	machine, err := auction.NewMachine(cp,
		auction.WithDecrypter(cp),
		auction.WithEventSink(sink),
		auction.WithLogger(discard),
	)
	require.NoError(t, err)

	tokens, err := openapi.NewTokenIssuer(ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize)), "cipherbid", "cipherbid-api", time.Hour)
	require.NoError(t, err)
	doc, err := openapi.Load(context.Background())
	require.NoError(t, err)
	validator, err := openapi.NewValidator(doc)
	require.NoError(t, err)

	clock := &fakeClock{now: t0}
	metrics := NewMetrics()
	base := []ServerOption{
		WithHub(hub),
		WithEncryptor(cp),
		WithValidator(validator),
		WithMetrics(metrics),
		WithClock(clock.Now),
		WithLogger(discard),
	}
	server, err := New(machine, tokens, append(base, opts...)...)
	require.NoError(t, err)
	return &testServer{
		server:  server,
		router:  server.Router(),
		machine: machine,
		cp:      cp,
		hub:     hub,
		tokens:  tokens,
		clock:   clock,
		metrics: metrics,
	}
}

// token 以目前的假時間簽發，時間前進後仍然有效
func (ts *testServer) token(t *testing.T, identity string) string {
	t.Helper()
	token, err := ts.tokens.Issue(identity, identity, ts.clock.Now())
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(t, err)
			raw = string(b)
		}
		reader = strings.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, identity))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func createRequest(title string, minimumBid uint64) CreateAuctionRequest {
	return CreateAuctionRequest{
		Title:       title,
		Description: "A fine watch",
		Category:    "Watches",
		MinimumBid:  minimumBid,
	}
}

// encrypt 透過 POST /inputs 取得綁定 identity 的密文
func (ts *testServer) encrypt(t *testing.T, identity string, amount uint64) InputView {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/inputs", identity, EncryptRequest{Amount: amount})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[InputView](t, w)
}

func (ts *testServer) bid(t *testing.T, id auction.ID, identity string, payment uint64, in InputView) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, http.MethodPost, "/auctions/"+ChannelOf(id)+"/bids", identity, PlaceBidRequest{
		Input:   in.Handle,
		Proof:   in.Proof,
		Payment: payment,
		Comment: "<i>good luck</i>",
	})
}
