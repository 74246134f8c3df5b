package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apolo-dex/smartlink/adapters/analysis"
	backendhttp "github.com/apolo-dex/smartlink/adapters/backend"
	"github.com/apolo-dex/smartlink/adapters/backend/backendtest"
	"github.com/apolo-dex/smartlink/adapters/events"
	"github.com/apolo-dex/smartlink/adapters/store"
	"github.com/apolo-dex/smartlink/adapters/widget"
	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x52908400098527886E0F7030069857D2E4169EE7"

type gateway struct {
	router         *gin.Engine
	sandbox        *backendtest.Server
	linker         *service.Linker
	creds          *service.CredentialStore
	hub            *Hub
	analysisStatus *atomic.Int32
}

func newGateway(t *testing.T, linked bool) *gateway {
	t.Helper()

	sandbox, backendServer := backendtest.NewTestServer(t)
	if linked {
		sandbox.Link(testWallet, "123")
	}

	analysisStatus := &atomic.Int32{}
	analysisStatus.Store(http.StatusOK)
	analysisServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(analysisStatus.Load()))
		_, _ = w.Write([]byte(`{"signal":"long"}`))
	}))
	t.Cleanup(analysisServer.Close)

	bus := events.NewGoChannelBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	creds := service.NewCredentialStore(store.NewMemoryStore(), nil)
	backend, err := backendhttp.NewClient(backendServer.URL)
	require.NoError(t, err)
	analysisClient, err := analysis.NewClient(analysisServer.URL, creds, bus)
	require.NoError(t, err)

	page := widget.NewPage()
	bridge := service.NewBridge(page, widget.TelegramButton(widget.TelegramConfig{BotName: "Mockadv_bot"}),
		widget.MountPointID, service.RetryPolicy{Attempts: 2, Interval: time.Millisecond}, nil)

	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, hub.Subscribe(ctx, bus))

	linker := service.NewLinker(creds, backend, bus, bridge, service.WithWallet(testWallet))
	require.NoError(t, linker.Activate(ctx))
	t.Cleanup(linker.Deactivate)

	router := SetupRouter(Deps{
		Linker:      linker,
		Bridge:      bridge,
		Credentials: creds,
		Validator:   service.NewSessionValidator(creds, backend, bus, nil),
		Analysis:    analysisClient,
		Bus:         bus,
		Page:        page,
		Hub:         hub,
	})

	return &gateway{
		router:         router,
		sandbox:        sandbox,
		linker:         linker,
		creds:          creds,
		hub:            hub,
		analysisStatus: analysisStatus,
	}
}

func (g *gateway) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func assertion() core.Assertion {
	return core.Assertion{
		SubjectID: "123",
		FirstName: "Ada",
		AuthDate:  time.Now().Unix(),
		Hash:      "f00d",
	}
}

func TestLinkFlow(t *testing.T) {
	g := newGateway(t, false)

	w := g.do(t, http.MethodGet, "/link/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeStatus(t, w)
	assert.Equal(t, "UNLINKED", status["state"])
	assert.Equal(t, true, status["dialog_visible"])

	w = g.do(t, http.MethodGet, "/link", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := w.Body.String()
	assert.Equal(t, 1, strings.Count(page, `id="telegram-login-widget"`))
	assert.Contains(t, page, `data-telegram-login="Mockadv_bot"`)
	assert.Contains(t, page, `data-onauth="onTelegramAuth(user)"`)
	assert.Contains(t, page, "window.onTelegramAuth")

	// rendering twice does not inject a second button
	w = g.do(t, http.MethodGet, "/link", nil)
	assert.Equal(t, 1, strings.Count(w.Body.String(), `id="telegram-login-widget"`))

	w = g.do(t, http.MethodPost, "/link/telegram", assertion())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "LINKED", decodeStatus(t, w)["state"])
	assert.Equal(t, 1, g.sandbox.Mints())

	w = g.do(t, http.MethodGet, "/link", nil)
	assert.Contains(t, w.Body.String(), "Telegram linked as Ada")
	assert.NotContains(t, w.Body.String(), "window.onTelegramAuth")
}

func TestLinkStatus_AlreadyLinked(t *testing.T) {
	g := newGateway(t, true)

	w := g.do(t, http.MethodGet, "/link/status", nil)
	assert.Equal(t, "LINKED", decodeStatus(t, w)["state"])

	w = g.do(t, http.MethodGet, "/link", nil)
	assert.NotContains(t, w.Body.String(), "telegram-button-container")
}

func TestTelegram_Errors(t *testing.T) {
	g := newGateway(t, false)

	bad := assertion()
	bad.Hash = ""
	w := g.do(t, http.MethodPost, "/link/telegram", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	g.sandbox.FailMints(http.StatusInternalServerError)
	w = g.do(t, http.MethodPost, "/link/telegram", assertion())
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, core.StateUnlinked, g.linker.Status().State)
	assert.True(t, g.linker.Status().DialogVisible)

	g.linker.Deactivate()
	w = g.do(t, http.MethodPost, "/link/telegram", assertion())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestTelegramCallback_Redirect(t *testing.T) {
	g := newGateway(t, false)

	q := url.Values{
		"id":         {"123"},
		"first_name": {"Ada"},
		"auth_date":  {"1700000000"},
		"hash":       {"f00d"},
	}
	w := g.do(t, http.MethodGet, "/link/telegram/callback?"+q.Encode(), nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/link", w.Header().Get("Location"))
	assert.Equal(t, core.StateLinked, g.linker.Status().State)
}

func TestSetWallet(t *testing.T) {
	g := newGateway(t, false)

	w := g.do(t, http.MethodPost, "/link/wallet", map[string]string{"address": "0xABC"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	other := "0x8617E340B3D01FA5F11F306F4090FD50E238070D"
	g.sandbox.Link(other, "9")
	w = g.do(t, http.MethodPost, "/link/wallet", map[string]string{"address": strings.ToLower(other)})
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeStatus(t, w)
	assert.Equal(t, "LINKED", status["state"])
	assert.Equal(t, other, status["wallet"])
}

func TestInvalidateAndValidate(t *testing.T) {
	g := newGateway(t, true)

	w := g.do(t, http.MethodGet, "/session/validate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = g.do(t, http.MethodPost, "/session/invalidate", map[string]string{"reason": "401 from orders"})
	require.Equal(t, http.StatusAccepted, w.Code)
	status := decodeStatus(t, w)
	assert.Equal(t, "UNLINKED", status["state"])
	assert.Equal(t, true, status["dialog_visible"])

	token, ok := g.creds.Token(context.Background())
	require.True(t, ok)
	g.sandbox.Revoke(token)

	w = g.do(t, http.MethodGet, "/session/validate", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvalidate_RejectsMalformedBody(t *testing.T) {
	g := newGateway(t, true)

	req := httptest.NewRequest(http.MethodPost, "/session/invalidate", strings.NewReader(`{"reason":`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, core.StateLinked, g.linker.Status().State)

	// an empty body is still accepted
	w = g.do(t, http.MethodPost, "/session/invalidate", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestAnalysis(t *testing.T) {
	g := newGateway(t, true)
	form := map[string]any{
		"symbol":    "PERP_ETH_USDC",
		"interval":  "1h",
		"leverage":  5,
		"indicator": "Advanced",
	}

	w := g.do(t, http.MethodPost, "/analysis/gainers", form)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res core.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "ETH-PERP", res.Symbol)

	form["interval"] = "5m"
	w = g.do(t, http.MethodPost, "/analysis/gainers", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	form["interval"] = "1h"
	g.analysisStatus.Store(http.StatusUnauthorized)
	w = g.do(t, http.MethodPost, "/analysis/gainers", form)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, core.StateUnlinked, g.linker.Status().State)
	assert.True(t, g.linker.Status().DialogVisible)
}

func TestAnalysis_RequiresSession(t *testing.T) {
	g := newGateway(t, false)

	w := g.do(t, http.MethodPost, "/analysis/elliott", map[string]any{"symbol": "PERP_BTC_USDC", "interval": "1d"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.True(t, g.linker.Status().DialogVisible)
}

func TestEventsWebSocket(t *testing.T) {
	g := newGateway(t, true)
	server := httptest.NewServer(g.router)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/link/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg hubMessage
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg.Type)
	require.NotNil(t, msg.Status)
	assert.Equal(t, core.StateLinked, msg.Status.State)

	require.Eventually(t, func() bool { return g.hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	w := g.do(t, http.MethodPost, "/session/invalidate", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, core.TopicSessionInvalidated, msg.Event.Topic)
}

func TestMiddleware_RequestIDAndMetrics(t *testing.T) {
	g := newGateway(t, true)

	w := g.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "smartlink_resolutions_total")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/link/status", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	g.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}
