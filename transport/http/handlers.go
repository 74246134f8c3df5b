package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/apolo-dex/smartlink"
	"github.com/apolo-dex/smartlink/adapters/analysis"
	"github.com/apolo-dex/smartlink/adapters/widget"
	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/apolo-dex/smartlink/service"
	"github.com/gin-gonic/gin"
)

// LinkHandlers contains HTTP handlers for the link dialog and session endpoints
type LinkHandlers struct {
	linker    smartlink.Client
	bridge    *service.Bridge
	creds     *service.CredentialStore
	validator *service.SessionValidator
	analysis  *analysis.Client
	bus       ports.SignalBus
	page      *widget.Page
	hub       *Hub
	logger    *slog.Logger
	locale    string
}

// NewLinkHandlers creates new link handlers
func NewLinkHandlers(d Deps) *LinkHandlers {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locale := d.Locale
	if locale == "" {
		locale = "en"
	}
	return &LinkHandlers{
		linker:    d.Linker,
		bridge:    d.Bridge,
		creds:     d.Credentials,
		validator: d.Validator,
		analysis:  d.Analysis,
		bus:       d.Bus,
		page:      d.Page,
		hub:       d.Hub,
		logger:    logger,
		locale:    locale,
	}
}

// widgetView is an injected login button as the template renders it
type widgetView struct {
	ID            string
	Src           string
	Bot           string
	Size          string
	RequestAccess string
	AuthURL       string
}

// Page renders the link dialog. The widget mount point only exists while the
// dialog is visible, which is also when the button gets injected.
func (h *LinkHandlers) Page(c *gin.Context) {
	status := h.linker.Status()

	var widgets []widgetView
	if status.DialogVisible {
		h.page.Mount(widget.MountPointID)
		if err := h.bridge.Inject(c.Request.Context()); err != nil {
			h.logger.Warn("failed to inject identity widget", "error", err)
		}
		if mp, ok := h.page.MountPoint(widget.MountPointID); ok {
			for _, el := range mp.Children() {
				widgets = append(widgets, widgetView{
					ID:            el.ID,
					Src:           el.Attrs["src"],
					Bot:           el.Attrs["data-telegram-login"],
					Size:          el.Attrs["data-size"],
					RequestAccess: el.Attrs["data-request-access"],
					AuthURL:       el.Attrs["data-auth-url"],
				})
			}
		}
	}

	profile, _ := h.creds.Profile(c.Request.Context())
	c.HTML(http.StatusOK, "link.html", gin.H{
		"Locale":  h.locale,
		"Status":  status,
		"Linked":  status.State == core.StateLinked,
		"Profile": profile,
		"MountID": widget.MountPointID,
		"Widgets": widgets,
	})
}

// Status returns the link status
func (h *LinkHandlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.linker.Status())
}

// SetWallet switches the connected wallet
func (h *LinkHandlers) SetWallet(c *gin.Context) {
	var req struct {
		Address string `json:"address"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.linker.SetWallet(c.Request.Context(), req.Address); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.linker.Status())
}

// Telegram receives the assertion posted by the widget callback shim
func (h *LinkHandlers) Telegram(c *gin.Context) {
	var a core.Assertion
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.bridge.Invoke(c.Request.Context(), a); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.linker.Status())
}

// TelegramCallback handles the widget's redirect flow, where the assertion
// arrives as query parameters
func (h *LinkHandlers) TelegramCallback(c *gin.Context) {
	authDate, _ := strconv.ParseInt(c.Query("auth_date"), 10, 64)
	a := core.Assertion{
		SubjectID: c.Query("id"),
		FirstName: c.Query("first_name"),
		LastName:  c.Query("last_name"),
		Username:  c.Query("username"),
		PhotoURL:  c.Query("photo_url"),
		AuthDate:  authDate,
		Hash:      c.Query("hash"),
	}

	if err := h.bridge.Invoke(c.Request.Context(), a); err != nil {
		h.logger.Warn("telegram redirect callback failed", "error", err)
	}

	c.Redirect(http.StatusSeeOther, "/link")
}

// Invalidate raises the invalidation signal on behalf of a caller whose
// authorized request was rejected
func (h *LinkHandlers) Invalidate(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Reason == "" {
		req.Reason = "reported by client"
	}

	if err := service.RaiseInvalidation(c.Request.Context(), h.bus, req.Reason); err != nil {
		h.logger.Error("failed to raise invalidation signal", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to raise invalidation"})
		return
	}

	c.JSON(http.StatusAccepted, h.linker.Status())
}

// Validate checks the cached session locally and with the backend
func (h *LinkHandlers) Validate(c *gin.Context) {
	if err := h.validator.Validate(c.Request.Context()); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":      true,
		"expires_at": h.creds.Expiry(c.Request.Context()),
	})
}

// Analysis submits an analysis form for the linked wallet
func (h *LinkHandlers) Analysis(c *gin.Context) {
	var req core.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	req.Kind = core.AnalysisKind(c.Param("kind"))
	if req.Locale == "" {
		req.Locale = h.locale
	}

	result, err := h.analysis.Submit(c.Request.Context(), req)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Events upgrades to a websocket that streams bus events
func (h *LinkHandlers) Events(c *gin.Context) {
	h.hub.HandleWebSocket(c.Writer, c.Request, h.linker.Status())
}

func (h *LinkHandlers) abortWithError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError
	errorMsg := "Internal error"

	// Map specific errors to appropriate status codes
	switch {
	case errors.Is(err, core.ErrInvalidAddress):
		statusCode = http.StatusBadRequest
		errorMsg = "Invalid wallet address"
	case errors.Is(err, core.ErrInvalidAssertion):
		statusCode = http.StatusBadRequest
		errorMsg = "Invalid identity assertion"
	case errors.Is(err, core.ErrInvalidRequest):
		statusCode = http.StatusBadRequest
		errorMsg = err.Error()
	case errors.Is(err, core.ErrTokenExpired):
		statusCode = http.StatusUnauthorized
		errorMsg = "Session expired"
	case errors.Is(err, core.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		errorMsg = "Session rejected"
	case errors.Is(err, core.ErrNoWallet):
		statusCode = http.StatusConflict
		errorMsg = "No wallet connected"
	case errors.Is(err, core.ErrInFlight):
		statusCode = http.StatusConflict
		errorMsg = "Link already in progress"
	case errors.Is(err, core.ErrNoCallback), errors.Is(err, core.ErrNotActive):
		statusCode = http.StatusServiceUnavailable
		errorMsg = "Linking is not active"
	case errors.Is(err, core.ErrBackendFailure), errors.Is(err, core.ErrMalformedResponse):
		statusCode = http.StatusBadGateway
		errorMsg = "Backend unavailable"
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Warn("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(statusCode, gin.H{"error": errorMsg})
}
