package http

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"salesbot/internal/entities"
	"salesbot/internal/infrastructure"
	"salesbot/internal/usecases"
)

//go:embed templates/*.html
var templates embed.FS

// MaxRequestBytes caps webhook and API request bodies.
const MaxRequestBytes = 10 << 20

// MessageRouter answers one inbound webhook message.
type MessageRouter interface {
	Handle(ctx context.Context, msg entities.InboundMessage) entities.Reply
}

type HealthChecker interface {
	Name() string
	Ping(ctx context.Context) error
}

// Dependencies wires the HTTP surface. Auth nil disables the /api group;
// Signature nil disables webhook signature checks.
type Dependencies struct {
	Router     MessageRouter
	Dashboard  *usecases.DashboardUsecase
	Auth       *usecases.AuthUsecase
	Middleware *Middleware
	Signature  SignatureValidator
	Databases  []HealthChecker
	Gatherer   prometheus.Gatherer
	Logger     *log.Logger

	PublicDir     string
	StaticDir     string
	PublicBaseURL string
}

type Handler struct {
	router    MessageRouter
	dashboard *usecases.DashboardUsecase
	auth      *usecases.AuthUsecase
	databases []HealthChecker
	logger    *log.Logger
}

func NewHandler(d Dependencies) *Handler {
	return &Handler{
		router:    d.Router,
		dashboard: d.Dashboard,
		auth:      d.Auth,
		databases: d.Databases,
		logger:    d.Logger,
	}
}

func SetupRoutes(r *gin.Engine, d Dependencies) {
	if d.Logger == nil {
		d.Logger = infrastructure.NopLogger()
	}
	h := NewHandler(d)

	r.SetHTMLTemplate(template.Must(template.ParseFS(templates, "templates/*.html")))

	r.Use(RequestLogger(d.Logger))
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(MaxRequestBytes))
	r.Use(d.Middleware.CORSMiddleware())

	// Twilio webhook
	webhook := []gin.HandlerFunc{h.HandleTwilioWebhook}
	if d.Signature != nil {
		webhook = append([]gin.HandlerFunc{TwilioSignature(d.Signature, d.PublicBaseURL, d.Logger)}, webhook...)
	}
	r.POST("/message", webhook...)
	r.POST("/webhook/twilio", webhook...)

	// Panel
	r.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/conversations")
	})
	r.GET("/conversations", h.ConversationsPage)
	r.GET("/healthz", h.Healthz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	r.Static("/public", d.PublicDir)
	if info, err := os.Stat(d.StaticDir); err == nil && info.IsDir() {
		r.Static("/static", d.StaticDir)
	}

	if d.Auth == nil {
		return
	}

	authGroup := r.Group("/api/auth")
	authGroup.Use(d.Middleware.RateLimitPerClient("login", 1, 5))
	{
		authGroup.POST("/login", h.Login)
	}

	api := r.Group("/api")
	api.Use(d.Middleware.AuthRequired())
	api.Use(d.Middleware.RateLimitPerClient("api", 5, 10))
	{
		api.GET("/conversations", h.GetConversations)
		api.GET("/stats", h.GetStats)
		api.GET("/products", h.GetProducts)
		api.POST("/products/import", h.ImportProducts)
	}
}

type twilioWebhook struct {
	Body              string `form:"Body"`
	From              string `form:"From" binding:"required"`
	To                string `form:"To"`
	NumMedia          string `form:"NumMedia"`
	MediaURL0         string `form:"MediaUrl0"`
	MediaContentType0 string `form:"MediaContentType0"`
}

// HandleTwilioWebhook answers 200 {"ok": true} for every well-formed
// delivery, whatever happened downstream.
func (h *Handler) HandleTwilioWebhook(c *gin.Context) {
	var form twilioWebhook
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}

	msg := entities.InboundMessage{
		Body:             SanitizeString(form.Body),
		From:             SanitizeString(form.From),
		To:               SanitizeString(form.To),
		NumMedia:         parseCount(form.NumMedia),
		MediaURL:         form.MediaURL0,
		MediaContentType: form.MediaContentType0,
	}
	// The reply is sent and logged even if Twilio drops the connection.
	h.router.Handle(context.WithoutCancel(c.Request.Context()), msg)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ConversationsPage renders the HTML conversation log.
func (h *Handler) ConversationsPage(c *gin.Context) {
	filter, err := conversationFilter(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.dashboard.ListConversations(c.Request.Context(), filter)
	if errors.Is(err, usecases.ErrInvalidPage) {
		c.String(http.StatusBadRequest, "page must be >= 1 and per_page between 1 and 200")
		return
	}
	if err != nil {
		h.logger.Error("list conversations", "err", err)
		c.String(http.StatusInternalServerError, "could not load conversations")
		return
	}

	stats, err := h.dashboard.Stats(c.Request.Context())
	if err != nil {
		h.logger.Warn("conversation stats", "err", err)
	}

	c.HTML(http.StatusOK, "conversations.html", gin.H{
		"Page":  page,
		"Stats": stats,
	})
}

// Healthz pings every database.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}
	for _, db := range h.databases {
		if err := db.Ping(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks[db.Name()] = err.Error()
			continue
		}
		checks[db.Name()] = "ok"
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "databases": checks})
}

func (h *Handler) Login(c *gin.Context) {
	var loginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&loginReq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	token, err := h.auth.Login(loginReq.Username, loginReq.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *Handler) GetConversations(c *gin.Context) {
	filter, err := conversationFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	page, err := h.dashboard.ListConversations(c.Request.Context(), filter)
	if errors.Is(err, usecases.ErrInvalidPage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("list conversations", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversations"})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.dashboard.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("conversation stats", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetProducts(c *gin.Context) {
	products, err := h.dashboard.ListProducts(c.Request.Context())
	if err != nil {
		h.logger.Error("list products", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load products"})
		return
	}
	c.JSON(http.StatusOK, products)
}

// ImportProducts accepts a multipart "file" with the catalog CSV. replace=true
// empties the catalog first.
func (h *Handler) ImportProducts(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CSV file required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to open CSV"})
		return
	}
	defer file.Close()

	replace, _ := strconv.ParseBool(c.DefaultPostForm("replace", "false"))
	n, err := h.dashboard.ImportProducts(c.Request.Context(), file, replace)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": n})
}

// conversationFilter reads q, page and per_page. Missing values are left
// zero for the use case to default.
func conversationFilter(c *gin.Context) (entities.ConversationFilter, error) {
	f := entities.ConversationFilter{
		Query: TruncateString(SanitizeString(strings.TrimSpace(c.Query("q"))), MaxQueryLength),
	}
	var err error
	if f.Page, err = queryInt(c, "page"); err != nil {
		return f, err
	}
	if f.PerPage, err = queryInt(c, "per_page"); err != nil {
		return f, err
	}
	if c.Query("page") != "" && f.Page < 1 {
		return f, errors.New("page must be >= 1")
	}
	if c.Query("per_page") != "" && f.PerPage < 1 {
		return f, errors.New("per_page must be between 1 and 200")
	}
	return f, nil
}

// parseCount reads a Twilio counter field. Missing, malformed or negative
// values count as zero so a delivery is never rejected over them.
func parseCount(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}
