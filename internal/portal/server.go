// Package portal serves the quest marketplace to browsers. Each browser gets
// its own backend session held server-side; the browser carries only a
// signed portal cookie.
package portal

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"questboard/internal/adminqueue"
	"questboard/internal/auth"
	"questboard/internal/backend"
	"questboard/internal/busy"
	"questboard/internal/config"
	"questboard/internal/httpmiddleware"
	"questboard/internal/model"
	"questboard/internal/routepath"
	"questboard/internal/session"
	"questboard/internal/workflow"
)

const entryKey = "portal.entry"

// Config holds the portal's HTTP settings.
type Config struct {
	SigningKey      string
	Issuer          string
	CORSOrigins     []string
	RateLimitPerMin int
	PollInterval    time.Duration
	// BootstrapWait bounds how long a request waits for a new session's
	// whoami call before the guard answers with the loading placeholder.
	BootstrapWait time.Duration
	SecureCookies bool
}

// ConfigFrom maps application config to portal config.
func ConfigFrom(app config.App) Config {
	return Config{
		SigningKey:      app.JWTSigningKey,
		Issuer:          app.JWTIssuer,
		CORSOrigins:     app.CORSOrigins,
		RateLimitPerMin: app.RateLimitPerMin,
		PollInterval:    app.AdminPollInterval,
		BootstrapWait:   2 * time.Second,
		SecureCookies:   app.Production(),
	}
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Server wires the portal routes.
type Server struct {
	cfg      Config
	reg      *Registry
	logger   *slog.Logger
	limiter  *httpmiddleware.ClientLimiter
	upgrader websocket.Upgrader
	checks   map[string]HealthCheck
}

// New creates a server over reg.
func New(cfg Config, reg *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = adminqueue.DefaultPollInterval
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:5173"}
	}
	s := &Server{
		cfg:     cfg,
		reg:     reg,
		logger:  logger,
		limiter: httpmiddleware.NewClientLimiter(cfg.RateLimitPerMin, 0),
		checks:  map[string]HealthCheck{},
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.allowedOrigin,
	}
	return s
}

// AddHealthCheck includes a dependency in /healthz.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Limiter exposes the credential rate limiter so the caller can sweep it.
func (s *Server) Limiter() *httpmiddleware.ClientLimiter { return s.limiter }

// Router builds the gin engine with every portal route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{routepath.Health, "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET(routepath.Health, s.healthz)

	r.Use(auth.SessionCookie(s.cfg.SigningKey, s.cfg.Issuer))
	// Polled by anonymous clients, so it must not create sessions.
	r.GET(routepath.AuthState, s.authState)

	r.Use(s.withEntry())
	creds := r.Group("", s.limiter.GinMiddleware())
	{
		creds.POST(routepath.AuthLogin, s.login)
		creds.POST(routepath.AuthRegisterCompany, s.registerCompany)
		creds.POST(routepath.AuthRegisterClub, s.registerClub)
	}
	r.POST(routepath.AuthLogout, s.logout)

	company := r.Group("", auth.RequireRole(model.RoleCompany, s.state))
	{
		company.GET(routepath.CompanyDashboard, s.companyDashboard)
		company.POST(routepath.CampaignNew, s.createCampaign)
		company.GET(routepath.ManageCampaignPattern, s.manageCampaign)
		company.POST(routepath.ManageAwardPattern, s.award)
		company.POST(routepath.ManagePayPattern, s.payAndRetry)
		company.POST(routepath.ManageCompletePattern, s.complete)
		company.GET(routepath.CompanyTreasury, s.treasury)
	}

	club := r.Group("", auth.RequireRole(model.RoleClub, s.state))
	{
		club.GET(routepath.StudentDashboard, s.studentDashboard)
		club.POST(routepath.StudentInvite, s.invite)
		club.GET(routepath.Quests, s.questBoard)
		club.GET(routepath.QuestPattern, s.questDetails)
		club.POST(routepath.QuestApplyPattern, s.apply)
		club.POST(routepath.QuestDeliverPattern, s.deliver)
	}

	admin := r.Group("", auth.RequireRole(model.RoleAdmin, s.state))
	{
		admin.GET(routepath.Admin, s.adminOverview)
		admin.POST(routepath.AdminVerifyPattern, s.adminVerdict)
		admin.GET(routepath.AdminEntities, s.adminEntities)
		admin.POST(routepath.AdminBlockPattern, s.adminToggleBlock)
		admin.GET(routepath.AdminLogs, s.adminLogs)
		admin.GET(routepath.AdminLogsSocket, s.adminLogSocket)
	}
	return r
}

// ---------- Sessions ----------

func (s *Server) withEntry() gin.HandlerFunc {
	return func(c *gin.Context) {
		var id string
		if claims, ok := auth.ClaimsFrom(c); ok {
			id = claims.SessionID
		}
		e, err := s.reg.Resolve(c.Request.Context(), id)
		if err != nil {
			s.logger.Error("resolve session failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}
		if e.ID != id {
			s.issueCookie(c, e, "")
		}
		c.Set(entryKey, e)
		c.Next()
	}
}

func entryFrom(c *gin.Context) *Entry {
	return c.MustGet(entryKey).(*Entry)
}

func (s *Server) state(c *gin.Context) session.State {
	return entryFrom(c).State(s.cfg.BootstrapWait)
}

// currentUser returns the signed-in user. Handlers behind RequireRole can
// rely on it being present.
func currentUser(c *gin.Context) model.User {
	u, _ := entryFrom(c).Session.User()
	return u
}

func (s *Server) issueCookie(c *gin.Context, e *Entry, role model.Role) {
	tok, err := auth.Issue(e.ID, role, s.cfg.Issuer, s.cfg.SigningKey, s.reg.SessionTTL())
	if err != nil {
		s.logger.Error("issue session cookie failed", "err", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, tok.Value, int(s.reg.SessionTTL().Seconds()), "/", "", s.cfg.SecureCookies, true)
}

func (s *Server) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(auth.CookieName, "", -1, "/", "", s.cfg.SecureCookies, true)
}

func (s *Server) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// ---------- Errors ----------

// respondErr maps workflow, queue and backend failures onto HTTP responses.
// Backend errors keep the backend's status and message.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, busy.ErrBusy), errors.Is(err, workflow.ErrNoPendingAward):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrInvalid), errors.Is(err, adminqueue.ErrVerdict):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "backend did not answer in time"})
	default:
		status := backend.StatusCode(err, http.StatusBadGateway)
		c.JSON(status, gin.H{"error": backend.Message(err)})
	}
}

// ---------- Health ----------

func (s *Server) healthz(c *gin.Context) {
	body := gin.H{"status": "ok", "sessions": s.reg.Len()}
	status := http.StatusOK
	for name, check := range s.checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, body)
}

// securityHeaders hardens every response. HSTS is only sent in release mode
// where the portal sits behind TLS.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
