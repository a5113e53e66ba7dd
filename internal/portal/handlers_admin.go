package portal

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"questboard/internal/adminqueue"
	"questboard/internal/backend"
	"questboard/internal/model"
)

// ---------- Admin ----------

func (s *Server) adminOverview(c *gin.Context) {
	view, err := entryFrom(c).Admin.Refresh(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type verdictRequest struct {
	Action string `json:"action" binding:"required"`
}

func (s *Server) adminVerdict(c *gin.Context) {
	entityType := model.EntityType(strings.ToUpper(c.Param("type")))
	if entityType != model.EntityCompany && entityType != model.EntityClub {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity type"})
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req verdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := entryFrom(c)
	patch, err := e.Admin.Verdict(c.Request.Context(), entityType, id, backend.Verdict(req.Action))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patch": patch, "view": e.Admin.View()})
}

func (s *Server) adminEntities(c *gin.Context) {
	q := backend.EntityQuery{
		Role:   model.Role(strings.ToUpper(c.Query("role"))),
		Search: c.Query("search"),
	}
	if q.Role != "" && !q.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
		return
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
			return
		}
		q.Page = page
	}
	page, err := entryFrom(c).Admin.Entities(c.Request.Context(), q)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) adminToggleBlock(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	patch, err := entryFrom(c).Admin.ToggleBlock(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patch": patch, "is_active": patch.IsActive})
}

func (s *Server) adminLogs(c *gin.Context) {
	logs, err := entryFrom(c).Client.AdminLogs(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if logs == nil {
		logs = []model.SystemLog{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

type logFrame struct {
	Logs  []model.SystemLog `json:"logs"`
	Error string            `json:"error,omitempty"`
	At    time.Time         `json:"at"`
}

// adminLogSocket streams the admin log feed over a websocket. Polling stops
// when the browser closes the socket.
func (s *Server) adminLogSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("log socket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	e := entryFrom(c)
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The browser never sends anything meaningful; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logger := s.logger.With("session", e.ID)
	poller := adminqueue.NewLogPoller(e.Client, s.cfg.PollInterval, logger)
	for batch := range poller.Run(ctx) {
		frame := logFrame{Logs: batch.Logs, At: batch.At}
		if frame.Logs == nil {
			frame.Logs = []model.SystemLog{}
		}
		if batch.Err != nil {
			frame.Error = backend.Message(batch.Err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			logger.Debug("log socket write failed", "err", err)
			cancel()
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
