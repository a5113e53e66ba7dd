package portal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"questboard/internal/backend"
	"questboard/internal/model"
	"questboard/internal/projection"
	"questboard/internal/workflow"
)

// ---------- Company ----------

func (s *Server) companyDashboard(c *gin.Context) {
	tab, err := projection.ParseBucket(c.Query("tab"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e := entryFrom(c)
	campaigns, err := e.Client.MyCampaigns(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":      currentUser(c),
		"tab":       tab,
		"counts":    projection.CountCampaigns(campaigns),
		"campaigns": projection.Filter(campaigns, tab),
	})
}

type campaignRequest struct {
	Title        string   `json:"title" binding:"required"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Budget       float64  `json:"budget"`
	Deadline     string   `json:"deadline"`
	Requirements []string `json:"requirements"`
}

func (s *Server) createCampaign(c *gin.Context) {
	var req campaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := entryFrom(c).Flow.CreateCampaign(c.Request.Context(), model.CampaignDraft{
		Title:        req.Title,
		Description:  req.Description,
		Type:         req.Type,
		Budget:       req.Budget,
		Deadline:     req.Deadline,
		Requirements: req.Requirements,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"campaign": created})
}

type applicationView struct {
	model.Application
	Actions []projection.Action `json:"actions"`
}

func (s *Server) manageCampaign(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	e := entryFrom(c)
	campaign, err := e.Client.GetCampaign(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.campaignBody(e, campaign))
}

func (s *Server) campaignBody(e *Entry, campaign model.Campaign) gin.H {
	apps := make([]applicationView, 0, len(campaign.Applications))
	for _, app := range campaign.Applications {
		apps = append(apps, applicationView{Application: app, Actions: projection.ApplicationActions(campaign, app)})
	}
	body := gin.H{
		"campaign":     campaign,
		"bucket":       projection.BucketOf(campaign.Status),
		"applications": apps,
	}
	if p, ok := e.Flow.Pending(); ok && p.CampaignID == campaign.ID {
		body["pending_award"] = p
		body["amount"] = e.Flow.Fee()
	}
	return body
}

func (s *Server) award(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	appID, ok := idParam(c, "applicationId")
	if !ok {
		return
	}
	e := entryFrom(c)
	campaign, err := e.Flow.Award(c.Request.Context(), id, appID)
	if errors.Is(err, backend.ErrPaymentRequired) {
		p, _ := e.Flow.Pending()
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error":            backend.Message(err),
			"payment_required": true,
			"amount":           e.Flow.Fee(),
			"pending_award":    p,
		})
		return
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.campaignBody(e, campaign))
}

type payRequest struct {
	Cancel bool `json:"cancel"`
}

// payAndRetry pays the finder's fee for the award waiting on this campaign
// and retries it. A body of {"cancel": true} abandons the pending award.
func (s *Server) payAndRetry(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req payRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	e := entryFrom(c)
	p, ok := e.Flow.Pending()
	if !ok || p.CampaignID != id {
		respondErr(c, workflow.ErrNoPendingAward)
		return
	}
	if req.Cancel {
		e.Flow.CancelPending()
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
		return
	}
	campaign, err := e.Flow.PayAndRetry(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.campaignBody(e, campaign))
}

type completeRequest struct {
	Rating   int    `json:"rating"`
	Feedback string `json:"feedback"`
}

func (s *Server) complete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req completeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	report, err := entryFrom(c).Flow.Complete(c.Request.Context(), id, req.Rating, req.Feedback)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) treasury(c *gin.Context) {
	txs, err := entryFrom(c).Client.TransactionHistory(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "tier": currentUser(c).Tier})
}

// idParam parses a positive integer path parameter, answering 400 itself
// when it is malformed.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
