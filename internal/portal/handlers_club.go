package portal

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"questboard/internal/backend"
	"questboard/internal/model"
	"questboard/internal/projection"
)

// openBountyLimit is how many unapplied quests the club dashboard suggests.
const openBountyLimit = 3

// ---------- Club ----------

func (s *Server) studentDashboard(c *gin.Context) {
	e := entryFrom(c)
	var (
		apps      []model.Application
		campaigns []model.Campaign
	)
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		var err error
		apps, err = e.Client.MyApplications(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		campaigns, err = e.Client.ListCampaigns(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		respondErr(c, err)
		return
	}
	missions := projection.SplitApplications(apps)
	c.JSON(http.StatusOK, gin.H{
		"user":            currentUser(c),
		"active_missions": missions.ActiveMissions,
		"other_bids":      missions.OtherBids,
		"counts":          projection.CountBids(apps),
		"open_bounties":   projection.OpenBounties(campaigns, apps, openBountyLimit),
	})
}

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

func (s *Server) invite(c *gin.Context) {
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Role == "" {
		req.Role = "MEMBER"
	}
	if err := entryFrom(c).Client.Invite(c.Request.Context(), req.Email, req.Role); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Invitation sent to " + req.Email})
}

func (s *Server) questBoard(c *gin.Context) {
	campaigns, err := entryFrom(c).Client.ListCampaigns(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quests": projection.OpenQuests(campaigns)})
}

func (s *Server) questDetails(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	campaign, err := entryFrom(c).Client.GetCampaign(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"quest":       campaign,
		"can_apply":   campaign.Status == model.CampaignOpen && campaign.MyApplication == nil,
		"application": campaign.MyApplication,
	})
}

type applyRequest struct {
	Message string `json:"message"`
}

func (s *Server) apply(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req applyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	app, err := entryFrom(c).Flow.Apply(c.Request.Context(), id, req.Message)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"application": app})
}

func (s *Server) deliver(c *gin.Context) {
	appID, ok := idParam(c, "applicationId")
	if !ok {
		return
	}
	doc, closeDoc, err := optionalFile(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer closeDoc()
	var file backend.File
	if doc != nil {
		file = *doc
	}
	d, err := entryFrom(c).Flow.SubmitDeliverable(c.Request.Context(), appID, file)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"deliverable": d})
}
