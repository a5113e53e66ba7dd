package backend

import (
	"context"
	"fmt"
	"net/http"

	"questboard/internal/model"
)

// CompletionReport is returned when a campaign is marked completed.
type CompletionReport struct {
	Message   string  `json:"message"`
	ReportURL *string `json:"report_url"`
}

// Completion is the body of the complete call. Zero values are omitted so a
// plain completion sends an empty object.
type Completion struct {
	Rating   int    `json:"rating,omitempty"`
	Rank     string `json:"rank,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

// ListCampaigns calls GET /campaigns/.
func (c *Client) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	var out []model.Campaign
	err := c.do(ctx, http.MethodGet, "/campaigns/", nil, &out)
	return out, err
}

// MyCampaigns calls GET /campaigns/?mode=my_campaigns.
func (c *Client) MyCampaigns(ctx context.Context) ([]model.Campaign, error) {
	var out []model.Campaign
	err := c.do(ctx, http.MethodGet, "/campaigns/?mode=my_campaigns", nil, &out)
	return out, err
}

// GetCampaign calls GET /campaigns/{id}/.
func (c *Client) GetCampaign(ctx context.Context, id int64) (model.Campaign, error) {
	var out model.Campaign
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/campaigns/%d/", id), nil, &out)
	return out, err
}

// CreateCampaign calls POST /campaigns/.
func (c *Client) CreateCampaign(ctx context.Context, draft model.CampaignDraft) (model.Campaign, error) {
	var out model.Campaign
	err := c.do(ctx, http.MethodPost, "/campaigns/", draft, &out)
	return out, err
}

// Apply calls POST /campaigns/{id}/apply/.
func (c *Client) Apply(ctx context.Context, campaignID int64, message string) (model.Application, error) {
	var out model.Application
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/campaigns/%d/apply/", campaignID), map[string]string{
		"message": message,
	}, &out)
	return out, err
}

// MyApplications calls GET /campaigns/applications/me/.
func (c *Client) MyApplications(ctx context.Context) ([]model.Application, error) {
	var out []model.Application
	err := c.do(ctx, http.MethodGet, "/campaigns/applications/me/", nil, &out)
	return out, err
}

// Award calls POST /campaigns/application/{id}/award/. A free-tier company
// that has not paid the finder's fee gets an error matching ErrPaymentRequired.
func (c *Client) Award(ctx context.Context, applicationID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/campaigns/application/%d/award/", applicationID), nil, nil)
}

// UploadDeliverable calls POST /campaigns/application/{id}/deliverable/ with
// the file as the multipart "file" field.
func (c *Client) UploadDeliverable(ctx context.Context, applicationID int64, file File) (model.Deliverable, error) {
	var out model.Deliverable
	file.Field = "file"
	err := c.doMultipart(ctx, fmt.Sprintf("/campaigns/application/%d/deliverable/", applicationID), nil, &file, &out)
	return out, err
}

// Complete calls POST /campaigns/{id}/complete/ in a single request.
func (c *Client) Complete(ctx context.Context, campaignID int64, body Completion) (CompletionReport, error) {
	var out CompletionReport
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/campaigns/%d/complete/", campaignID), body, &out)
	return out, err
}
