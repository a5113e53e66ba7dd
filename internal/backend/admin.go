package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"questboard/internal/model"
)

// Verdict is an admin decision on a pending entity.
type Verdict string

const (
	VerdictApprove  Verdict = "approve"
	VerdictReject   Verdict = "reject"
	VerdictHighRisk Verdict = "high_risk"
)

// Valid reports whether v is a verdict the backend accepts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictApprove, VerdictReject, VerdictHighRisk:
		return true
	}
	return false
}

// EntityQuery filters the admin entity list.
type EntityQuery struct {
	Role   model.Role
	Search string
	Page   int
}

// BlockResult is returned by the block toggle.
type BlockResult struct {
	Message  string `json:"message"`
	IsActive bool   `json:"is_active"`
}

// AdminStats calls GET /users/admin/stats/.
func (c *Client) AdminStats(ctx context.Context) (model.AdminStats, error) {
	var out model.AdminStats
	err := c.do(ctx, http.MethodGet, "/users/admin/stats/", nil, &out)
	return out, err
}

// AdminQueue calls GET /users/admin/queue/.
func (c *Client) AdminQueue(ctx context.Context) ([]model.AdminEntity, error) {
	var out []model.AdminEntity
	err := c.do(ctx, http.MethodGet, "/users/admin/queue/", nil, &out)
	return out, err
}

// AdminVerify calls POST /users/admin/verify/{type}/{id}/.
func (c *Client) AdminVerify(ctx context.Context, entityType model.EntityType, id int64, verdict Verdict) error {
	path := fmt.Sprintf("/users/admin/verify/%s/%d/", entityType, id)
	return c.do(ctx, http.MethodPost, path, map[string]string{"action": string(verdict)}, nil)
}

// AdminLogs calls GET /users/admin/logs/. The backend returns the latest 50 entries.
func (c *Client) AdminLogs(ctx context.Context) ([]model.SystemLog, error) {
	var out []model.SystemLog
	err := c.do(ctx, http.MethodGet, "/users/admin/logs/", nil, &out)
	return out, err
}

// AdminEntities calls GET /users/admin/entities/.
func (c *Client) AdminEntities(ctx context.Context, q EntityQuery) (model.Page[model.AdminUser], error) {
	v := url.Values{}
	if q.Role != "" {
		v.Set("role", string(q.Role))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	path := "/users/admin/entities/"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var out model.Page[model.AdminUser]
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// AdminToggleBlock calls POST /users/admin/users/{id}/block/.
func (c *Client) AdminToggleBlock(ctx context.Context, userID int64) (BlockResult, error) {
	var out BlockResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/users/admin/users/%d/block/", userID), nil, &out)
	return out, err
}
