package backend

import (
	"context"
	"net/http"

	"questboard/internal/model"
)

// AuthResult is the envelope returned by login and the register endpoints.
type AuthResult struct {
	User    model.User `json:"user"`
	Message string     `json:"message,omitempty"`
}

// CompanyRegistration is the payload for a new company account.
type CompanyRegistration struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	CompanyName    string `json:"company_name"`
	CompanyDetails string `json:"company_details,omitempty"`
	// Document is the optional SSM registration document.
	Document *File `json:"-"`
}

// ClubRegistration is the payload for a new club account.
type ClubRegistration struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	ClubName   string `json:"club_name"`
	University string `json:"university,omitempty"`
	// Document is the optional verification document.
	Document *File `json:"-"`
}

// Me calls GET /users/me/.
func (c *Client) Me(ctx context.Context) (model.User, error) {
	var out model.User
	err := c.do(ctx, http.MethodGet, "/users/me/", nil, &out)
	return out, err
}

// Login calls POST /users/login/.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, http.MethodPost, "/users/login/", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

// Logout calls POST /users/logout/.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/users/logout/", nil, nil)
}

// RegisterCompany calls POST /users/register/company/. A document switches the
// request to multipart/form-data.
func (c *Client) RegisterCompany(ctx context.Context, reg CompanyRegistration) (AuthResult, error) {
	var out AuthResult
	if reg.Document == nil {
		err := c.do(ctx, http.MethodPost, "/users/register/company/", reg, &out)
		return out, err
	}
	doc := *reg.Document
	doc.Field = "ssm_document"
	err := c.doMultipart(ctx, "/users/register/company/", map[string]string{
		"email":           reg.Email,
		"password":        reg.Password,
		"company_name":    reg.CompanyName,
		"company_details": reg.CompanyDetails,
	}, &doc, &out)
	return out, err
}

// RegisterClub calls POST /users/register/club/.
func (c *Client) RegisterClub(ctx context.Context, reg ClubRegistration) (AuthResult, error) {
	var out AuthResult
	if reg.Document == nil {
		err := c.do(ctx, http.MethodPost, "/users/register/club/", reg, &out)
		return out, err
	}
	doc := *reg.Document
	doc.Field = "verification_document"
	err := c.doMultipart(ctx, "/users/register/club/", map[string]string{
		"email":      reg.Email,
		"password":   reg.Password,
		"club_name":  reg.ClubName,
		"university": reg.University,
	}, &doc, &out)
	return out, err
}

// Invite calls POST /users/invite/ to add a member to the caller's club.
func (c *Client) Invite(ctx context.Context, email, role string) error {
	return c.do(ctx, http.MethodPost, "/users/invite/", map[string]string{
		"email": email,
		"role":  role,
	}, nil)
}
