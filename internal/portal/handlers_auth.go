package portal

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"questboard/internal/auth"
	"questboard/internal/backend"
	"questboard/internal/guard"
	"questboard/internal/model"
	"questboard/internal/routepath"
)

// ---------- Auth ----------

func (s *Server) authState(c *gin.Context) {
	var id string
	if claims, ok := auth.ClaimsFrom(c); ok {
		id = claims.SessionID
	}
	e, ok, err := s.reg.Lookup(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("lookup session failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"state": guard.Unauthenticated.String()})
		return
	}
	st := e.State(s.cfg.BootstrapWait)
	body := gin.H{"state": guard.StatusOf(st).String()}
	if st.User != nil {
		body["user"] = st.User
		body["home"] = guard.HomeFor(st.User.Role)
	}
	c.JSON(http.StatusOK, body)
}

type loginRequest struct {
	Email    string `json:"email" form:"email" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
	Next     string `json:"next" form:"next"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prev, hadUser := entryFrom(c).Session.User()
	u, err := entryFrom(c).Session.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		respondErr(c, err)
		return
	}
	s.signedIn(c, prev, hadUser, u, req.Next, http.StatusOK)
}

// signedIn refreshes the portal cookie with the role and tells the client
// where to land. A different user than the one already signed in gets a new
// portal session so nothing held for the previous user carries over.
func (s *Server) signedIn(c *gin.Context, prev model.User, hadUser bool, u model.User, next string, status int) {
	e := entryFrom(c)
	if hadUser && prev.ID != u.ID {
		rotated, err := s.reg.Rotate(c.Request.Context(), e, u)
		if err != nil {
			s.logger.Error("rotate session failed", "session", e.ID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}
		e = rotated
		c.Set(entryKey, e)
	}
	s.issueCookie(c, e, u.Role)
	c.JSON(status, gin.H{"user": u, "redirect": guard.Landing(u.Role, next)})
}

type companyRegisterRequest struct {
	Email          string `json:"email" form:"email" binding:"required"`
	Password       string `json:"password" form:"password" binding:"required"`
	CompanyName    string `json:"company_name" form:"company_name" binding:"required"`
	CompanyDetails string `json:"company_details" form:"company_details"`
}

func (s *Server) registerCompany(c *gin.Context) {
	var req companyRegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, closeDoc, err := optionalFile(c, "document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer closeDoc()

	prev, hadUser := entryFrom(c).Session.User()
	u, err := entryFrom(c).Session.RegisterCompany(c.Request.Context(), backend.CompanyRegistration{
		Email:          strings.TrimSpace(req.Email),
		Password:       req.Password,
		CompanyName:    req.CompanyName,
		CompanyDetails: req.CompanyDetails,
		Document:       doc,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	s.signedIn(c, prev, hadUser, u, "", http.StatusCreated)
}

type clubRegisterRequest struct {
	Email      string `json:"email" form:"email" binding:"required"`
	Password   string `json:"password" form:"password" binding:"required"`
	ClubName   string `json:"club_name" form:"club_name" binding:"required"`
	University string `json:"university" form:"university"`
}

func (s *Server) registerClub(c *gin.Context) {
	var req clubRegisterRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, closeDoc, err := optionalFile(c, "document")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer closeDoc()

	prev, hadUser := entryFrom(c).Session.User()
	u, err := entryFrom(c).Session.RegisterClub(c.Request.Context(), backend.ClubRegistration{
		Email:      strings.TrimSpace(req.Email),
		Password:   req.Password,
		ClubName:   req.ClubName,
		University: req.University,
		Document:   doc,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	s.signedIn(c, prev, hadUser, u, "", http.StatusCreated)
}

// logout always ends the portal session, even when the backend call fails.
func (s *Server) logout(c *gin.Context) {
	e := entryFrom(c)
	if err := e.Session.Logout(c.Request.Context()); err != nil {
		s.logger.Warn("backend logout failed", "session", e.ID, "err", err)
	}
	s.reg.Forget(c.Request.Context(), e.ID)
	s.clearCookie(c)
	c.JSON(http.StatusOK, gin.H{"redirect": routepath.Login})
}

// optionalFile returns the uploaded file under field, or nil when the
// request has none. The returned func closes the upload.
func optionalFile(c *gin.Context, field string) (*backend.File, func(), error) {
	noop := func() {}
	if !strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		return nil, noop, nil
	}
	f, header, err := c.Request.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, err
	}
	return uploaded(f, header), func() { _ = f.Close() }, nil
}

func uploaded(f multipart.File, header *multipart.FileHeader) *backend.File {
	return &backend.File{Name: header.Filename, Content: f}
}
