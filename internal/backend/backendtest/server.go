// Package backendtest runs an in-memory stand-in for the marketplace REST
// backend. It implements just enough of the contract for client-side tests:
// cookie sessions, campaign lifecycle, finder's fee gating and the admin API.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"questboard/internal/model"
)

const cookieName = "access_token"

// Account is a seeded backend user.
type Account struct {
	Password string
	User     model.User
	// Paid marks a company on a paid tier that skips the finder's fee.
	Paid bool
}

// Server is a fake backend. All fields are guarded by mu; use the accessor
// methods from tests.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	accounts     map[string]*Account
	tokens       map[string]string
	nextID       int64
	campaigns    map[int64]*model.Campaign
	owners       map[int64]int64
	applications map[int64]*model.Application
	feesPaid     map[int64]bool
	intents      map[int64]int64
	queue        []model.AdminEntity
	stats        model.AdminStats
	logs         []model.SystemLog
	users        []model.AdminUser

	awardCalls   int
	awardSuccess int
	logCalls     int

	// FailLogout makes the logout endpoint return 500.
	FailLogout bool
	// MeStatus, when set, forces the whoami endpoint to return that status.
	MeStatus int
}

// New starts a fake backend serving under /api and registers cleanup on t.
func New(t testing.TB) *Server {
	s := &Server{
		accounts:     map[string]*Account{},
		tokens:       map[string]string{},
		nextID:       100,
		campaigns:    map[int64]*model.Campaign{},
		owners:       map[int64]int64{},
		applications: map[int64]*model.Application{},
		feesPaid:     map[int64]bool{},
		intents:      map[int64]int64{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to hand to backend.New.
func (s *Server) BaseURL() string { return s.URL + "/api" }

// AddAccount seeds an account and returns its user.
func (s *Server) AddAccount(email, password string, role model.Role, paid bool) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := model.User{ID: s.nextID, Email: email, Role: role, Name: email, VerificationStatus: "VERIFIED", Tier: "FREE"}
	if paid {
		u.Tier = "PRO"
	}
	s.accounts[email] = &Account{Password: password, User: u, Paid: paid}
	return u
}

// AddCampaign seeds a campaign owned by the company with ownerID.
func (s *Server) AddCampaign(ownerID int64, c model.Campaign) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		s.nextID++
		c.ID = s.nextID
	}
	if c.Status == "" {
		c.Status = model.CampaignOpen
	}
	cp := c
	s.campaigns[c.ID] = &cp
	s.owners[c.ID] = ownerID
	return c
}

// AddApplication seeds an application for a campaign.
func (s *Server) AddApplication(a model.Application) model.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		s.nextID++
		a.ID = s.nextID
	}
	if a.Status == "" {
		a.Status = model.ApplicationPending
	}
	cp := a
	s.applications[a.ID] = &cp
	return a
}

// SetAdmin seeds the admin queue, stats, logs and user list.
func (s *Server) SetAdmin(queue []model.AdminEntity, stats model.AdminStats, logs []model.SystemLog, users []model.AdminUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append([]model.AdminEntity(nil), queue...)
	s.stats = stats
	s.logs = append([]model.SystemLog(nil), logs...)
	s.users = append([]model.AdminUser(nil), users...)
}

// AppendLog adds an entry to the admin log feed.
func (s *Server) AppendLog(l model.SystemLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append([]model.SystemLog{l}, s.logs...)
}

// Campaign returns the backend's copy of a campaign.
func (s *Server) Campaign(id int64) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

// Application returns the backend's copy of an application.
func (s *Server) Application(id int64) model.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.applications[id]
}

// AwardCalls returns how many award requests arrived and how many succeeded.
func (s *Server) AwardCalls() (total, succeeded int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awardCalls, s.awardSuccess
}

// LogCalls returns how many times the admin log feed was read.
func (s *Server) LogCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logCalls
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users/me/{$}", s.handleMe)
	mux.HandleFunc("POST /api/users/login/{$}", s.handleLogin)
	mux.HandleFunc("POST /api/users/logout/{$}", s.handleLogout)
	mux.HandleFunc("POST /api/users/register/company/{$}", s.handleRegister(model.RoleCompany))
	mux.HandleFunc("POST /api/users/register/club/{$}", s.handleRegister(model.RoleClub))
	mux.HandleFunc("POST /api/users/invite/{$}", s.authed(func(w http.ResponseWriter, r *http.Request, u model.User) {
		writeJSON(w, http.StatusCreated, map[string]string{"message": "invited"})
	}))

	mux.HandleFunc("GET /api/campaigns/{$}", s.authed(s.handleListCampaigns))
	mux.HandleFunc("POST /api/campaigns/{$}", s.authed(s.handleCreateCampaign))
	mux.HandleFunc("GET /api/campaigns/{id}/{$}", s.authed(s.handleGetCampaign))
	mux.HandleFunc("POST /api/campaigns/{id}/apply/{$}", s.authed(s.handleApply))
	mux.HandleFunc("GET /api/campaigns/applications/me/{$}", s.authed(s.handleMyApplications))
	mux.HandleFunc("POST /api/campaigns/application/{id}/award/{$}", s.authed(s.handleAward))
	mux.HandleFunc("POST /api/campaigns/application/{id}/deliverable/{$}", s.authed(s.handleDeliverable))
	mux.HandleFunc("POST /api/campaigns/{id}/complete/{$}", s.authed(s.handleComplete))

	mux.HandleFunc("POST /api/payments/create-intent/{$}", s.authed(s.handleIntent))
	mux.HandleFunc("POST /api/payments/confirm/{id}/{$}", s.authed(s.handleConfirm))
	mux.HandleFunc("GET /api/payments/history/{$}", s.authed(func(w http.ResponseWriter, r *http.Request, u model.User) {
		writeJSON(w, http.StatusOK, []model.Transaction{})
	}))

	mux.HandleFunc("GET /api/users/admin/stats/{$}", s.admin(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.stats)
	}))
	mux.HandleFunc("GET /api/users/admin/queue/{$}", s.admin(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.queue)
	}))
	mux.HandleFunc("POST /api/users/admin/verify/{type}/{id}/{$}", s.admin(s.handleVerify))
	mux.HandleFunc("GET /api/users/admin/logs/{$}", s.admin(func(w http.ResponseWriter, r *http.Request) {
		s.logCalls++
		writeJSON(w, http.StatusOK, s.logs)
	}))
	mux.HandleFunc("GET /api/users/admin/entities/{$}", s.admin(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, model.Page[model.AdminUser]{Count: len(s.users), Results: s.users})
	}))
	mux.HandleFunc("POST /api/users/admin/users/{id}/block/{$}", s.admin(s.handleBlock))
	return mux
}

func (s *Server) currentUser(r *http.Request) (model.User, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return model.User{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.tokens[c.Value]
	if !ok {
		return model.User{}, false
	}
	return s.accounts[email].User, true
}

func (s *Server) authed(h func(http.ResponseWriter, *http.Request, model.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.currentUser(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
			return
		}
		h(w, r, u)
	}
}

func (s *Server) admin(h http.HandlerFunc) http.HandlerFunc {
	return s.authed(func(w http.ResponseWriter, r *http.Request, u model.User) {
		if u.Role != model.RoleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Admin access required."})
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		h(w, r)
	})
}

func (s *Server) issue(w http.ResponseWriter, email string) {
	s.nextID++
	token := "tok-" + strconv.FormatInt(s.nextID, 10)
	s.tokens[token] = email
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: token, Path: "/", HttpOnly: true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if s.MeStatus != 0 {
		writeJSON(w, s.MeStatus, map[string]string{"detail": "forced"})
		return
	}
	u, ok := s.currentUser(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Authentication credentials were not provided."})
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[body.Email]
	if !ok || acc.Password != body.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}
	s.issue(w, body.Email)
	writeJSON(w, http.StatusOK, map[string]any{"user": acc.User, "message": "Login successful"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.FailLogout {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "logout exploded"})
		return
	}
	if c, err := r.Cookie(cookieName); err == nil {
		s.mu.Lock()
		delete(s.tokens, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: cookieName, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleRegister(role model.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields := map[string]string{}
		if ct := r.Header.Get("Content-Type"); len(ct) >= 19 && ct[:19] == "multipart/form-data" {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			for k, v := range r.MultipartForm.Value {
				fields[k] = v[0]
			}
		} else {
			_ = json.NewDecoder(r.Body).Decode(&fields)
		}
		email := fields["email"]
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.accounts[email]; exists || email == "" {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"user with this email already exists."}})
			return
		}
		s.nextID++
		name := fields["company_name"]
		if role == model.RoleClub {
			name = fields["club_name"]
		}
		u := model.User{ID: s.nextID, Email: email, Role: role, Name: name, VerificationStatus: "PENDING", Tier: "FREE"}
		s.accounts[email] = &Account{Password: fields["password"], User: u}
		s.issue(w, email)
		writeJSON(w, http.StatusCreated, map[string]any{"user": u, "message": "Registered"})
	}
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request, u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mine := r.URL.Query().Get("mode") == "my_campaigns"
	out := []model.Campaign{}
	for id := int64(0); id <= s.nextID; id++ {
		c, ok := s.campaigns[id]
		if !ok {
			continue
		}
		if mine && s.owners[id] != u.ID {
			continue
		}
		cp := *c
		cp.Applications = nil
		out = append(out, cp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request, u model.User) {
	if u.Role != model.RoleCompany {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Only companies can post quests."})
		return
	}
	var draft model.CampaignDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil || draft.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"title": {"This field is required."}})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := model.Campaign{
		ID: s.nextID, Title: draft.Title, Description: draft.Description, Type: draft.Type,
		Budget: draft.Budget, Deadline: draft.Deadline, Status: model.CampaignOpen, Requirements: draft.Requirements,
	}
	s.campaigns[c.ID] = &c
	s.owners[c.ID] = u.ID
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request, u model.User) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	cp := *c
	cp.Applications = nil
	for aid := int64(0); aid <= s.nextID; aid++ {
		a, ok := s.applications[aid]
		if !ok || a.Campaign != id {
			continue
		}
		if u.Role == model.RoleCompany && s.owners[id] == u.ID {
			cp.Applications = append(cp.Applications, *a)
		}
		if u.Role == model.RoleClub && a.ClubUserID == u.ID {
			cp.MyApplication = &model.ApplicationRef{ID: a.ID, Status: a.Status}
		}
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, u model.User) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != model.CampaignOpen {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Campaign is not open."})
		return
	}
	for _, a := range s.applications {
		if a.Campaign == id && a.ClubUserID == u.ID {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "You have already applied."})
			return
		}
	}
	s.nextID++
	now := time.Now().UTC()
	a := model.Application{
		ID: s.nextID, Campaign: id, CampaignTitle: c.Title, ClubName: u.Name, ClubUserID: u.ID,
		Status: model.ApplicationPending, Message: body.Message, SubmittedAt: &now,
	}
	s.applications[a.ID] = &a
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleMyApplications(w http.ResponseWriter, r *http.Request, u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Application{}
	for id := int64(0); id <= s.nextID; id++ {
		if a, ok := s.applications[id]; ok && a.ClubUserID == u.ID {
			out = append(out, *a)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAward(w http.ResponseWriter, r *http.Request, u model.User) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awardCalls++
	a, ok := s.applications[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if s.owners[a.Campaign] != u.ID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "You do not own this campaign."})
		return
	}
	if !s.accounts[u.Email].Paid && !s.feesPaid[a.Campaign] {
		writeJSON(w, http.StatusPaymentRequired, map[string]string{
			"error": "Payment Required. Please pay the Finder's Fee to unlock this award.",
			"code":  "payment_required",
		})
		return
	}
	for _, other := range s.applications {
		if other.Campaign == a.Campaign && other.ID != a.ID {
			other.Status = model.ApplicationNotSelected
		}
	}
	a.Status = model.ApplicationAwarded
	s.campaigns[a.Campaign].Status = model.CampaignInProgress
	s.awardSuccess++
	writeJSON(w, http.StatusOK, map[string]string{"message": "Application awarded successfully."})
}

func (s *Server) handleDeliverable(w http.ResponseWriter, r *http.Request, u model.User) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"file": {"No file was submitted."}})
		return
	}
	_ = file.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.applications[id]
	if !ok || a.ClubUserID != u.ID {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not own this application."})
		return
	}
	if a.Status != model.ApplicationAwarded && a.Status != model.ApplicationSubmitted {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You can only upload deliverables for awarded applications."})
		return
	}
	s.nextID++
	now := time.Now().UTC()
	d := model.Deliverable{ID: s.nextID, File: "/media/deliverables/" + header.Filename, UploadedAt: &now}
	a.Deliverables = append(a.Deliverables, d)
	a.Status = model.ApplicationSubmitted
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, u model.User) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	var body struct {
		Rating   int    `json:"rating"`
		Rank     string `json:"rank"`
		Feedback string `json:"feedback"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	if s.owners[id] != u.ID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "You do not own this campaign."})
		return
	}
	if c.Status != model.CampaignInProgress {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Campaign must be in progress to complete."})
		return
	}
	c.Status = model.CampaignCompleted
	for _, a := range s.applications {
		if a.Campaign == id && (a.Status == model.ApplicationAwarded || a.Status == model.ApplicationSubmitted) {
			a.Status = model.ApplicationCompleted
		}
	}
	url := fmt.Sprintf("/media/reports/%d.pdf", id)
	writeJSON(w, http.StatusOK, map[string]any{"message": "Mission Accomplished. Campaign marked as completed.", "report_url": url})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request, u model.User) {
	var body struct {
		Amount     float64 `json:"amount"`
		Type       string  `json:"type"`
		CampaignID int64   `json:"campaign_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.intents[s.nextID] = body.CampaignID
	writeJSON(w, http.StatusCreated, map[string]any{"transactionId": s.nextID, "amount": body.Amount, "type": body.Type})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, u model.User) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	campaignID, ok := s.intents[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Transaction not found"})
		return
	}
	s.feesPaid[campaignID] = true
	writeJSON(w, http.StatusOK, map[string]string{"status": "SUCCESS"})
}

// handleVerify runs with mu held.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	typ := model.EntityType(r.PathValue("type"))
	if typ != model.EntityCompany && typ != model.EntityClub {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid entity type"})
		return
	}
	for i, e := range s.queue {
		if e.ID == id && e.Type == typ {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.stats.PendingReviews--
			writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "Entity not found"})
}

// handleBlock runs with mu held.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	for i := range s.users {
		if s.users[i].ID == id {
			s.users[i].IsActive = !s.users[i].IsActive
			writeJSON(w, http.StatusOK, map[string]any{"message": "ok", "is_active": s.users[i].IsActive})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "User not found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
