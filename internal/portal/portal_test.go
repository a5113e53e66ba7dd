package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"questboard/internal/auth"
	"questboard/internal/backend/backendtest"
	"questboard/internal/model"
	"questboard/internal/store"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	backend  *backendtest.Server
	sessions store.Sessions
	portal   *httptest.Server
	server   *Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &harness{backend: backendtest.New(t), sessions: store.NewMemory()}
	h.start(t)
	return h
}

// start (re)boots the portal over the same backend and session store.
func (h *harness) start(t *testing.T) {
	t.Helper()
	reg := NewRegistry(RegistryConfig{BaseURL: h.backend.BaseURL(), BackendTimeout: 5 * time.Second}, h.sessions, quietLogger)
	h.server = New(Config{
		SigningKey:    "test-signing-key",
		Issuer:        "questboard-test",
		PollInterval:  20 * time.Millisecond,
		BootstrapWait: 2 * time.Second,
	}, reg, quietLogger)
	if h.portal != nil {
		h.portal.Close()
	}
	h.portal = httptest.NewServer(h.server.Router())
	t.Cleanup(h.portal.Close)
}

type browser struct {
	t      *testing.T
	h      *harness
	jar    http.CookieJar
	client *http.Client
}

func (h *harness) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:   t,
		h:   h,
		jar: jar,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) send(req *http.Request) (*http.Response, map[string]any) {
	b.t.Helper()
	res, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer res.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(res.Body)
	require.NoError(b.t, err)
	if len(raw) > 0 {
		require.NoError(b.t, json.Unmarshal(raw, &out), string(raw))
	}
	return res, out
}

func (b *browser) get(path string) (*http.Response, map[string]any) {
	req, err := http.NewRequest(http.MethodGet, b.h.portal.URL+path, nil)
	require.NoError(b.t, err)
	return b.send(req)
}

func (b *browser) post(path string, body any) (*http.Response, map[string]any) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, b.h.portal.URL+path, r)
	require.NoError(b.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return b.send(req)
}

func (b *browser) login(email, password string) map[string]any {
	res, body := b.post("/auth/login", gin.H{"email": email, "password": password})
	require.Equal(b.t, http.StatusOK, res.StatusCode, body)
	return body
}

// sessionID reads the portal session id out of the browser's cookie.
func (b *browser) sessionID() string {
	b.t.Helper()
	u, err := url.Parse(b.h.portal.URL)
	require.NoError(b.t, err)
	for _, c := range b.jar.Cookies(u) {
		if c.Name == auth.CookieName {
			claims, err := auth.Parse(c.Value, "test-signing-key", "questboard-test")
			require.NoError(b.t, err)
			return claims.SessionID
		}
	}
	return ""
}

func TestUnauthenticatedRedirectsToLoginWithNext(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	res, body := b.get("/company/dashboard?tab=active")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	want := "/login?next=%2Fcompany%2Fdashboard%3Ftab%3Dactive"
	assert.Equal(t, want, res.Header.Get("Location"))
	assert.Equal(t, want, body["redirect"])
}

func TestWrongRoleRedirectsToOwnHome(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("club@uni.edu", "pw", model.RoleClub, false)
	b := h.browser(t)
	b.login("club@uni.edu", "pw")

	res, body := b.get("/company/dashboard")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/student/dashboard", res.Header.Get("Location"))
	assert.Equal(t, "/student/dashboard", body["redirect"])

	res, _ = b.get("/admin")
	assert.Equal(t, "/student/dashboard", res.Header.Get("Location"))

	res, body = b.get("/student/dashboard")
	assert.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Contains(t, body, "open_bounties")
}

func TestLoginIssuesRoleCookieAndLands(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("acme@corp.io", "pw", model.RoleCompany, false)
	b := h.browser(t)

	res, body := b.post("/auth/login", gin.H{"email": "acme@corp.io", "password": "pw", "next": "/company/treasury"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "/company/treasury", body["redirect"])

	var cookie *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	claims, err := auth.Parse(cookie.Value, "test-signing-key", "questboard-test")
	require.NoError(t, err)
	assert.Equal(t, model.RoleCompany, claims.Role)
	assert.True(t, cookie.HttpOnly)

	_, state := b.get("/auth/state")
	assert.Equal(t, "authenticated", state["state"])
	assert.Equal(t, "/company/dashboard", state["home"])

	res, body = b.get("/company/treasury")
	assert.Equal(t, http.StatusOK, res.StatusCode, body)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("acme@corp.io", "pw", model.RoleCompany, false)
	b := h.browser(t)

	res, body := b.post("/auth/login", gin.H{"email": "acme@corp.io", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "Invalid credentials", body["error"])

	_, state := b.get("/auth/state")
	assert.Equal(t, "unauthenticated", state["state"])
}

func TestLogoutClearsSessionEvenWhenBackendFails(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("club@uni.edu", "pw", model.RoleClub, false)
	b := h.browser(t)
	b.login("club@uni.edu", "pw")
	h.backend.FailLogout = true

	res, body := b.post("/auth/logout", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "/login", body["redirect"])

	res, _ = b.get("/student/dashboard")
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login?next=%2Fstudent%2Fdashboard", res.Header.Get("Location"))
}

func TestSessionSurvivesPortalRestart(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("club@uni.edu", "pw", model.RoleClub, false)
	b := h.browser(t)
	b.login("club@uni.edu", "pw")

	h.start(t)

	res, body := b.get("/student/dashboard")
	assert.Equal(t, http.StatusOK, res.StatusCode, body)
}

func TestAnonymousAuthStateCreatesNoSessions(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 50; i++ {
		b := h.browser(t)
		res, body := b.get("/auth/state")
		require.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "unauthenticated", body["state"])
		assert.Empty(t, b.sessionID())
	}
	assert.Equal(t, 0, h.server.reg.Len())
}

func TestIdleSessionIsEvictedAndRehydrated(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("club@uni.edu", "pw", model.RoleClub, false)
	b := h.browser(t)
	b.login("club@uni.edu", "pw")
	id := b.sessionID()
	require.Equal(t, 1, h.server.reg.Len())

	reg := h.server.reg
	reg.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 1, reg.Sweep())
	assert.Equal(t, 0, reg.Len())
	reg.now = time.Now

	res, body := b.get("/student/dashboard")
	assert.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, id, b.sessionID())
	assert.Equal(t, 1, reg.Len())
}

func TestSwitchingUserStartsFreshSession(t *testing.T) {
	h := newHarness(t)
	a := h.backend.AddAccount("acme@corp.io", "pw", model.RoleCompany, false)
	h.backend.AddAccount("guild@corp.io", "pw", model.RoleCompany, false)
	camp := h.backend.AddCampaign(a.ID, model.Campaign{Title: "Hackathon", Budget: 500})
	app := h.backend.AddApplication(model.Application{Campaign: camp.ID, ClubName: "Robotics"})
	b := h.browser(t)
	b.login("acme@corp.io", "pw")
	first := b.sessionID()

	manage := "/manage-campaign/" + strconv.FormatInt(camp.ID, 10)
	res, _ := b.post(manage+"/award/"+strconv.FormatInt(app.ID, 10), nil)
	require.Equal(t, http.StatusPaymentRequired, res.StatusCode)

	body := b.login("guild@corp.io", "pw")
	assert.Equal(t, "guild@corp.io", body["user"].(map[string]any)["email"])
	second := b.sessionID()
	assert.NotEqual(t, first, second)

	_, err := h.sessions.Get(context.Background(), first)
	assert.ErrorIs(t, err, store.ErrNotFound)
	rec, err := h.sessions.Get(context.Background(), second)
	require.NoError(t, err)
	require.NotNil(t, rec.User)
	assert.Equal(t, "guild@corp.io", rec.User.Email)

	res, _ = b.post(manage+"/pay", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	total, _ := h.backend.AwardCalls()
	assert.Equal(t, 1, total)

	_, state := b.get("/auth/state")
	assert.Equal(t, "guild@corp.io", state["user"].(map[string]any)["email"])
}

func TestSameUserLoginKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("club@uni.edu", "pw", model.RoleClub, false)
	b := h.browser(t)
	b.login("club@uni.edu", "pw")
	id := b.sessionID()

	b.login("club@uni.edu", "pw")
	assert.Equal(t, id, b.sessionID())
	assert.Equal(t, 1, h.server.reg.Len())
}

func TestCompanyDashboardTabs(t *testing.T) {
	h := newHarness(t)
	co := h.backend.AddAccount("acme@corp.io", "pw", model.RoleCompany, false)
	h.backend.AddCampaign(co.ID, model.Campaign{Title: "Open", Status: model.CampaignOpen})
	h.backend.AddCampaign(co.ID, model.Campaign{Title: "Running", Status: model.CampaignInProgress})
	h.backend.AddCampaign(co.ID, model.Campaign{Title: "Done", Status: model.CampaignCompleted})
	b := h.browser(t)
	b.login("acme@corp.io", "pw")

	res, body := b.get("/company/dashboard?tab=active")
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	campaigns := body["campaigns"].([]any)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "Running", campaigns[0].(map[string]any)["title"])
	assert.Equal(t, map[string]any{"recruiting": 1.0, "active": 1.0, "completed": 1.0}, body["counts"])

	res, _ = b.get("/company/dashboard?tab=bogus")
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAwardPaymentDetourAwardsOnce(t *testing.T) {
	h := newHarness(t)
	co := h.backend.AddAccount("acme@corp.io", "pw", model.RoleCompany, false)
	club := h.backend.AddAccount("club@uni.edu", "pw", model.RoleClub, false)
	camp := h.backend.AddCampaign(co.ID, model.Campaign{Title: "Hackathon", Budget: 500})
	app := h.backend.AddApplication(model.Application{Campaign: camp.ID, ClubName: "Robotics", ClubUserID: club.ID})
	b := h.browser(t)
	b.login("acme@corp.io", "pw")

	manage := "/manage-campaign/" + strconv.FormatInt(camp.ID, 10)
	res, body := b.post(manage+"/award/"+strconv.FormatInt(app.ID, 10), nil)
	require.Equal(t, http.StatusPaymentRequired, res.StatusCode, body)
	assert.Equal(t, true, body["payment_required"])
	assert.Equal(t, 100.0, body["amount"])

	_, body = b.get(manage)
	assert.Contains(t, body, "pending_award")

	res, body = b.post(manage+"/pay", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, "IN_PROGRESS", body["campaign"].(map[string]any)["status"])

	res, _ = b.post(manage+"/pay", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	total, succeeded := h.backend.AwardCalls()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, model.ApplicationAwarded, h.backend.Application(app.ID).Status)
}

func TestCancelPendingAward(t *testing.T) {
	h := newHarness(t)
	co := h.backend.AddAccount("acme@corp.io", "pw", model.RoleCompany, false)
	camp := h.backend.AddCampaign(co.ID, model.Campaign{Title: "Hackathon"})
	app := h.backend.AddApplication(model.Application{Campaign: camp.ID, ClubName: "Robotics"})
	b := h.browser(t)
	b.login("acme@corp.io", "pw")

	manage := "/manage-campaign/" + strconv.FormatInt(camp.ID, 10)
	res, _ := b.post(manage+"/award/"+strconv.FormatInt(app.ID, 10), nil)
	require.Equal(t, http.StatusPaymentRequired, res.StatusCode)

	res, body := b.post(manage+"/pay", gin.H{"cancel": true})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["cancelled"])

	res, _ = b.post(manage+"/pay", nil)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
}

func TestCompleteWithRating(t *testing.T) {
	h := newHarness(t)
	co := h.backend.AddAccount("pro@corp.io", "pw", model.RoleCompany, true)
	camp := h.backend.AddCampaign(co.ID, model.Campaign{Title: "Launch", Status: model.CampaignInProgress})
	b := h.browser(t)
	b.login("pro@corp.io", "pw")

	path := "/manage-campaign/" + strconv.FormatInt(camp.ID, 10) + "/complete"
	res, _ := b.post(path, gin.H{"rating": 7})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := b.post(path, gin.H{"rating": 5, "feedback": "stellar"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.NotEmpty(t, body["report_url"])
	assert.Equal(t, model.CampaignCompleted, h.backend.Campaign(camp.ID).Status)
}

func TestClubApplyAndDeliver(t *testing.T) {
	h := newHarness(t)
	co := h.backend.AddAccount("pro@corp.io", "pw", model.RoleCompany, true)
	h.backend.AddAccount("club@uni.edu", "pw", model.RoleClub, false)
	camp := h.backend.AddCampaign(co.ID, model.Campaign{Title: "Hackathon"})
	b := h.browser(t)
	b.login("club@uni.edu", "pw")

	_, body := b.get("/quests")
	require.Len(t, body["quests"], 1)

	quest := "/quest/" + strconv.FormatInt(camp.ID, 10)
	_, body = b.get(quest)
	assert.Equal(t, true, body["can_apply"])

	res, body := b.post(quest+"/apply", gin.H{"message": "pick us"})
	require.Equal(t, http.StatusCreated, res.StatusCode, body)
	appID := int64(body["application"].(map[string]any)["id"].(float64))

	res, body = b.post(quest+"/apply", gin.H{"message": "again"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "You have already applied.", body["error"])

	_, body = b.get(quest)
	assert.Equal(t, false, body["can_apply"])

	deliver := "/quest/deliver/" + strconv.FormatInt(appID, 10)
	res, _ = b.post(deliver, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, "missing file")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "report.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF-1.4"))
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, h.portal.URL+deliver, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	pending := req.Clone(context.Background())
	pending.Body = io.NopCloser(bytes.NewReader(buf.Bytes()))
	res, _ = b.send(pending)
	assert.Equal(t, http.StatusForbidden, res.StatusCode, "not awarded yet")

	company := h.browser(t)
	company.login("pro@corp.io", "pw")
	res, body = company.post("/manage-campaign/"+strconv.FormatInt(camp.ID, 10)+"/award/"+strconv.FormatInt(appID, 10), nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)

	res, body = b.send(req)
	require.Equal(t, http.StatusCreated, res.StatusCode, body)
	assert.Equal(t, "/media/deliverables/report.pdf", body["deliverable"].(map[string]any)["file"])
	assert.Equal(t, model.ApplicationSubmitted, h.backend.Application(appID).Status)
}

func TestAdminVerdictAndToggleBlock(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("root@questboard.io", "pw", model.RoleAdmin, false)
	h.backend.SetAdmin(
		[]model.AdminEntity{
			{ID: 7, Type: model.EntityClub, Name: "Robotics"},
			{ID: 7, Type: model.EntityCompany, Name: "Guild"},
		},
		model.AdminStats{PendingReviews: 2, SystemFlags: 1, TotalUsers: 10, Revenue: "50.00"},
		nil,
		[]model.AdminUser{{ID: 11, Email: "a@x.io", Role: model.RoleClub, IsActive: true}},
	)
	b := h.browser(t)
	b.login("root@questboard.io", "pw")

	res, body := b.get("/admin")
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	require.Len(t, body["queue"], 2)

	res, body = b.post("/admin/verify/club/7", gin.H{"action": "approve"})
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	view := body["view"].(map[string]any)
	queue := view["queue"].([]any)
	require.Len(t, queue, 1)
	assert.Equal(t, "COMPANY", queue[0].(map[string]any)["type"])
	stats := view["stats"].(map[string]any)
	assert.Equal(t, 1.0, stats["pending_reviews"])
	assert.Equal(t, 1.0, stats["system_flags"])

	res, _ = b.post("/admin/verify/club/7", gin.H{"action": "shrug"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body = b.get("/admin/entities?role=club")
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, 1.0, body["count"])

	res, body = b.post("/admin/entities/11/block", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, body)
	assert.Equal(t, false, body["is_active"])
}

func TestAdminLogSocketStreamsUntilClosed(t *testing.T) {
	h := newHarness(t)
	h.backend.AddAccount("root@questboard.io", "pw", model.RoleAdmin, false)
	h.backend.SetAdmin(nil, model.AdminStats{}, []model.SystemLog{{ID: 1, Category: "AUTH", Level: "INFO", Message: "boot"}}, nil)
	b := h.browser(t)
	b.login("root@questboard.io", "pw")

	dialer := websocket.Dialer{Jar: b.jar, HandshakeTimeout: 2 * time.Second}
	wsURL := "ws" + strings.TrimPrefix(h.portal.URL, "http") + "/admin/logs/ws"
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		var frame logFrame
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&frame))
		require.Len(t, frame.Logs, 1)
		assert.Equal(t, "boot", frame.Logs[0].Message)
	}
	require.NoError(t, conn.Close())

	// Polling stops once the socket is gone.
	time.Sleep(100 * time.Millisecond)
	calls := h.backend.LogCalls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, h.backend.LogCalls())
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	res, body := b.get("/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header.Get("X-Frame-Options"))
	assert.Empty(t, res.Header.Get("Strict-Transport-Security"), "no HSTS outside release mode")

	h.server.AddHealthCheck("redis", func(context.Context) bool { return false })
	res, body = b.get("/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, false, body["redis"])
}

func TestCredentialRoutesAreRateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	be := backendtest.New(t)
	reg := NewRegistry(RegistryConfig{BaseURL: be.BaseURL()}, nil, quietLogger)
	srv := New(Config{SigningKey: "k", Issuer: "i", RateLimitPerMin: 1}, reg, quietLogger)
	r := srv.Router()

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"x@y.z","password":"p"}`))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, http.StatusUnauthorized, codes[0])
	assert.Equal(t, http.StatusTooManyRequests, codes[1])
}
