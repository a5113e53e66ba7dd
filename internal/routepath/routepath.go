// Package routepath stores canonical portal paths.
package routepath

import (
	"net/url"
	"strings"
)

const (
	Root   = "/"
	Login  = "/login"
	Health = "/healthz"

	AuthState           = "/auth/state"
	AuthLogin           = "/auth/login"
	AuthLogout          = "/auth/logout"
	AuthRegisterCompany = "/auth/register/company"
	AuthRegisterClub    = "/auth/register/club"

	CompanyDashboard      = "/company/dashboard"
	CompanyTreasury       = "/company/treasury"
	CampaignNew           = "/campaign/new"
	ManageCampaignPattern = "/manage-campaign/:id"
	ManageAwardPattern    = "/manage-campaign/:id/award/:applicationId"
	ManagePayPattern      = "/manage-campaign/:id/pay"
	ManageCompletePattern = "/manage-campaign/:id/complete"
	StudentDashboard      = "/student/dashboard"
	StudentInvite         = "/student/invite"
	Quests                = "/quests"
	QuestPattern          = "/quest/:id"
	QuestApplyPattern     = "/quest/:id/apply"
	QuestDeliverPattern   = "/quest/deliver/:applicationId"
	Admin                 = "/admin"
	AdminVerifyPattern    = "/admin/verify/:type/:id"
	AdminEntities         = "/admin/entities"
	AdminBlockPattern     = "/admin/entities/:id/block"
	AdminLogs             = "/admin/logs"
	AdminLogsSocket       = "/admin/logs/ws"
)

// LoginWithNext returns the login path that returns to next after sign-in.
// Only same-site absolute paths are preserved.
func LoginWithNext(next string) string {
	if !SafeNext(next) || next == Login {
		return Login
	}
	return Login + "?next=" + url.QueryEscape(next)
}

// SafeNext reports whether next is a local path that is safe to redirect to.
func SafeNext(next string) bool {
	return strings.HasPrefix(next, "/") && !strings.HasPrefix(next, "//") && !strings.Contains(next, "\\")
}
