// Package guard decides whether a session may see a role-gated route.
//
// A session is in one of three states: loading, unauthenticated, or
// authenticated with a role. Loading renders a placeholder, unauthenticated
// goes to login (remembering where it was headed), and an authenticated
// session on another role's route is silently sent to its own home.
package guard

import (
	"questboard/internal/model"
	"questboard/internal/routepath"
	"questboard/internal/session"
)

// Status is the coarse session state the guard acts on.
type Status int

const (
	Loading Status = iota
	Unauthenticated
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// StatusOf classifies a session snapshot.
func StatusOf(st session.State) Status {
	switch {
	case st.Loading:
		return Loading
	case st.User == nil:
		return Unauthenticated
	default:
		return Authenticated
	}
}

// Kind is what the caller should do with the route.
type Kind int

const (
	Render Kind = iota
	Placeholder
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Render:
		return "render"
	case Placeholder:
		return "placeholder"
	case Redirect:
		return "redirect"
	}
	return "unknown"
}

// Decision is the outcome of Decide. Target is set only for redirects.
type Decision struct {
	Kind   Kind
	Target string
}

var homes = map[model.Role]string{
	model.RoleCompany: routepath.CompanyDashboard,
	model.RoleClub:    routepath.StudentDashboard,
	model.RoleAdmin:   routepath.Admin,
}

// HomeFor returns the landing page for role. It is total: a role outside the
// known set lands on the login page rather than on any protected content.
func HomeFor(role model.Role) string {
	if home, ok := homes[role]; ok {
		return home
	}
	return routepath.Login
}

// Decide applies the guard to a route that requires role. An empty required
// role means any authenticated session may render. requested is the
// path (with query) the client asked for and is preserved on login redirects.
func Decide(st session.State, required model.Role, requested string) Decision {
	switch StatusOf(st) {
	case Loading:
		return Decision{Kind: Placeholder}
	case Unauthenticated:
		return Decision{Kind: Redirect, Target: routepath.LoginWithNext(requested)}
	}

	role := st.User.Role
	if !role.Valid() {
		return Decision{Kind: Redirect, Target: routepath.Login}
	}
	if required == "" || role == required {
		return Decision{Kind: Render}
	}
	return Decision{Kind: Redirect, Target: HomeFor(role)}
}

// Landing returns where a freshly signed-in user goes: next when it is a
// safe local path, otherwise the role's home.
func Landing(role model.Role, next string) string {
	if next != "" && routepath.SafeNext(next) && next != routepath.Login {
		return next
	}
	return HomeFor(role)
}
