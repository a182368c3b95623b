package auth

import (
	"strings"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Action is something an identity may attempt on the fleet.
type Action string

const (
	ActionView        Action = "view"
	ActionSummary     Action = "summary"
	ActionEscalate    Action = "escalate"
	ActionCheckout    Action = "checkout"
	ActionCheckIn     Action = "checkin"
	ActionWait        Action = "wait"
	ActionRecall      Action = "recall"
	ActionMaintenance Action = "maintenance"
	ActionReset       Action = "reset"
	ActionInitialize  Action = "initialize"
	ActionExport      Action = "export"
)

// Policy decides whether an identity may perform an action.
type Policy interface {
	Authorize(identity *models.Claims, action Action) bool
}

var readActions = map[Action]bool{
	ActionView:     true,
	ActionSummary:  true,
	ActionEscalate: true,
}

// AllowListPolicy grants write access to a fixed set of admin emails.
// Every authenticated identity may read, copy summaries and escalate.
type AllowListPolicy struct {
	admins map[string]struct{}
}

// NewAllowListPolicy builds a policy from admin emails, compared case-insensitively.
func NewAllowListPolicy(emails []string) *AllowListPolicy {
	admins := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			admins[e] = struct{}{}
		}
	}
	return &AllowListPolicy{admins: admins}
}

// IsAdmin reports whether email is on the allow-list.
func (p *AllowListPolicy) IsAdmin(email string) bool {
	_, ok := p.admins[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// RoleFor is the role stored for a new account with this email.
func (p *AllowListPolicy) RoleFor(email string) models.Role {
	if p.IsAdmin(email) {
		return models.RoleAdmin
	}
	return models.RoleViewer
}

// Authorize implements Policy.
func (p *AllowListPolicy) Authorize(identity *models.Claims, action Action) bool {
	if identity == nil || identity.Email == "" {
		return false
	}
	if readActions[action] {
		return true
	}
	return p.IsAdmin(identity.Email)
}
