package entitlements

import (
	"strings"

	"github.com/MarioFuchs/StreamVault/app/models"
)

type Role string

const (
	RoleFree  Role = models.RoleFree
	RolePro   Role = models.RolePro
	RoleAdmin Role = models.RoleAdmin
)

func NormalizeRole(role string) Role {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(RolePro):
		return RolePro
	case string(RoleAdmin):
		return RoleAdmin
	default:
		return RoleFree
	}
}

func RoleRank(role Role) int {
	switch role {
	case RoleAdmin:
		return 2
	case RolePro:
		return 1
	default:
		return 0
	}
}

// IsEntitlingStatus reports whether a provider subscription status grants
// pro access.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return true
	default:
		return false
	}
}

// IsRevokingStatus reports whether a provider subscription status ends
// pro access.
func IsRevokingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "unpaid", "past_due", "canceled", "incomplete", "incomplete_expired":
		return true
	default:
		return false
	}
}

// RoleForSubscriptionStatus is the single place that decides whether a
// provider subscription status changes the local entitlement role.
// Handlers must not set roles directly. The bool result is false for
// statuses outside the transition table (e.g. "paused"): those leave the
// current role untouched.
func RoleForSubscriptionStatus(status string) (Role, bool) {
	switch {
	case IsEntitlingStatus(status):
		return RolePro, true
	case IsRevokingStatus(status):
		return RoleFree, true
	default:
		return RoleFree, false
	}
}

// NextRole applies a status-derived transition to a current role. Admin
// is not billing-derived and never changes in response to billing events.
// The bool result reports whether the role actually changed.
func NextRole(current string, status string) (Role, bool) {
	cur := NormalizeRole(current)
	if cur == RoleAdmin {
		return RoleAdmin, false
	}
	next, known := RoleForSubscriptionStatus(status)
	if !known {
		return cur, false
	}
	return next, next != cur
}
