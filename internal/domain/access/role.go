// Package access implements caller roles, their persistence and the
// navigation surface each role may reach.
package access

// Role represents the caller's assigned role
type Role string

const (
	RolePatient  Role = "patient"
	RolePharmacy Role = "pharmacy"
	RoleAdmin    Role = "admin"
)

// DefaultRole applies whenever no valid role is stored
const DefaultRole = RolePatient

// ParseRole validates a stored or submitted role value
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RolePatient, RolePharmacy, RoleAdmin:
		return r, true
	}
	return "", false
}

// Capability is an action a role is allowed to perform
type Capability string

const (
	CapScan        Capability = "scan"
	CapDashboard   Capability = "dashboard"
	CapDemoCodes   Capability = "demo_codes"
	CapSettings    Capability = "settings"
	CapReport      Capability = "report_counterfeit"
	CapBatchVerify Capability = "batch_verify"
	CapAdmin       Capability = "admin"
)

var baseCapabilities = []Capability{CapScan, CapDashboard, CapDemoCodes, CapSettings, CapReport}

// Capabilities derives the capability set available to a role
func Capabilities(role Role) []Capability {
	caps := append([]Capability(nil), baseCapabilities...)
	switch role {
	case RolePharmacy:
		caps = append(caps, CapBatchVerify)
	case RoleAdmin:
		caps = append(caps, CapBatchVerify, CapAdmin)
	}
	return caps
}

// Can reports whether role holds capability c
func Can(role Role, c Capability) bool {
	for _, have := range Capabilities(role) {
		if have == c {
			return true
		}
	}
	return false
}

// BadgeColor returns the display colour token used for the role badge
func BadgeColor(role Role) string {
	switch role {
	case RoleAdmin:
		return "warning"
	case RolePharmacy:
		return "genuine"
	default:
		return "primary"
	}
}
