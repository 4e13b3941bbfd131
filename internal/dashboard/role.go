package dashboard

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the closed set of dashboard audiences.
type Role int

const (
	RoleUnknown Role = iota
	RoleAdmin
	RoleCharterer
	RoleBroker
	RoleShipowner
	RoleInspector
	RoleViewer
)

var roleNames = map[Role]string{
	RoleAdmin:     "admin",
	RoleCharterer: "charterer",
	RoleBroker:    "broker",
	RoleShipowner: "owner",
	RoleInspector: "inspector",
	RoleViewer:    "viewer",
}

// ParseRole maps a stored user role onto a Role. "owner" and "shipowner" are synonyms.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin, nil
	case "charterer":
		return RoleCharterer, nil
	case "broker":
		return RoleBroker, nil
	case "owner", "shipowner":
		return RoleShipowner, nil
	case "inspector":
		return RoleInspector, nil
	case "viewer":
		return RoleViewer, nil
	}
	return RoleUnknown, fmt.Errorf("unsupported role %q", s)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// AccessLevel is the dashboard access granted to a role.
func (r Role) AccessLevel() string {
	switch r {
	case RoleAdmin:
		return AccessFull
	case RoleCharterer, RoleBroker, RoleShipowner:
		return AccessStandard
	case RoleInspector:
		return AccessReadOnly
	}
	return AccessNone
}

const (
	AccessFull     = "full"
	AccessStandard = "standard"
	AccessReadOnly = "read_only"
	AccessNone     = "none"
)
