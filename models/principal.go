package models

import "strconv"

type UserRole string

const (
	RoleAdmin     UserRole = "admin"
	RoleOrganizer UserRole = "organizer"
	RolePlayer    UserRole = "player"
	RoleSystem    UserRole = "system"
)

// Principal представляет аутентифицированного субъекта запроса. UserID служит ключом тенанта.
type Principal struct {
	UserID int      `json:"user_id"`
	Role   UserRole `json:"role"`
	Device string   `json:"device,omitempty"`
}

// SystemPrincipal is used by the scheduling loop; it may act on any tournament.
func SystemPrincipal() Principal {
	return Principal{Role: RoleSystem, Device: "scheduler"}
}

// CanManage reports whether the principal owns the tournament.
func (p Principal) CanManage(t *Tournament) bool {
	if t == nil {
		return false
	}
	if p.Role == RoleAdmin || p.Role == RoleSystem {
		return true
	}
	return p.UserID != 0 && p.UserID == t.OrganizerID
}

// Actor is the identifier recorded on audit events.
func (p Principal) Actor() string {
	if p.Role == RoleSystem {
		return "system"
	}
	return "user:" + strconv.Itoa(p.UserID)
}
