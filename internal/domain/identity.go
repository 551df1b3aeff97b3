package domain

// Role represents an actor's authorization level
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Actor is the identity a workflow executes as
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsElevated reports whether the actor bypasses tenant scoping
func (a Actor) IsElevated() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

// Owns reports whether a record with the given owner id may be touched by the actor
func (a Actor) Owns(ownerID any) bool {
	if a.IsElevated() {
		return true
	}
	id, ok := ownerID.(string)
	return ok && id != "" && id == a.ID
}
