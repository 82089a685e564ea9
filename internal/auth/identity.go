package auth

const (
	RoleDriver  = "driver"
	RoleAdmin   = "admin"
	RoleCSStaff = "cs_staff"
)

// Identity is the authenticated caller as supplied by the identity service.
type Identity struct {
	UserID int64
	Email  string
	Role   string
}

// IsElevated reports whether the caller may act on other users' resources.
func (i Identity) IsElevated() bool {
	return i.Role == RoleAdmin || i.Role == RoleCSStaff
}

// CanAccess reports whether the caller owns the resource or is elevated.
func (i Identity) CanAccess(ownerID int64) bool {
	return i.UserID == ownerID || i.IsElevated()
}
