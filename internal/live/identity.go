package live

// Identity is the caller resolved from a connection credential.
// A nil *Identity means the connection is anonymous.
type Identity struct {
	UserID string
}

// UserIDOf returns the identity's user id, or "" for anonymous connections.
func UserIDOf(id *Identity) string {
	if id == nil {
		return ""
	}
	return id.UserID
}
