package models

// Visibility controls whether joining a group requires a password.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Group is a snapshot of a discovered or locally created chat group.
//
// Identity is the name alone; two records with the same name are the same group.
type Group struct {
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	Password   string     `json:"-"`
	Joined     bool       `json:"joined"`
	Unread     int        `json:"unread"`
}

// IsPublic reports whether the group can be joined without a password.
func (g Group) IsPublic() bool {
	return g.Visibility == VisibilityPublic
}
