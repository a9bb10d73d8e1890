package models

// User is a registered profile row.
type User struct {
	ID       string `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// DisplayName returns the full name, falling back to the email.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}
