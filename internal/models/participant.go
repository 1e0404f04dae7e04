package models

// Participant is a staff member that can take part in conversations.
type Participant struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Active      bool   `db:"active" json:"active"`
}
