package entity

// Email verification states exposed on a Contact.
const (
	EmailStatusValid      = "valid"
	EmailStatusInvalid    = "invalid"
	EmailStatusCatchAll   = "catch-all"
	EmailStatusUnknown    = "unknown"
	EmailStatusUnverified = "unverified"
)

// Contact is a scored prospect ready to be shown to a student.
type Contact struct {
	ID                 string  `json:"id"`
	FullName           string  `json:"full_name"`
	FirstName          string  `json:"first_name,omitempty"`
	LastName           string  `json:"last_name,omitempty"`
	Position           string  `json:"position,omitempty"`
	Department         string  `json:"department"`
	RelevanceScore     int     `json:"relevance_score"`
	IsKeyDecisionMaker bool    `json:"is_key_decision_maker"`
	HasEmail           bool    `json:"has_email"`
	Email              *string `json:"email,omitempty"`
	EmailStatus        string  `json:"email_status"`
	SourcePage         *string `json:"source_page,omitempty"`
}
