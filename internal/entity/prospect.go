package entity

// ProspectRecord is a raw person record returned by the external domain search.
// Email is nil when the provider knows the person but has no address for them.
type ProspectRecord struct {
	Email      *string `json:"email,omitempty"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Position   string  `json:"position"`
	SourcePage string  `json:"source_page,omitempty"`
	SMTPStatus string  `json:"smtp_status,omitempty"`
}

// HasEmail reports whether the prospect carries an address.
func (p ProspectRecord) HasEmail() bool {
	return p.Email != nil && *p.Email != ""
}

// CompanyProfile is the company-level payload of a provider domain search.
type CompanyProfile struct {
	Domain         string   `json:"domain"`
	Name           string   `json:"name"`
	Industry       string   `json:"industry"`
	Size           string   `json:"size"`
	Locations      []string `json:"locations"`
	Departments    []string `json:"departments"`
	Phone          string   `json:"phone"`
	ProspectsCount int      `json:"prospects_count"`
}
