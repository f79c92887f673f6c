package scoring

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ebailine/sivio/api/internal/entity"
)

// Keywords up to this length only match whole words so that "cto" does not
// fire inside "director" nor "hr" inside "three".
const wholeWordMaxLen = 4

// Scorer filters and ranks prospects by how useful they are for outreach.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	policy Policy
}

// New returns a scorer for the given policy.
func New(policy Policy) *Scorer {
	return &Scorer{policy: policy}
}

// Policy returns the table the scorer evaluates.
func (s *Scorer) Policy() Policy {
	return s.policy
}

// Process turns raw prospects for domain into ranked contacts. Generic role
// addresses and contacts scoring below the floor are dropped, duplicate ids
// keep their first occurrence and the result is capped.
func (s *Scorer) Process(records []entity.ProspectRecord, domain string) []entity.Contact {
	domain = strings.ToLower(strings.TrimSpace(domain))
	contacts := make([]entity.Contact, 0, len(records))
	seen := make(map[string]struct{}, len(records))

	for _, rec := range records {
		if rec.HasEmail() && s.IsGeneric(*rec.Email) {
			continue
		}
		score := s.Score(rec.Position)
		if score < s.policy.ScoreFloor {
			continue
		}

		contact := s.buildContact(rec, domain, score)
		if _, dup := seen[contact.ID]; dup {
			continue
		}
		seen[contact.ID] = struct{}{}
		contacts = append(contacts, contact)
	}

	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if a.IsKeyDecisionMaker != b.IsKeyDecisionMaker {
			return a.IsKeyDecisionMaker
		}
		if a.HasEmail != b.HasEmail {
			return a.HasEmail
		}
		if a.FullName != b.FullName {
			return a.FullName < b.FullName
		}
		return a.ID < b.ID
	})

	if s.policy.ResultCap > 0 && len(contacts) > s.policy.ResultCap {
		contacts = contacts[:s.policy.ResultCap]
	}
	return contacts
}

// Score evaluates the band table against a job title.
func (s *Scorer) Score(title string) int {
	norm := normalizeTitle(title)
	if norm == "" {
		return s.policy.MissingTitleScore
	}

	for _, band := range s.policy.Bands {
		if !matchesAny(norm, band.Keywords) || matchesAny(norm, band.Exclude) {
			continue
		}
		for _, rule := range band.Seniority {
			if matchesAny(norm, rule.Keywords) {
				return rule.Score
			}
		}
		return band.Score
	}
	return s.policy.DefaultScore
}

// IsGeneric reports whether an address belongs to a role mailbox rather than a person.
func (s *Scorer) IsGeneric(email string) bool {
	local := localPart(strings.ToLower(strings.TrimSpace(email)))
	if len(local) < s.policy.MinLocalPartLength {
		return true
	}
	for _, generic := range s.policy.GenericLocalParts {
		if strings.HasPrefix(local, strings.ToLower(generic)) {
			return true
		}
	}
	for _, generic := range s.policy.GenericExactLocalParts {
		generic = strings.ToLower(generic)
		if local == generic {
			return true
		}
		if strings.HasPrefix(local, generic) && strings.ContainsRune(".-_+", rune(local[len(generic)])) {
			return true
		}
	}
	return false
}

// IsKeyDecisionMaker reports whether the title carries leadership or hiring authority.
func (s *Scorer) IsKeyDecisionMaker(title string) bool {
	norm := normalizeTitle(title)
	return norm != "" && matchesAny(norm, s.policy.DecisionMakerKeywords)
}

// Department buckets a title; the first matching rule wins.
func (s *Scorer) Department(title string) string {
	norm := normalizeTitle(title)
	if norm != "" {
		for _, rule := range s.policy.Departments {
			if matchesAny(norm, rule.Keywords) {
				return rule.Name
			}
		}
	}
	return s.policy.DefaultDepartment
}

func (s *Scorer) buildContact(rec entity.ProspectRecord, domain string, score int) entity.Contact {
	fullName := strings.TrimSpace(strings.Join([]string{rec.FirstName, rec.LastName}, " "))

	contact := entity.Contact{
		FullName:           fullName,
		FirstName:          rec.FirstName,
		LastName:           rec.LastName,
		Position:           strings.TrimSpace(rec.Position),
		Department:         s.Department(rec.Position),
		RelevanceScore:     score,
		IsKeyDecisionMaker: s.IsKeyDecisionMaker(rec.Position),
		EmailStatus:        emailStatus(rec),
	}
	if rec.SourcePage != "" {
		page := rec.SourcePage
		contact.SourcePage = &page
	}

	if rec.HasEmail() {
		email := strings.ToLower(strings.TrimSpace(*rec.Email))
		contact.HasEmail = true
		contact.Email = &email
		contact.ID = domain + ":" + email
		if contact.FullName == "" {
			contact.FullName = localPart(email)
		}
		return contact
	}

	switch {
	case rec.SourcePage != "":
		contact.ID = domain + ":" + rec.SourcePage
	case fullName != "":
		contact.ID = domain + ":" + strings.ToLower(fullName)
	default:
		contact.ID = domain + ":" + normalizeTitle(rec.Position)
	}
	return contact
}

// Summarize returns the average relevance score and the number of key decision makers.
func Summarize(contacts []entity.Contact) (float64, int) {
	if len(contacts) == 0 {
		return 0, 0
	}
	total, keyCount := 0, 0
	for _, c := range contacts {
		total += c.RelevanceScore
		if c.IsKeyDecisionMaker {
			keyCount++
		}
	}
	return float64(total) / float64(len(contacts)), keyCount
}

func emailStatus(rec entity.ProspectRecord) string {
	if !rec.HasEmail() {
		return entity.EmailStatusUnverified
	}
	switch strings.ToLower(strings.TrimSpace(rec.SMTPStatus)) {
	case "valid":
		return entity.EmailStatusValid
	case "invalid", "not_valid", "not valid":
		return entity.EmailStatusInvalid
	case "catch-all", "catch_all", "catchall", "accept_all":
		return entity.EmailStatusCatchAll
	default:
		return entity.EmailStatusUnknown
	}
}

func localPart(email string) string {
	if at := strings.IndexByte(email, '@'); at >= 0 {
		return email[:at]
	}
	return email
}

// normalizeTitle lower-cases a title and collapses punctuation to single spaces.
func normalizeTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

func matchesAny(norm string, keywords []string) bool {
	padded := " " + norm + " "
	for _, kw := range keywords {
		kw = normalizeTitle(kw)
		if kw == "" {
			continue
		}
		if len(kw) <= wholeWordMaxLen && !strings.Contains(kw, " ") {
			if strings.Contains(padded, " "+kw+" ") {
				return true
			}
			continue
		}
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}
