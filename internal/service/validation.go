package service

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/net/idna"

	"github.com/ebailine/sivio/api/internal/entity"
)

var (
	emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-']+@[a-z0-9.-]+\.[a-z]{2,}$`)
	idnaProfile  = idna.Lookup
)

const (
	trackingPrefix     = "utm_"
	defaultPhoneRegion = "US"
	maxJobTitleLength  = 200
)

// NormalizeDomain reduces user input such as "https://www.Stripe.com/jobs" to
// its registrable host in ASCII form ("stripe.com").
func NormalizeDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: domain is required", ErrInvalidDomain)
	}

	host := raw
	if strings.Contains(raw, "/") || strings.Contains(raw, ":") {
		u, err := sanitizeURL(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
		}
		host = u.Hostname()
	}
	if at := strings.LastIndexByte(host, '@'); at >= 0 {
		host = host[at+1:]
	}

	host = strings.ToLower(strings.Trim(host, "."))
	host = strings.TrimPrefix(host, "www.")

	ascii, err := idnaProfile.ToASCII(host)
	if err != nil || ascii == "" || !isDomainValid(ascii) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return ascii, nil
}

func normalizeJobTitle(raw string) (string, error) {
	title := strings.Join(strings.Fields(raw), " ")
	if title == "" {
		return "", fmt.Errorf("%w: job title is required", ErrInvalidJobTitle)
	}
	if len([]rune(title)) > maxJobTitleLength {
		return "", fmt.Errorf("%w: job title longer than %d characters", ErrInvalidJobTitle, maxJobTitleLength)
	}
	return title, nil
}

// hashJobDescription returns the hex SHA-256 of the trimmed description, or nil
// when there is no description to key on.
func hashJobDescription(description *string) *string {
	if description == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*description)
	if trimmed == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(trimmed))
	hash := hex.EncodeToString(sum[:])
	return &hash
}

func normalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !emailPattern.MatchString(email) {
		return "", false
	}
	parts := strings.SplitN(email, "@", 2)
	if !isDomainValid(parts[1]) {
		return "", false
	}
	if _, err := idnaProfile.ToASCII(parts[1]); err != nil {
		return "", false
	}
	return email, true
}

// cleanProspects lower-cases addresses, demotes malformed ones to email-less
// records and strips tracking parameters from source pages.
func cleanProspects(records []entity.ProspectRecord) []entity.ProspectRecord {
	cleaned := make([]entity.ProspectRecord, 0, len(records))
	for _, rec := range records {
		if rec.Email != nil {
			if email, ok := normalizeEmail(*rec.Email); ok {
				rec.Email = &email
			} else {
				rec.Email = nil
				rec.SMTPStatus = ""
			}
		}
		rec.SourcePage = sanitizeSourcePage(rec.SourcePage)
		cleaned = append(cleaned, rec)
	}
	return cleaned
}

func sanitizeSourcePage(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, err := sanitizeURL(raw)
	if err != nil {
		return ""
	}
	stripTracking(u)
	return u.String()
}

func normalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if region == "" {
		region = defaultPhoneRegion
	}
	number, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return ""
	}
	if !phonenumbers.IsPossibleNumber(number) || !phonenumbers.IsValidNumber(number) {
		return ""
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

func sanitizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, errors.New("invalid url")
	}
	u.Scheme = "https"
	return u, nil
}

func stripTracking(u *url.URL) {
	if u == nil {
		return
	}
	query := u.Query()
	changed := false
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), trackingPrefix) {
			query.Del(key)
			changed = true
		}
	}
	if changed {
		u.RawQuery = query.Encode()
	}
}

func isDomainValid(domain string) bool {
	if strings.Count(domain, ".") == 0 || len(domain) > 253 {
		return false
	}
	parts := strings.Split(domain, ".")
	for _, part := range parts {
		if part == "" || len(part) > 63 || strings.HasPrefix(part, "-") || strings.HasSuffix(part, "-") {
			return false
		}
	}
	return true
}
