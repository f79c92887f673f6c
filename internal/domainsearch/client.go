package domainsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ebailine/sivio/api/internal/config"
	"github.com/ebailine/sivio/api/internal/entity"
)

// Task states reported by the result endpoints.
const (
	statusInProgress = "in_progress"
	statusCompleted  = "completed"
)

const (
	defaultSearchLimit  = 50
	defaultPollAttempts = 5
	maxErrorBody        = 512
)

// Client talks to the prospect discovery provider. Searches are asynchronous
// tasks: a start call returns a task hash which is then polled for results.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokens       *TokenCache
	searchLimit  int
	pollAttempts int
	pollInterval time.Duration
	initialDelay time.Duration
}

// NewClient wires a provider client from configuration. A nil httpClient gets
// a default with a per-request timeout.
func NewClient(cfg config.ProspectAPIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   httpClient,
		tokens:       NewTokenCache(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, httpClient),
		searchLimit:  cfg.SearchLimit,
		pollAttempts: cfg.PollAttempts,
		pollInterval: cfg.PollInterval,
		initialDelay: cfg.InitialDelay,
	}
	if c.searchLimit <= 0 {
		c.searchLimit = defaultSearchLimit
	}
	if c.pollAttempts <= 0 {
		c.pollAttempts = defaultPollAttempts
	}
	return c
}

// Authenticate returns a valid bearer token, reusing the cached one when possible.
func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	return c.tokens.Token(ctx)
}

type startResponse struct {
	Meta struct {
		TaskHash string `json:"task_hash"`
	} `json:"meta"`
}

type resultEnvelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type prospectPayload struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Position   string `json:"position"`
	SourcePage string `json:"source_page"`
	Emails     *struct {
		Emails []struct {
			Email      string `json:"email"`
			SMTPStatus string `json:"smtp_status"`
		} `json:"emails"`
	} `json:"emails"`
}

type companyPayload struct {
	Name           string   `json:"company_name"`
	Industry       string   `json:"industry"`
	Size           string   `json:"size"`
	City           string   `json:"city"`
	Country        string   `json:"country"`
	Locations      []string `json:"locations"`
	Departments    []string `json:"departments"`
	Phone          string   `json:"hq_phone"`
	ProspectsCount int      `json:"prospects_count"`
}

// SearchDomain runs a prospect search for domain and waits for it to finish.
// A limit <= 0 uses the configured default. Zero prospects is not an error.
func (c *Client) SearchDomain(ctx context.Context, domain string, limit int) ([]entity.ProspectRecord, error) {
	if limit <= 0 {
		limit = c.searchLimit
	}
	taskHash, err := c.startTask(ctx, "/domain-search/prospects/start", domain, limit)
	if err != nil {
		return nil, err
	}

	var prospects []prospectPayload
	if err := c.awaitTask(ctx, "/domain-search/prospects/result/"+url.PathEscape(taskHash), taskHash, &prospects); err != nil {
		return nil, err
	}

	records := normalizeProspects(prospects)
	log.Printf("domainsearch: prospects domain=%s task=%s prospects=%d records=%d", domain, taskHash, len(prospects), len(records))
	return records, nil
}

// CompanyProfile runs the company-level domain search used for research enrichment.
func (c *Client) CompanyProfile(ctx context.Context, domain string) (*entity.CompanyProfile, error) {
	taskHash, err := c.startTask(ctx, "/domain-search/start", domain, 0)
	if err != nil {
		return nil, err
	}

	var payload companyPayload
	if err := c.awaitTask(ctx, "/domain-search/result/"+url.PathEscape(taskHash), taskHash, &payload); err != nil {
		return nil, err
	}

	locations := append([]string(nil), payload.Locations...)
	if len(locations) == 0 {
		if loc := joinNonEmpty(", ", payload.City, payload.Country); loc != "" {
			locations = []string{loc}
		}
	}

	return &entity.CompanyProfile{
		Domain:         domain,
		Name:           payload.Name,
		Industry:       payload.Industry,
		Size:           payload.Size,
		Locations:      locations,
		Departments:    append([]string(nil), payload.Departments...),
		Phone:          payload.Phone,
		ProspectsCount: payload.ProspectsCount,
	}, nil
}

func (c *Client) startTask(ctx context.Context, path, domain string, limit int) (string, error) {
	query := url.Values{"domain": {domain}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.do(ctx, http.MethodPost, path+"?"+query.Encode(), "start")
	if err != nil {
		if ctx.Err() != nil {
			return "", c.interrupted("", 0, ctx.Err())
		}
		return "", err
	}

	var resp startResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ProtocolError{Op: "start", Message: fmt.Sprintf("decode response: %v", err)}
	}
	if strings.TrimSpace(resp.Meta.TaskHash) == "" {
		return "", &ProtocolError{Op: "start", Message: "response did not include a task hash"}
	}
	return resp.Meta.TaskHash, nil
}

// awaitTask waits the initial delay and then polls path until the task
// completes, fails or the attempt budget is spent. The completed payload's
// data member is decoded into out.
func (c *Client) awaitTask(ctx context.Context, path, taskHash string, out any) error {
	if err := sleepContext(ctx, c.initialDelay); err != nil {
		return c.interrupted(taskHash, 0, err)
	}

	for attempt := 1; attempt <= c.pollAttempts; attempt++ {
		body, err := c.do(ctx, http.MethodGet, path, "poll")
		if err != nil {
			if ctx.Err() != nil {
				return c.interrupted(taskHash, attempt, ctx.Err())
			}
			return err
		}

		var env resultEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return &ProtocolError{Op: "poll", Message: fmt.Sprintf("decode response: %v", err)}
		}

		switch env.Status {
		case statusCompleted:
			if len(env.Data) == 0 || string(env.Data) == "null" {
				return nil
			}
			if err := json.Unmarshal(env.Data, out); err != nil {
				return &ProtocolError{Op: "poll", Message: fmt.Sprintf("decode result data: %v", err)}
			}
			return nil
		case statusInProgress:
		default:
			return &SearchFailedError{TaskHash: taskHash, Status: env.Status}
		}

		if attempt == c.pollAttempts {
			break
		}
		if err := sleepContext(ctx, c.pollInterval); err != nil {
			return c.interrupted(taskHash, attempt, err)
		}
	}

	return &SearchTimeoutError{TaskHash: taskHash, Attempts: c.pollAttempts}
}

func (c *Client) interrupted(taskHash string, attempts int, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &SearchTimeoutError{TaskHash: taskHash, Attempts: attempts, Err: err}
	}
	if taskHash == "" {
		return fmt.Errorf("domain search start: %w", err)
	}
	return fmt.Errorf("domain search task %s: %w", taskHash, err)
}

func (c *Client) do(ctx context.Context, method, path, op string) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("domain search %s request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.tokens.Invalidate()
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: truncate(string(body))}
	case resp.StatusCode >= 400:
		return nil, &ProtocolError{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(body))}
	}
	return body, nil
}

// normalizeProspects expands each prospect into one record per address. A
// prospect without addresses still yields a single record with a nil Email.
func normalizeProspects(prospects []prospectPayload) []entity.ProspectRecord {
	records := make([]entity.ProspectRecord, 0, len(prospects))
	for _, p := range prospects {
		base := entity.ProspectRecord{
			FirstName:  strings.TrimSpace(p.FirstName),
			LastName:   strings.TrimSpace(p.LastName),
			Position:   strings.TrimSpace(p.Position),
			SourcePage: strings.TrimSpace(p.SourcePage),
		}

		emitted := false
		if p.Emails != nil {
			for _, e := range p.Emails.Emails {
				addr := strings.TrimSpace(e.Email)
				if addr == "" {
					continue
				}
				rec := base
				rec.Email = &addr
				rec.SMTPStatus = strings.TrimSpace(e.SMTPStatus)
				records = append(records, rec)
				emitted = true
			}
		}
		if !emitted {
			records = append(records, base)
		}
	}
	return records
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
