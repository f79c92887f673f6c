package scoring

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Band assigns Score to any title matching one of Keywords unless it also
// matches one of Exclude. When Seniority is set the first matching seniority
// rule overrides Score.
type Band struct {
	Name      string          `yaml:"name"`
	Keywords  []string        `yaml:"keywords"`
	Exclude   []string        `yaml:"exclude,omitempty"`
	Score     int             `yaml:"score"`
	Seniority []SeniorityRule `yaml:"seniority,omitempty"`
}

// SeniorityRule refines a band score by seniority words in the title.
type SeniorityRule struct {
	Keywords []string `yaml:"keywords"`
	Score    int      `yaml:"score"`
}

// DepartmentRule maps title keywords to a department label.
type DepartmentRule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// Policy is the data table the scorer evaluates. Bands and departments are
// ordered; the first match wins.
//
// GenericLocalParts match as prefixes of the local part. GenericExactLocalParts
// look like the start of a name, so they only match the whole local part or a
// prefix followed by one of ".-_+".
type Policy struct {
	GenericLocalParts      []string         `yaml:"generic_local_parts"`
	GenericExactLocalParts []string         `yaml:"generic_exact_local_parts"`
	MinLocalPartLength     int              `yaml:"min_local_part_length"`
	Bands                  []Band           `yaml:"bands"`
	DefaultScore           int              `yaml:"default_score"`
	MissingTitleScore      int              `yaml:"missing_title_score"`
	ScoreFloor             int              `yaml:"score_floor"`
	ResultCap              int              `yaml:"result_cap"`
	DecisionMakerKeywords  []string         `yaml:"decision_maker_keywords"`
	Departments            []DepartmentRule `yaml:"departments"`
	DefaultDepartment      string           `yaml:"default_department"`
}

// DefaultPolicy returns the compiled-in scoring table.
func DefaultPolicy() Policy {
	return Policy{
		GenericLocalParts: []string{
			"info", "contact", "support", "sales", "careers", "noreply", "no-reply",
			"hello", "admin", "jobs", "marketing", "billing", "recruiting",
			"webmaster", "privacy", "security", "feedback", "enquiries", "inquiries",
		},
		GenericExactLocalParts: []string{"hr", "team", "help", "office", "press", "mail", "service"},
		MinLocalPartLength: 3,
		Bands: []Band{
			{
				Name:     "executive",
				Keywords: []string{"chief", "ceo", "cto", "cfo", "coo", "cmo", "cio", "chro", "founder", "president"},
				Exclude:  []string{"vice"},
				Score:    95,
			},
			{
				Name:     "vice_president",
				Keywords: []string{"vp", "svp", "evp", "vice president"},
				Score:    90,
			},
			{
				Name:     "director",
				Keywords: []string{"director", "head of"},
				Score:    85,
			},
			{
				Name:     "talent",
				Keywords: []string{"recruit", "talent", "hr", "hrbp", "hris", "human resources", "people", "hiring", "sourcer", "staffing"},
				Score:    70,
				Seniority: []SeniorityRule{
					{Keywords: []string{"director", "head"}, Score: 85},
					{Keywords: []string{"manager", "lead"}, Score: 80},
					{Keywords: []string{"senior", "sr"}, Score: 75},
				},
			},
			{
				Name:     "manager",
				Keywords: []string{"manager", "lead", "leader", "supervisor"},
				Score:    60,
			},
		},
		DefaultScore:      40,
		MissingTitleScore: 30,
		ScoreFloor:        50,
		ResultCap:         20,
		DecisionMakerKeywords: []string{
			"chief", "ceo", "cto", "cfo", "coo", "cmo", "cio", "chro", "founder", "president",
			"vp", "svp", "evp", "vice president", "director", "head of",
			"recruit", "talent", "hr", "hrbp", "hris", "human resources", "people", "hiring",
		},
		Departments: []DepartmentRule{
			{Name: "Human Resources", Keywords: []string{"hr", "hrbp", "hris", "human resources", "recruit", "talent", "people", "hiring", "sourcer", "chro"}},
			{Name: "Engineering", Keywords: []string{"engineer", "developer", "software", "technology", "technical", "cto", "devops", "data", "architect", "infrastructure"}},
			{Name: "Sales", Keywords: []string{"sales", "account executive", "business development", "bdr", "sdr"}},
			{Name: "Marketing", Keywords: []string{"marketing", "brand", "growth", "content", "cmo", "communications"}},
			{Name: "Product", Keywords: []string{"product", "design", "ux"}},
			{Name: "Operations", Keywords: []string{"operations", "ops", "coo", "logistics"}},
			{Name: "Finance", Keywords: []string{"finance", "financial", "cfo", "accounting", "controller"}},
			{Name: "Legal", Keywords: []string{"legal", "counsel", "compliance"}},
		},
		DefaultDepartment: "Other",
	}
}

// LoadPolicy reads a YAML policy file. Fields absent from the file keep their
// default values.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read scoring policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse scoring policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// WithLimits returns a copy of the policy with the floor and cap replaced
// when they are positive.
func (p Policy) WithLimits(floor, limit int) Policy {
	if floor > 0 {
		p.ScoreFloor = floor
	}
	if limit > 0 {
		p.ResultCap = limit
	}
	return p
}

// Validate reports obviously broken tables.
func (p Policy) Validate() error {
	if len(p.Bands) == 0 {
		return fmt.Errorf("scoring policy: at least one band is required")
	}
	if p.ScoreFloor < 0 || p.ScoreFloor > 100 {
		return fmt.Errorf("scoring policy: score floor %d outside 0..100", p.ScoreFloor)
	}
	if p.ResultCap <= 0 {
		return fmt.Errorf("scoring policy: result cap must be positive")
	}
	for _, band := range p.Bands {
		if len(band.Keywords) == 0 {
			return fmt.Errorf("scoring policy: band %q has no keywords", band.Name)
		}
		if !validScore(band.Score) {
			return fmt.Errorf("scoring policy: band %q score %d outside 0..100", band.Name, band.Score)
		}
		for _, rule := range band.Seniority {
			if !validScore(rule.Score) {
				return fmt.Errorf("scoring policy: band %q seniority score %d outside 0..100", band.Name, rule.Score)
			}
		}
	}
	if !validScore(p.DefaultScore) || !validScore(p.MissingTitleScore) {
		return fmt.Errorf("scoring policy: default scores must be within 0..100")
	}
	return nil
}

func validScore(v int) bool {
	return v >= 0 && v <= 100
}
