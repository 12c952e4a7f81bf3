package report

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Contrast classifies a template by contrast administration.
type Contrast string

const (
	ContrastWith    Contrast = "com"
	ContrastWithout Contrast = "sem"
	ContrastBoth    Contrast = "ambos"
)

// Ownership distinguishes user-authored templates from system and community ones.
type Ownership string

const (
	OwnershipUser      Ownership = "user"
	OwnershipSystem    Ownership = "system"
	OwnershipCommunity Ownership = "community"
)

// Status is the template lifecycle state. Archived templates are never hard
// deleted while anything references them.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Mode names the generation mode recorded in the audit log.
type Mode string

const (
	ModeEmergency   Mode = "ps"
	ModeElective    Mode = "eletivo"
	ModeComparative Mode = "comparativo"
)

// Tier is the subscription tier driving the monthly generation quota.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Template is a full report skeleton for one exam type/contrast combination.
// BodyContent carries the ordered region markers the model fills in.
type Template struct {
	ID               uint64
	OwnerUserID      string
	Ownership        Ownership
	Slug             string
	Name             string
	Description      string
	ExamType         string
	ExamSubtype      string
	Contrast         Contrast
	UrgencyDefault   bool
	Keywords         []string
	BodyContent      string
	Status           Status
	Locale           string
	ParentTemplateID uint64
	CloneCount       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Region is an anatomical section within a template. SortOrder defines the
// output ordering; optional regions may be omitted when not dictated.
type Region struct {
	ID                uint64
	TemplateID        uint64
	Slug              string
	Name              string
	SortOrder         int
	DefaultNormalText string
	Optional          bool
}

// FieldRuleKind constrains a placeholder value within a finding.
type FieldRuleKind string

const (
	FieldRequired    FieldRuleKind = "required"
	FieldOptional    FieldRuleKind = "optional"
	FieldConditional FieldRuleKind = "conditional"
)

type FieldRule struct {
	Kind      FieldRuleKind `json:"kind"`
	Condition string        `json:"condition,omitempty"`
	Default   string        `json:"default,omitempty"`
}

// Finding is a reusable abnormality snippet tied to a region by slug. The
// region reference is matched by string equality, not a hard foreign key; a
// dangling reference is tolerated at read time.
type Finding struct {
	ID             uint64
	TemplateID     uint64
	RegionSlug     string
	Slug           string
	Name           string
	Keywords       []string
	BodyContent    string
	FieldRules     map[string]FieldRule
	MeasureDefault string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Placeholders returns the distinct {{field}} names in the finding body, in
// first-appearance order.
func (f *Finding) Placeholders() []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, match := range placeholderRe.FindAllStringSubmatch(f.BodyContent, -1) {
		name := match[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// FieldsOfKind returns the field names carrying the given rule kind, sorted
// for deterministic rendering.
func (f *Finding) FieldsOfKind(kind FieldRuleKind) []string {
	fields := make([]string, 0)
	for name, rule := range f.FieldRules {
		if rule.Kind == kind {
			fields = append(fields, name)
		}
	}
	sort.Strings(fields)
	return fields
}

// Validate catches authoring errors at write time: every field-rule key must
// correspond to a placeholder present in the body content. Read paths stay
// tolerant; only mutations go through here.
func (f *Finding) Validate() error {
	if strings.TrimSpace(f.Slug) == "" {
		return errors.New("finding slug is required")
	}
	if strings.TrimSpace(f.BodyContent) == "" {
		return errors.New("finding body content is required")
	}

	present := make(map[string]bool)
	for _, name := range f.Placeholders() {
		present[name] = true
	}
	for name := range f.FieldRules {
		if !present[name] {
			return fmt.Errorf("field rule %q has no matching {{%s}} placeholder in body content", name, name)
		}
	}
	return nil
}

// TokenUsage mirrors the usage metadata carried by the terminal done event.
type TokenUsage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	TotalTokens  int64 `json:"totalTokens"`
}

// GenerationResult is the parsed output of one generation call. The JSON keys
// are the wire contract the model is instructed to follow. Exactly one of
// Report/Error is set on a settled result.
type GenerationResult struct {
	Report      *string  `json:"laudo"`
	Suggestions []string `json:"sugestoes"`
	Error       *string  `json:"erro"`
}

// Settled reports whether the result has resolved to success or failure.
func (r *GenerationResult) Settled() bool {
	return r.Report != nil || r.Error != nil
}
