// Package rules maps free-form tags to automation actions.
//
// A Registry is built once at startup from a versioned YAML document and is
// read-only afterwards. Resolution runs three ordered stages: an exact match on
// the normalized tag, an exact match on the raw tag as typed, and finally the
// family pattern rules in declaration order. The first stage that matches wins.
package rules

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type ActionType string

const (
	ActionEnrollCourse     ActionType = "enroll_course"
	ActionEnrollBundle     ActionType = "enroll_bundle"
	ActionGrantSpecial     ActionType = "grant_special_access"
	ActionStartFulfillment ActionType = "start_fulfillment"
	ActionEnrollSequence   ActionType = "enroll_sequence"
)

// Special access handlers.
const (
	HandlerMiniDiploma = "mini_diploma"
)

type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchPrefix   MatchMode = "prefix"
)

// TagClass decides how the tag store treats a second grant of the same tag.
type TagClass string

const (
	// ClassStrict tags are unique per user; a second grant is a conflict.
	ClassStrict TagClass = "strict"
	// ClassUpsert tags may be re-applied; their handlers are re-entrant.
	ClassUpsert TagClass = "upsert"
)

type Stage string

const (
	StageNone    Stage = "none"
	StageExact   Stage = "exact"
	StageRaw     Stage = "raw"
	StagePattern Stage = "pattern"
)

type SequenceSelector struct {
	Slug    string `yaml:"slug,omitempty" json:"slug,omitempty"`
	Trigger string `yaml:"trigger,omitempty" json:"trigger,omitempty"`
}

func (s SequenceSelector) Empty() bool {
	return strings.TrimSpace(s.Slug) == "" && strings.TrimSpace(s.Trigger) == ""
}

func (s SequenceSelector) String() string {
	switch {
	case s.Slug != "" && s.Trigger != "":
		return s.Slug + "|" + s.Trigger
	case s.Slug != "":
		return s.Slug
	default:
		return s.Trigger
	}
}

type ProductSpec struct {
	Slug  string  `yaml:"slug" json:"slug"`
	Name  string  `yaml:"name" json:"name"`
	Price float64 `yaml:"price" json:"price"`
}

type Action struct {
	Type          ActionType        `yaml:"type" json:"type"`
	Course        string            `yaml:"course,omitempty" json:"course,omitempty"`
	Courses       []string          `yaml:"courses,omitempty" json:"courses,omitempty"`
	Handler       string            `yaml:"handler,omitempty" json:"handler,omitempty"`
	Category      string            `yaml:"category,omitempty" json:"category,omitempty"`
	CompanionTags []string          `yaml:"companion_tags,omitempty" json:"companion_tags,omitempty"`
	Sequence      *SequenceSelector `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	Product       *ProductSpec      `yaml:"product,omitempty" json:"product,omitempty"`
	EmailVariant  string            `yaml:"email_variant,omitempty" json:"email_variant,omitempty"`
}

// CourseSlugs returns the courses an enrollment action targets, in order.
func (a Action) CourseSlugs() []string {
	switch a.Type {
	case ActionEnrollCourse:
		return []string{a.Course}
	case ActionEnrollBundle:
		return append([]string(nil), a.Courses...)
	}
	return nil
}

type Rule struct {
	Name            string    `yaml:"name" json:"name"`
	Tag             string    `yaml:"tag,omitempty" json:"tag,omitempty"`
	Match           MatchMode `yaml:"match,omitempty" json:"match,omitempty"`
	Keywords        []string  `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	ExcludePrefixes []string  `yaml:"exclude_prefixes,omitempty" json:"exclude_prefixes,omitempty"`
	Canonical       string    `yaml:"canonical,omitempty" json:"canonical,omitempty"`
	Actions         []Action  `yaml:"actions" json:"actions"`
}

type CourseSpec struct {
	Paid bool `yaml:"paid" json:"paid"`
}

type document struct {
	Version  int                   `yaml:"version"`
	Courses  map[string]CourseSpec `yaml:"courses"`
	Exact    []Rule                `yaml:"exact"`
	Patterns []Rule                `yaml:"patterns"`
}

// Registry is the immutable, loaded rule set.
type Registry struct {
	version  int
	checksum string
	source   []byte
	courses  map[string]CourseSpec
	exact    map[string]Rule
	patterns []Rule
}

// Resolution is the outcome of resolving one tag.
type Resolution struct {
	Raw       string   `json:"raw"`
	Tag       string   `json:"tag"`
	Rule      string   `json:"rule,omitempty"`
	Stage     Stage    `json:"stage"`
	Canonical string   `json:"canonical"`
	Actions   []Action `json:"actions,omitempty"`
}

func (r Resolution) Matched() bool { return r.Stage != StageNone && len(r.Actions) > 0 }

// Class reports whether the resolved tag may be re-applied.
func (r Resolution) Class() TagClass {
	for _, a := range r.Actions {
		if a.Type == ActionGrantSpecial || a.Type == ActionStartFulfillment {
			return ClassUpsert
		}
	}
	return ClassStrict
}

// CourseSlugs flattens every course the resolution enrolls into, keeping order
// and dropping duplicates.
func (r Resolution) CourseSlugs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.Actions {
		for _, slug := range a.CourseSlugs() {
			if slug == "" || seen[slug] {
				continue
			}
			seen[slug] = true
			out = append(out, slug)
		}
	}
	return out
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Load(defaultRules)
}

// LoadFile reads a registry from disk, falling back to the embedded one when path is empty.
func LoadFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Load(raw)
}

// Load parses and validates a YAML rule document.
func Load(raw []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if doc.Version <= 0 {
		return nil, fmt.Errorf("rules: version must be positive")
	}

	sum := sha256.Sum256(raw)
	reg := &Registry{
		version:  doc.Version,
		checksum: hex.EncodeToString(sum[:]),
		source:   append([]byte(nil), raw...),
		courses:  make(map[string]CourseSpec, len(doc.Courses)),
		exact:    make(map[string]Rule, len(doc.Exact)),
	}
	for slug, spec := range doc.Courses {
		reg.courses[strings.TrimSpace(slug)] = spec
	}

	for i, rule := range doc.Exact {
		key := strings.TrimSpace(rule.Tag)
		if key == "" {
			return nil, fmt.Errorf("rules: exact rule %d (%s) has no tag", i, rule.Name)
		}
		if _, dup := reg.exact[key]; dup {
			return nil, fmt.Errorf("rules: duplicate exact tag %q", key)
		}
		if err := validateActions(rule); err != nil {
			return nil, err
		}
		rule.Tag = key
		rule.Canonical = Normalize(rule.Canonical)
		reg.exact[key] = rule
	}

	for i, rule := range doc.Patterns {
		if rule.Match != MatchContains && rule.Match != MatchPrefix {
			return nil, fmt.Errorf("rules: pattern %d (%s) has unknown match mode %q", i, rule.Name, rule.Match)
		}
		var keywords []string
		for _, kw := range rule.Keywords {
			if k := squash(kw); k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("rules: pattern %d (%s) has no keywords", i, rule.Name)
		}
		if err := validateActions(rule); err != nil {
			return nil, err
		}
		rule.Keywords = keywords
		rule.Canonical = Normalize(rule.Canonical)
		for j, p := range rule.ExcludePrefixes {
			rule.ExcludePrefixes[j] = Normalize(p)
		}
		reg.patterns = append(reg.patterns, rule)
	}

	return reg, nil
}

func validateActions(rule Rule) error {
	if len(rule.Actions) == 0 {
		return fmt.Errorf("rules: rule %s has no actions", rule.Name)
	}
	for _, a := range rule.Actions {
		switch a.Type {
		case ActionEnrollCourse:
			if strings.TrimSpace(a.Course) == "" {
				return fmt.Errorf("rules: rule %s: enroll_course needs a course", rule.Name)
			}
		case ActionEnrollBundle:
			if len(a.Courses) == 0 {
				return fmt.Errorf("rules: rule %s: enroll_bundle needs at least one course", rule.Name)
			}
		case ActionGrantSpecial:
			if a.Handler != HandlerMiniDiploma {
				return fmt.Errorf("rules: rule %s: unknown special handler %q", rule.Name, a.Handler)
			}
		case ActionStartFulfillment:
			if a.Product == nil || strings.TrimSpace(a.Product.Slug) == "" {
				return fmt.Errorf("rules: rule %s: start_fulfillment needs a product slug", rule.Name)
			}
		case ActionEnrollSequence:
			if a.Sequence == nil || a.Sequence.Empty() {
				return fmt.Errorf("rules: rule %s: enroll_sequence needs a selector", rule.Name)
			}
		default:
			return fmt.Errorf("rules: rule %s: unknown action type %q", rule.Name, a.Type)
		}
	}
	return nil
}

func (r *Registry) Version() int      { return r.version }
func (r *Registry) Checksum() string  { return r.checksum }
func (r *Registry) Source() []byte    { return append([]byte(nil), r.source...) }
func (r *Registry) PatternCount() int { return len(r.patterns) }

// JSON renders the source document as JSON for storage in json columns.
func (r *Registry) JSON() ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(r.source, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	return json.Marshal(doc)
}

// IsPaid reports whether enrolling in slug counts as a paid enrollment.
// Unknown slugs are treated as free.
func (r *Registry) IsPaid(slug string) bool {
	return r.courses[strings.TrimSpace(slug)].Paid
}

// Resolve maps a tag to its actions. It never fails: an unmatched tag yields a
// resolution with StageNone and no actions.
func (r *Registry) Resolve(raw string) Resolution {
	tag := Normalize(raw)
	res := Resolution{Raw: raw, Tag: tag, Stage: StageNone, Canonical: tag}
	if tag == "" {
		return res
	}

	if rule, ok := r.exact[tag]; ok {
		return res.with(rule, StageExact)
	}
	if rule, ok := r.exact[strings.TrimSpace(raw)]; ok {
		return res.with(rule, StageRaw)
	}
	for _, rule := range r.patterns {
		if rule.matches(tag) {
			return res.with(rule, StagePattern)
		}
	}
	return res
}

// CanonicalKey returns the single key every spelling of a tag family collapses to.
func (r *Registry) CanonicalKey(raw string) string {
	return r.Resolve(raw).Canonical
}

func (res Resolution) with(rule Rule, stage Stage) Resolution {
	res.Rule = rule.Name
	res.Stage = stage
	res.Actions = append([]Action(nil), rule.Actions...)
	if rule.Canonical != "" {
		res.Canonical = rule.Canonical
	}
	return res
}

func (rule Rule) matches(tag string) bool {
	for _, p := range rule.ExcludePrefixes {
		if p != "" && strings.HasPrefix(tag, p) {
			return false
		}
	}
	s := squash(tag)
	for _, kw := range rule.Keywords {
		switch rule.Match {
		case MatchPrefix:
			if strings.HasPrefix(s, kw) {
				return true
			}
		default:
			if strings.Contains(s, kw) {
				return true
			}
		}
	}
	return false
}

// Normalize trims and lowercases a tag.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

// squash drops separators so "Done-For-You", "done_for_you" and "DoneForYou" compare equal.
func squash(s string) string {
	s = Normalize(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_', '.', '\t':
			return -1
		}
		return r
	}, s)
}
