package ingest

import (
	"fmt"
	"regexp"
)

// Default patterns for split image-carrier entries. The upstream exporter
// emits images as standalone entries that repeat table fragments of their
// parent; they are kept for rendering but excluded from search.
var (
	DefaultCarrierIDPatterns = []string{
		`(?i)(^|[_-])(img|image|pic)[_-]?\d+$`,
		`(?i)_carrier$`,
	}
	DefaultCaptionTitlePatterns = []string{
		`^(图|图片|附图)\s*[0-9一二三四五六七八九十]+`,
		`(?i)^(figure|fig\.)\s*\d+`,
	}
)

// SuppressionRule decides which entries get an empty search key.
type SuppressionRule struct {
	entryIDs []*regexp.Regexp
	titles   []*regexp.Regexp
}

// NewSuppressionRule compiles entry-id and title patterns.
func NewSuppressionRule(entryIDPatterns, titlePatterns []string) (*SuppressionRule, error) {
	r := &SuppressionRule{}
	for _, p := range entryIDPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid entry id pattern %q: %w", p, err)
		}
		r.entryIDs = append(r.entryIDs, re)
	}
	for _, p := range titlePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid title pattern %q: %w", p, err)
		}
		r.titles = append(r.titles, re)
	}
	return r, nil
}

// DefaultSuppressionRule returns the rule built from the default patterns.
func DefaultSuppressionRule() *SuppressionRule {
	r, err := NewSuppressionRule(DefaultCarrierIDPatterns, DefaultCaptionTitlePatterns)
	if err != nil {
		panic(err)
	}
	return r
}

// Matches reports whether the entry should not be searchable.
// A nil rule matches nothing.
func (r *SuppressionRule) Matches(entryID, title string) bool {
	if r == nil {
		return false
	}
	if entryID != "" {
		for _, re := range r.entryIDs {
			if re.MatchString(entryID) {
				return true
			}
		}
	}
	if title != "" {
		for _, re := range r.titles {
			if re.MatchString(title) {
				return true
			}
		}
	}
	return false
}
