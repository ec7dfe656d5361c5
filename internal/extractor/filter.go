package extractor

import (
	"regexp"
	"strings"

	"github.com/xaenox/teams-extractor/internal/models"
)

// Apply narrows messages through every active predicate of the filter, in
// a fixed order: time window, system-message exclusion, deleted-message
// inclusion, author id, author name, author email, keywords, regex
// patterns. Inactive predicates (empty lists, nil bounds) pass everything.
// The input order is preserved and the input slice is never mutated.
func Apply(messages []models.Message, f models.ExtractionFilter) []models.Message {
	filtered := messages

	if f.StartDate != nil {
		filtered = keep(filtered, func(m models.Message) bool {
			return !m.CreatedAt.Before(*f.StartDate)
		})
	}
	if f.EndDate != nil {
		filtered = keep(filtered, func(m models.Message) bool {
			return !m.CreatedAt.After(*f.EndDate)
		})
	}

	if !f.IncludeSystemMessages {
		filtered = keep(filtered, func(m models.Message) bool {
			return m.Type != models.TypeSystem
		})
	}
	if !f.IncludeDeleted {
		filtered = keep(filtered, func(m models.Message) bool {
			return m.DeletedAt == nil
		})
	}

	if len(f.AuthorIDs) > 0 {
		allowed := toSet(f.AuthorIDs)
		filtered = keep(filtered, func(m models.Message) bool {
			return allowed[m.AuthorID]
		})
	}
	if len(f.AuthorNames) > 0 {
		allowed := toSet(f.AuthorNames)
		filtered = keep(filtered, func(m models.Message) bool {
			return allowed[m.AuthorName]
		})
	}
	if len(f.AuthorEmails) > 0 {
		allowed := toSet(f.AuthorEmails)
		filtered = keep(filtered, func(m models.Message) bool {
			return m.AuthorEmail != "" && allowed[m.AuthorEmail]
		})
	}

	if len(f.Keywords) > 0 {
		keywords := make([]string, len(f.Keywords))
		for i, k := range f.Keywords {
			keywords[i] = strings.ToLower(k)
		}
		filtered = keep(filtered, func(m models.Message) bool {
			body := strings.ToLower(m.BodyContent)
			for _, k := range keywords {
				if strings.Contains(body, k) {
					return true
				}
			}
			return false
		})
	}

	if len(f.RegexPatterns) > 0 {
		var patterns []*regexp.Regexp
		for _, p := range f.RegexPatterns {
			// Patterns that do not compile match nothing.
			if re, err := regexp.Compile("(?i)" + p); err == nil {
				patterns = append(patterns, re)
			}
		}
		filtered = keep(filtered, func(m models.Message) bool {
			for _, re := range patterns {
				if re.MatchString(m.BodyContent) {
					return true
				}
			}
			return false
		})
	}

	return filtered
}

func keep(messages []models.Message, pred func(models.Message) bool) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if pred(m) {
			out = append(out, m)
		}
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
