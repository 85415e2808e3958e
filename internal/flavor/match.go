package flavor

import (
	"regexp"
	"strings"
)

// MatchPatterns reports whether text satisfies every pattern. An empty
// pattern list never matches.
//
// Exact compares the whole output, trimmed and case-folded unless
// caseSensitive, with each pattern. Multi-line output therefore only
// matches an Exact rule whose pattern spells out every line.
func MatchPatterns(text string, patterns []string, mt MatchType, caseSensitive bool) bool {
	if len(patterns) == 0 {
		return false
	}

	folded := text
	if !caseSensitive {
		folded = strings.ToLower(text)
	}

	for _, p := range patterns {
		var ok bool
		switch mt {
		case Contains, "":
			if !caseSensitive {
				p = strings.ToLower(p)
			}
			ok = strings.Contains(folded, p)
		case Regex:
			if !caseSensitive {
				p = "(?i)" + p
			}
			re, err := regexp.Compile(p)
			ok = err == nil && re.MatchString(text)
		case Exact:
			if !caseSensitive {
				p = strings.ToLower(p)
			}
			ok = strings.TrimSpace(folded) == p
		}
		if !ok {
			return false
		}
	}
	return true
}
