package natural

import "strings"

// DefaultPrefixes are the leading articles ignored when alphabetizing.
var DefaultPrefixes = []string{"the", "a"}

// StripPrefix moves a leading article to the end, so "The Hobbit" sorts as
// "Hobbit, The". Matching is case-insensitive and needs a following space.
func StripPrefix(title string, prefixes []string) string {
	if title == "" {
		return ""
	}
	lower := strings.ToLower(title)
	for _, prefix := range prefixes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix == "" {
			continue
		}
		if strings.HasPrefix(lower, prefix+" ") && len(title) > len(prefix)+1 {
			return strings.TrimSpace(title[len(prefix)+1:]) + ", " + title[:len(prefix)]
		}
	}
	return title
}
