package policy

import "strings"

// match reports whether r matches name and the length of the matched portion,
// used for tie-breaking among rules of the same kind.
func (r *rule) match(name string) (matched bool, length int) {
	switch r.kind {
	case kindExact:
		if name == r.pattern {
			return true, len(r.pattern)
		}
	case kindPrefix:
		if strings.HasPrefix(name, r.pattern) {
			return true, len(r.pattern)
		}
	case kindRegex:
		if loc := r.re.FindStringIndex(name); loc != nil {
			return true, loc[1] - loc[0]
		}
	}
	return false, 0
}
