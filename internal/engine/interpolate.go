package engine

import "regexp"

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.]*)\}`)

// Interpolate replaces every {identifier} occurrence in text with the
// matching context value. Unknown identifiers are left verbatim. Pure
// function, no side effects.
func Interpolate(text string, ctx map[string]string) string {
	if text == "" || len(ctx) == 0 {
		return text
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := ctx[name]; ok {
			return value
		}
		return match
	})
}
