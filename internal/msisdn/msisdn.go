// Package msisdn normalizes subscriber phone numbers into the local format
// the mobile-money provider expects for request routing (9 digits, no country
// prefix, e.g. 712345678 for Kenya).
package msisdn

import "strings"

const countryPrefix = "254"

// Normalize maps a raw subscriber number to provider-local form. It is total:
// unrecognized input degrades to the cleaned digit string, and empty input
// yields an empty string which callers must treat as a hard precondition
// failure before reaching the gateway.
func Normalize(raw string) string {
	cleaned := digits(raw)
	if cleaned == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(cleaned, countryPrefix):
		return cleaned[len(countryPrefix):]
	case strings.HasPrefix(cleaned, "0"):
		return cleaned[1:]
	case len(cleaned) == 9:
		// already local form, with or without the usual leading 7
		return cleaned
	}

	if len(cleaned) >= 9 {
		last9 := cleaned[len(cleaned)-9:]
		if strings.HasPrefix(last9, "7") {
			return last9
		}
	}

	return cleaned
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
