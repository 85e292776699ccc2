package app

import "strings"

const (
	libyaCountryCode     = "218"
	subscriberLength     = 9
	mobileSubscriberLead = '9'
)

// CanonicalizePhone normalizes a Libyan mobile number to "2189XXXXXXXX".
// Accepted inputs: +2189XXXXXXXX, 002189XXXXXXXX, 2189XXXXXXXX, 09XXXXXXXX
// and 9XXXXXXXX, with spaces and dashes ignored.
func CanonicalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '\t':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return "", &ValidationError{Field: "phone", Rule: "required"}
	}

	international := false
	switch {
	case strings.HasPrefix(cleaned, "+"):
		cleaned = cleaned[1:]
		international = true
	case strings.HasPrefix(cleaned, "00"):
		cleaned = cleaned[2:]
		international = true
	}
	if cleaned == "" || !isDigits(cleaned) {
		return "", &ValidationError{Field: "phone", Rule: "digits_only"}
	}

	var subscriber string
	switch {
	case international:
		if !strings.HasPrefix(cleaned, libyaCountryCode) {
			return "", &ValidationError{Field: "phone", Rule: "country_code"}
		}
		subscriber = cleaned[len(libyaCountryCode):]
	case strings.HasPrefix(cleaned, libyaCountryCode) && len(cleaned) > subscriberLength+1:
		subscriber = cleaned[len(libyaCountryCode):]
	case strings.HasPrefix(cleaned, "0"):
		subscriber = cleaned[1:]
	default:
		subscriber = cleaned
	}

	if subscriber == "" || subscriber[0] != mobileSubscriberLead {
		return "", &ValidationError{Field: "phone", Rule: "mobile_prefix"}
	}
	if len(subscriber) != subscriberLength {
		return "", &ValidationError{Field: "phone", Rule: "length"}
	}
	return libyaCountryCode + subscriber, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
