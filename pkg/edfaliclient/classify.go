package edfaliclient

import (
	"strings"
	"unicode"
)

// DeclineCode is a short refusal code the gateway returns in place of a result.
type DeclineCode string

const (
	CodeInsufficientBalance DeclineCode = "BAL"
	CodeAccountNotEligible  DeclineCode = "ACC"
	CodeInvalidOTP          DeclineCode = "PW"
)

// minSessionIDLength is the shortest result string accepted as a session id.
const minSessionIDLength = 10

var knownDeclineCodes = []DeclineCode{CodeInsufficientBalance, CodeAccountNotEligible, CodeInvalidOTP}

// InitiateResult is the classified DoPTrans result: exactly one of Session,
// Declined or Malformed.
type InitiateResult interface {
	isInitiateResult()
}

type Session struct {
	ID string
}

type Declined struct {
	Code DeclineCode
}

type Malformed struct {
	Raw string
}

func (Session) isInitiateResult()   {}
func (Declined) isInitiateResult()  {}
func (Malformed) isInitiateResult() {}

// ClassifyInitiateResult turns the overloaded DoPTrans result string into a
// typed value. Known decline codes are checked before the length rule so an
// error code is never mistaken for a session id.
func ClassifyInitiateResult(raw string) InitiateResult {
	value := strings.TrimSpace(raw)
	if code, ok := matchDeclineCode(value); ok {
		return Declined{Code: code}
	}
	if len(value) >= minSessionIDLength && !strings.ContainsAny(value, " \t\r\n") {
		return Session{ID: value}
	}
	return Malformed{Raw: raw}
}

func matchDeclineCode(value string) (DeclineCode, bool) {
	for _, code := range knownDeclineCodes {
		if strings.EqualFold(value, string(code)) {
			return code, true
		}
	}
	return "", false
}

// MatchMode selects how SuccessMatcher compares the confirm result.
type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchEquals   MatchMode = "equals"
	MatchPrefix   MatchMode = "prefix"
)

// SuccessMatcher recognises an approved OnlineConfTrans result. Comparison is
// case-insensitive and ignores surrounding whitespace.
type SuccessMatcher struct {
	Mode   MatchMode
	Tokens []string
}

// DefaultSuccessMatcher accepts only a result that is exactly "OK" or "success".
func DefaultSuccessMatcher() SuccessMatcher {
	return SuccessMatcher{Mode: MatchEquals, Tokens: []string{"OK", "success"}}
}

// ParseMatchMode normalises a configured mode; unknown values fall back to equals.
func ParseMatchMode(raw string) MatchMode {
	switch MatchMode(strings.ToLower(strings.TrimSpace(raw))) {
	case MatchContains:
		return MatchContains
	case MatchPrefix:
		return MatchPrefix
	default:
		return MatchEquals
	}
}

// negationWords void a token that directly follows them ("not ok", "no success").
var negationWords = map[string]bool{"not": true, "no": true, "never": true, "non": true}

// Matches reports whether result is an approval. Contains and prefix modes
// compare whole words only, so "unsuccessful" or "broken" never match, and a
// token preceded by a negation word is a decline.
func (m SuccessMatcher) Matches(result string) bool {
	value := strings.ToLower(strings.TrimSpace(result))
	if value == "" {
		return false
	}
	words := splitWords(value)
	for _, token := range m.Tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			continue
		}
		tokenWords := splitWords(token)
		if len(tokenWords) == 0 {
			continue
		}
		switch m.Mode {
		case MatchContains:
			if containsWords(words, tokenWords) {
				return true
			}
		case MatchPrefix:
			if hasPrefixWords(words, tokenWords) {
				return true
			}
		default:
			if value == token {
				return true
			}
		}
	}
	return false
}

func splitWords(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasPrefixWords(words, token []string) bool {
	if len(words) < len(token) {
		return false
	}
	for i := range token {
		if words[i] != token[i] {
			return false
		}
	}
	return true
}

func containsWords(words, token []string) bool {
	for i := 0; i+len(token) <= len(words); i++ {
		if !hasPrefixWords(words[i:], token) {
			continue
		}
		if i > 0 && negationWords[words[i-1]] {
			continue
		}
		return true
	}
	return false
}

// Outcome is the classified OnlineConfTrans result. A declined outcome is a
// normal answer, not an error; Raw is kept for the audit record.
type Outcome struct {
	Approved bool
	Code     DeclineCode
	Raw      string
}

func classifyConfirmResult(raw string, matcher SuccessMatcher) Outcome {
	value := strings.TrimSpace(raw)
	if code, ok := matchDeclineCode(value); ok {
		return Outcome{Approved: false, Code: code, Raw: raw}
	}
	return Outcome{Approved: matcher.Matches(value), Raw: raw}
}
