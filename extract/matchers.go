package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Matcher is one concept-mining strategy. Each matcher runs independently
// over the full text; the extractor unions their results.
type Matcher struct {
	// Name tags the strategy in logs and tests.
	Name string

	// Match returns raw candidates. Filtering happens in the extractor.
	Match func(text string) []string
}

// RegexpMatcher builds a matcher returning the first capture group of
// every match of re (or the whole match if re has no groups). RE2's \b only
// knows ASCII word characters, so a match touching a non-ASCII letter or
// digit is dropped: "perch" is not a token of "perché".
func RegexpMatcher(name string, re *regexp.Regexp) Matcher {
	return Matcher{
		Name: name,
		Match: func(text string) []string {
			var out []string
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				if !standsAlone(text, loc[0], loc[1]) {
					continue
				}
				switch {
				case len(loc) == 2:
					out = append(out, text[loc[0]:loc[1]])
				case loc[2] >= 0:
					out = append(out, text[loc[2]:loc[3]])
				}
			}
			return out
		},
	}
}

// standsAlone reports whether text[start:end] is not glued to a word
// character on either side.
func standsAlone(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// domainNouns is the fixed physics/math vocabulary for domain phrases.
var domainNouns = []string{
	"problem", "theory", "model", "force", "gravity", "energy", "wave",
	"system", "phenomena", "experiment", "framework", "trap", "cloud",
	"atom", "quantum", "scaling", "error", "data", "simulation", "universe",
	"dimension", "boson", "relativity", "symmetry", "inflation",
	"black hole", "wormhole", "neutron star", "supernova",
}

var (
	identifierRe    = regexp.MustCompile(`\b([A-Z][A-Za-z0-9_\-]{2,})\b`)
	domainPhraseRe  = regexp.MustCompile(`(?i)\b([A-Za-z]+\s(?:` + strings.Join(domainNouns, "|") + `))\b`)
	exponentTokenRe = regexp.MustCompile(`\b([A-Za-z]+\d*)\^?\d*\b`)
)

// Default matcher names.
const (
	MatcherIdentifier    = "identifier"
	MatcherDomainPhrase  = "domain-phrase"
	MatcherExponentToken = "exponent-token"
)

// DefaultMatchers returns the standard concept strategies: capitalized
// identifier-like tokens, qualified domain-noun phrases, and alphanumeric
// tokens with an optional exponent suffix.
func DefaultMatchers() []Matcher {
	return []Matcher{
		RegexpMatcher(MatcherIdentifier, identifierRe),
		RegexpMatcher(MatcherDomainPhrase, domainPhraseRe),
		RegexpMatcher(MatcherExponentToken, exponentTokenRe),
	}
}
