// Package query builds the dynamic parts of catalog SQL: whitelisted ORDER BY
// clauses, AND-joined predicates with positional arguments, and escaped LIKE
// patterns for the text and fuzzy search tiers.
package query

import (
	"strings"
	"unicode"
)

// LikeEscape is the escape character every dialect's ILike declares.
const LikeEscape = '!'

var likeReplacer = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// EscapeLike escapes LIKE wildcards in s so it matches literally.
func EscapeLike(s string) string {
	return likeReplacer.Replace(s)
}

// Contains returns a LIKE pattern matching s anywhere.
func Contains(s string) string {
	return "%" + EscapeLike(s) + "%"
}

// Prefix returns a LIKE pattern matching values starting with s.
func Prefix(s string) string {
	return EscapeLike(s) + "%"
}

// MaxTerms caps how many search terms a query fans out into.
const MaxTerms = 8

// SplitTerms lowercases q and splits it on anything that is not a letter,
// digit, hyphen or underscore. Duplicates are dropped, order is kept.
func SplitTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})

	seen := make(map[string]bool, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
		if len(terms) == MaxTerms {
			break
		}
	}
	return terms
}

// LongestTerm returns the longest of terms, preferring the earliest on ties.
func LongestTerm(terms []string) string {
	longest := ""
	for _, t := range terms {
		if len([]rune(t)) > len([]rune(longest)) {
			longest = t
		}
	}
	return longest
}
