// Package validation holds the input gates of the Deep Search conversation. Every rule
// is pure and total: it only ever answers true or false.
package validation

import (
	"regexp"
	"strings"
	"unicode"
)

const minLetters = 3

var patientIDPattern = regexp.MustCompile(`^[Pp][0-9]{3,}$`)

// IsPatientIdentifier reports whether text is a patient id such as P1001.
func IsPatientIdentifier(text string) bool {
	return patientIDPattern.MatchString(strings.TrimSpace(text))
}

// IsPatientNameQuery reports whether text has enough letters to search by name.
func IsPatientNameQuery(text string) bool {
	return countLetters(text) >= minLetters
}

func IsValidPatientLookup(text string) bool {
	return IsPatientIdentifier(text) || IsPatientNameQuery(text)
}

// IsMeaningfulQuestion rejects greetings and keyboard noise before a deep query.
func IsMeaningfulQuestion(text string) bool {
	return countLetters(text) >= minLetters
}

func countLetters(text string) int {
	n := 0
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
