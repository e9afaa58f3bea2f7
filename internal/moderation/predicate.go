// Package moderation implements the name-validity check and the
// approval predicate that gates publish/save_role: a boolean over
// role name/code flagging content requiring moderator review. Project
// code is scanned as raw text; bluemonday is used only by
// SanitizeDisplayName.
package moderation

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var nameRE = regexp.MustCompile(`^[\p{L}\p{N} ()\-_]+$`)

// ValidName accepts letters, digits, space, parens, dash, or
// underscore, length >= 1, and not itself flagged by the approval
// predicate.
func ValidName(name string) bool {
	if len(name) == 0 || !nameRE.MatchString(name) {
		return false
	}
	return !Flagged(name)
}

// triggers are substrings that force PendingApproval regardless of the
// profanity scan — constructs that warrant moderator review in untrusted
// user scripts (e.g. reflection/eval-style calls that can exfiltrate
// data).
var triggers = []string{
	"reportJSFunction",
	"<eval>",
	"javascript:",
}

// profanityList is intentionally small and illustrative; production
// deployments would swap in a maintained wordlist behind the same
// Flagged contract.
var profanityList = []string{
	"badword",
}

var sanitizer = bluemonday.StrictPolicy()

// Flagged implements the approval predicate: does this role name/code
// trip a moderation trigger or profanity match?
func Flagged(content string) bool {
	lower := strings.ToLower(content)
	for _, t := range triggers {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	for _, p := range profanityList {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// SanitizeDisplayName strips any markup from a name before it is echoed
// back in a broadcast or REST response, defense-in-depth alongside
// ValidName's stricter character-class gate.
func SanitizeDisplayName(name string) string {
	return sanitizer.Sanitize(name)
}

// ApprovalPredicate evaluates a project's roles for publish gating
// (publish/save_role contracts).
func ApprovalPredicate(roleNamesAndCode ...string) bool {
	for _, s := range roleNamesAndCode {
		if Flagged(s) {
			return true
		}
	}
	return false
}
