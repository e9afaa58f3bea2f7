package moderation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidNameAcceptsPlainNames(t *testing.T) {
	assert.True(t, ValidName("My Project (2)"))
	assert.True(t, ValidName("proj_name-1"))
}

func TestValidNameRejectsEmpty(t *testing.T) {
	assert.False(t, ValidName(""))
}

func TestValidNameRejectsDisallowedCharacters(t *testing.T) {
	assert.False(t, ValidName("name<script>"))
	assert.False(t, ValidName("a/b"))
}

func TestValidNameRejectsFlaggedContent(t *testing.T) {
	assert.False(t, ValidName("reportJSFunction hack"))
}

func TestFlaggedDetectsTriggersCaseInsensitively(t *testing.T) {
	assert.True(t, Flagged("JAVASCRIPT:alert(1)"))
	assert.True(t, Flagged("contains BadWord here"))
	assert.False(t, Flagged("perfectly normal code"))
}

func TestSanitizeDisplayNameStripsMarkup(t *testing.T) {
	out := SanitizeDisplayName("<b>bob</b>")
	assert.NotContains(t, out, "<b>")
}

func TestApprovalPredicate(t *testing.T) {
	assert.True(t, ApprovalPredicate("role1", "javascript:doBadThing()"))
	assert.False(t, ApprovalPredicate("role1", "role2"))
}
