package learning

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/quantumflow/assistcore/internal/models"
)

// CorrectionPattern is the generalizable part of a mistake correction:
// the words to stop producing and the words the user wanted instead.
type CorrectionPattern struct {
	CorrectionID string            `json:"correction_id"`
	Intent       models.IntentType `json:"intent"`
	Avoid        string            `json:"avoid"`
	Prefer       string            `json:"prefer"`
	CommandText  string            `json:"command_text"`
}

// diffCorrection compares the incorrect and corrected text word by word.
// ok is false when the texts carry no word-level difference.
func diffCorrection(incorrect, corrected string) (avoid, prefer string, ok bool) {
	a := strings.Fields(incorrect)
	b := strings.Fields(corrected)

	var removed, added []string
	matcher := difflib.NewMatcher(a, b)
	for _, op := range matcher.GetOpCodes() {
		switch op.Tag {
		case 'r':
			removed = append(removed, a[op.I1:op.I2]...)
			added = append(added, b[op.J1:op.J2]...)
		case 'd':
			removed = append(removed, a[op.I1:op.I2]...)
		case 'i':
			added = append(added, b[op.J1:op.J2]...)
		}
	}

	if len(removed) == 0 && len(added) == 0 {
		return "", "", false
	}
	return strings.Join(removed, " "), strings.Join(added, " "), true
}
