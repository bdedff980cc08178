package services

import (
	"strings"

	"heron/internal/spreadsheet"
)

// FilterNewContacts drops every candidate whose email is on the suppression
// list (lower-cased emails already messaged in any campaign) and returns the
// survivors plus the number skipped. Stored emails keep their casing.
func FilterNewContacts(candidates []spreadsheet.ContactRow, suppressed map[string]struct{}) ([]spreadsheet.ContactRow, int) {
	kept := make([]spreadsheet.ContactRow, 0, len(candidates))
	for _, candidate := range candidates {
		if _, ok := suppressed[strings.ToLower(candidate.Email)]; ok {
			continue
		}
		kept = append(kept, candidate)
	}
	return kept, len(candidates) - len(kept)
}
