package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"heron/internal/spreadsheet"
)

func TestFilterNewContacts(t *testing.T) {
	candidates := []spreadsheet.ContactRow{
		{Name: "Ada", Email: "ada@example.com"},
		{Name: "Bob", Email: "Bob@Example.com"},
		{Name: "Cleo", Email: "cleo@example.com"},
	}
	suppressed := map[string]struct{}{
		"bob@example.com": {},
	}

	kept, skipped := FilterNewContacts(candidates, suppressed)

	assert.Equal(t, 1, skipped)
	if assert.Len(t, kept, 2) {
		assert.Equal(t, "ada@example.com", kept[0].Email)
		assert.Equal(t, "cleo@example.com", kept[1].Email)
	}
}

func TestFilterNewContactsEmptySuppression(t *testing.T) {
	candidates := []spreadsheet.ContactRow{
		{Name: "Ada", Email: "ada@example.com"},
	}

	kept, skipped := FilterNewContacts(candidates, map[string]struct{}{})

	assert.Zero(t, skipped)
	assert.Len(t, kept, 1)
}

func TestFilterNewContactsAllSuppressed(t *testing.T) {
	candidates := []spreadsheet.ContactRow{
		{Name: "Ada", Email: "ada@example.com"},
	}
	suppressed := map[string]struct{}{"ada@example.com": {}}

	kept, skipped := FilterNewContacts(candidates, suppressed)

	assert.Equal(t, 1, skipped)
	assert.Empty(t, kept)
}
