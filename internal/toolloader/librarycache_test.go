package toolloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLibraryCache_RecordAndLookup(t *testing.T) {
	c := NewLibraryCache()

	_, ok := c.Lookup("react")
	assert.False(t, ok)

	c.Record("react", "npm:react")
	id, ok := c.Lookup("react")
	assert.True(t, ok)
	assert.Equal(t, "npm:react", id)
}

func TestLibraryCache_ObservedStats(t *testing.T) {
	c := NewLibraryCache()
	c.Record("lodash", "npm:lodash")

	_, hit := c.LookupObserved("lodash")
	assert.True(t, hit)
	_, hit = c.LookupObserved("unknown")
	assert.False(t, hit)
	_, _ = c.LookupObserved("lodash")

	hits, misses := c.Stats()
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, misses)
}
