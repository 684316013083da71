package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertedSetFirstSeen(t *testing.T) {
	a := newAlertedSet(0)

	assert.True(t, a.firstSeen(1))
	assert.False(t, a.firstSeen(1), "second sighting is not first")
	assert.True(t, a.firstSeen(2))
	assert.Equal(t, 2, a.size())
}

func TestAlertedSetSeededFromStorage(t *testing.T) {
	a := newAlertedSet(100)

	assert.False(t, a.firstSeen(50), "id recorded before restart")
	assert.False(t, a.firstSeen(100))
	assert.True(t, a.firstSeen(101))
	assert.Equal(t, 1, a.size(), "seeded ids are not re-tracked")
}
