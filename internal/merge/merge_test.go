package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func overwrite() Policies {
	return Policies{Horizontal: HorizontalOverwrite, Vertical: VerticalParent}
}

func TestValidate(t *testing.T) {
	require.NoError(t, overwrite().Validate())

	assert.Error(t, Policies{}.Validate())
	assert.Error(t, Policies{Horizontal: HorizontalOverwrite}.Validate())
	assert.Error(t, Policies{Horizontal: "SHUFFLE", Vertical: VerticalChild}.Validate())
	assert.Error(t, Policies{Horizontal: HorizontalOverwrite, Vertical: "SIDEWAYS"}.Validate())
}

func TestResolve_OverwriteHighestVersionWins(t *testing.T) {
	use, err := Resolve(overwrite(), "1", "2")
	require.NoError(t, err)
	assert.True(t, use)

	use, err = Resolve(overwrite(), "2", "1")
	require.NoError(t, err)
	assert.False(t, use)

	// Equal versions keep the existing value so retries are no-ops.
	use, err = Resolve(overwrite(), "3", "3")
	require.NoError(t, err)
	assert.False(t, use)
}

func TestResolve_AggregateUnspecified(t *testing.T) {
	p := Policies{Horizontal: HorizontalAggregate, Vertical: VerticalChild}
	_, err := Resolve(p, "1", "2")
	assert.Error(t, err)
}

func TestCompareVersions(t *testing.T) {
	// Numeric stamps compare as integers.
	assert.Equal(t, 1, CompareVersions("10", "9"))
	assert.Equal(t, -1, CompareVersions("2", "11"))
	assert.Equal(t, 0, CompareVersions("7", "7"))

	// Non-numeric stamps compare lexicographically.
	assert.Equal(t, -1, CompareVersions("2024-01", "2024-02"))
	assert.Equal(t, 1, CompareVersions("v2", "v1"))
}

func TestInheritsDown(t *testing.T) {
	assert.True(t, Policies{Horizontal: HorizontalOverwrite, Vertical: VerticalParent}.InheritsDown())
	assert.False(t, Policies{Horizontal: HorizontalOverwrite, Vertical: VerticalChild}.InheritsDown())
}
