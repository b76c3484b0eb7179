package jobrecord

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectivesRoundTrip(t *testing.T) {
	jobFile := filepath.Join(t.TempDir(), "job.job")

	d := Directives{
		Children:  []ChildDescriptor{{Command: "child"}},
		FollowOns: []FollowOn{{Command: "more"}},
	}
	require.NoError(t, WriteDirectives(jobFile, d))

	got, err := ReadDirectives(jobFile)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	require.NoError(t, RemoveDirectives(jobFile))
	got, err = ReadDirectives(jobFile)
	require.NoError(t, err)
	assert.Equal(t, Directives{}, got)
}

func TestReadDirectivesMissingIsZeroValue(t *testing.T) {
	got, err := ReadDirectives(filepath.Join(t.TempDir(), "no-such.job"))
	require.NoError(t, err)
	assert.Equal(t, Directives{}, got)
}

func TestRemoveDirectivesMissingIsNotAnError(t *testing.T) {
	require.NoError(t, RemoveDirectives(filepath.Join(t.TempDir(), "no-such.job")))
}
