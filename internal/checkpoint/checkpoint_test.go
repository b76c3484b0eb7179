package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"jobtree/internal/jobrecord"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(dir, name string, colour jobrecord.Colour) *jobrecord.Record {
	return &jobrecord.Record{
		File:      filepath.Join(dir, name),
		Colour:    colour,
		FollowOns: []jobrecord.FollowOn{{Command: "run"}},
	}
}

func TestWriteCommitsAllRecordsAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	parent := newRecord(dir, "parent.job", jobrecord.Blue)
	child := newRecord(dir, "child.job", jobrecord.White)

	require.NoError(t, Write([]*jobrecord.Record{parent, child}))

	assert.FileExists(t, parent.File)
	assert.FileExists(t, child.File)
	assert.NoFileExists(t, parent.File+".updating")
	assert.NoFileExists(t, parent.File+".new")
	assert.NoFileExists(t, child.File+".new")

	got, err := jobrecord.ReadFile(parent.File)
	require.NoError(t, err)
	assert.Equal(t, jobrecord.Blue, got.Colour)
}

func TestWriteRejectsWhenManifestAlreadyInProgress(t *testing.T) {
	dir := t.TempDir()
	r := newRecord(dir, "job.job", jobrecord.White)
	require.NoError(t, os.WriteFile(r.File+".updating", []byte(""), 0o644))

	err := Write([]*jobrecord.Record{r})
	require.Error(t, err)
}

func TestWriteRejectsWhenNewFileAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	r := newRecord(dir, "job.job", jobrecord.White)
	require.NoError(t, os.WriteFile(r.File+".new", []byte(""), 0o644))

	err := Write([]*jobrecord.Record{r})
	require.Error(t, err)
}

func TestWriteEmptyJobsIsAnError(t *testing.T) {
	require.Error(t, Write(nil))
}
