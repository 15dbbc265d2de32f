package labels

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikiluvv/deepfake-detection/internal/errs"
)

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeMetadata(t, `{
		"a.mp4": {"label": "REAL", "split": "train"},
		"b.mp4": {"label": "FAKE", "split": "train", "original": "a.mp4"}
	}`)

	idx, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []string{"a.mp4", "b.mp4"}, idx.Names())

	got, err := idx.Lookup("a.mp4")
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	got, err = idx.Lookup("b.mp4")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestLookupMissing(t *testing.T) {
	idx, err := Parse("inline", []byte(`{"a.mp4": {"label": "REAL"}}`))
	require.NoError(t, err)

	_, err = idx.Lookup("zzz.mp4")
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errs.IsConfiguration(err))

	_, err = Load(writeMetadata(t, `{not json`))
	assert.True(t, errs.IsConfiguration(err))

	_, err = Load(writeMetadata(t, `{"a.mp4": {"label": "MAYBE"}}`))
	assert.True(t, errs.IsConfiguration(err))
}

func TestClassName(t *testing.T) {
	assert.Equal(t, Real, ClassName(0))
	assert.Equal(t, Fake, ClassName(1))
	assert.Equal(t, "", ClassName(7))
	assert.Equal(t, 2, NumClasses)
}
