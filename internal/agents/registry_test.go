package agents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func writeDescriptor(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDescriptors_FilenameOrder(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "20-search.yaml", "name: search\nkind: search\nkeywords: [find]\n")
	writeDescriptor(t, dir, "10-general.yaml", "name: general\nkind: llm\nfallback: true\nkeywords: [help]\n")
	writeDescriptor(t, dir, "notes.txt", "not a descriptor")

	descriptors, err := LoadDescriptors(dir)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)
	assert.Equal(t, "general", descriptors[0].Name)
	assert.Equal(t, "search", descriptors[1].Name)
	assert.True(t, descriptors[0].Fallback)
	assert.Equal(t, []string{"find"}, descriptors[1].Keywords)
}

func TestLoadDescriptors_MissingDirIsEmpty(t *testing.T) {
	descriptors, err := LoadDescriptors(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Nil(t, descriptors)

	descriptors, err = LoadDescriptors("")
	require.NoError(t, err)
	assert.Nil(t, descriptors)
}

func TestLoadDescriptors_RejectsUnknownKind(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "bad.yaml", "name: widget\nkind: widget\n")

	_, err := LoadDescriptors(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestLoadDescriptors_RejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "anon.yaml", "kind: llm\n")

	_, err := LoadDescriptors(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")
}

func TestBuild_DefaultsWhenNoDescriptors(t *testing.T) {
	roster, fallback, err := Build(nil, Deps{}, arbor.NewLogger())
	require.NoError(t, err)
	require.NotEmpty(t, roster)
	require.NotNil(t, fallback)
	assert.Equal(t, "general", fallback.Name())

	names := make([]string, 0, len(roster))
	for _, agent := range roster {
		names = append(names, agent.Name())
	}
	assert.Equal(t, []string{"general", "code", "documents", "search"}, names)
}

func TestBuild_ExplicitFallbackWins(t *testing.T) {
	descriptors := []Descriptor{
		{Name: "first", Kind: "llm"},
		{Name: "picked", Kind: "code", Fallback: true},
	}
	_, fallback, err := Build(descriptors, Deps{}, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "picked", fallback.Name())
}

func TestBuild_FirstLLMIsImplicitFallback(t *testing.T) {
	descriptors := []Descriptor{
		{Name: "searcher", Kind: "search"},
		{Name: "talker", Kind: "llm"},
		{Name: "other", Kind: "llm"},
	}
	_, fallback, err := Build(descriptors, Deps{}, arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, "talker", fallback.Name())
}

func TestBuild_NoFallbackAvailable(t *testing.T) {
	descriptors := []Descriptor{
		{Name: "searcher", Kind: "search"},
	}
	_, _, err := Build(descriptors, Deps{}, arbor.NewLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fallback agent")
}
