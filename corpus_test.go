package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairs(t *testing.T) {
	assert.Nil(t, Pairs(nil))
	assert.Nil(t, Pairs([]string{"alone"}))
	assert.Equal(t,
		[]Pair{{"a", "b"}, {"b", "c"}},
		Pairs([]string{"a", "b", "c"}))
}

func TestReadShakespeare(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shakespeare.txt")
	text := "THE TEMPEST\n\nACT I\n\nFirst speech here.\n\nSecond speech.\n\nSCENE II\n\nThird one."
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	pairs, err := ReadShakespeare(path)
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{"First speech here.", "Second speech."},
		{"Second speech.", "Third one."},
	}, pairs)
}

const cedSample = "<intro text>\n" +
	"[$Enter the Judge.$]\n" +
	"(^Judge^). What say you?[^a note^]\n" +
	"[}Pause}]\n" +
	"Prisoner. Not guilty.\n" +
	"[$Exit$]."

func TestCleanCEDText(t *testing.T) {
	lines, err := cleanCEDText(cedSample)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"\nJudge. What say you?",
		"\nPrisoner. Not guilty.",
	}, lines)
}

func TestReadCED(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "D1CBOOK.txt"), []byte(cedSample), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "D2XSKIP.txt"), []byte(cedSample), 0o644))

	pairs, err := ReadCED(dir, nil)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "\nJudge. What say you?", pairs[0].Input)
	assert.Equal(t, "\nPrisoner. Not guilty.", pairs[0].Output)
}

func TestReadCEDTextLatin1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "D1CLATIN.txt")
	require.NoError(t, os.WriteFile(path, []byte("[$Enter$]\nA caf\xe9 here.\n[$Exit$]\nAnd there."), 0o644))

	lines, err := ReadCEDText(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"\nA café here.", "\nAnd there."}, lines)
}

func TestReadCEDXML(t *testing.T) {
	dir := t.TempDir()
	doc := `<?xml version="1.0" encoding="ISO-8859-1"?>
<dialogueDoc>
  <dialogueText>
    <dialogue>Good morrow.</dialogue>
    <dialogue><speaker>BEN</speaker>How now?</dialogue>
    <dialogue>   </dialogue>
    <dialogue>Well.</dialogue>
  </dialogueText>
</dialogueDoc>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "D1CXML.xml"), []byte(doc), 0o644))

	pairs, err := ReadCEDXML(dir)
	require.NoError(t, err)
	assert.Equal(t, []Pair{
		{"Good morrow.", "How now?"},
		{"How now?", "Well."},
	}, pairs)
}

func TestWordCount(t *testing.T) {
	stats := WordCount([]Pair{
		{"Good morrow.", "How now?"},
		{"How now?", "Good."},
	})
	assert.Equal(t, 2, stats.Pairs)
	assert.Equal(t, 11, stats.TotalWords)
	assert.Equal(t, 6, stats.UniqueWords)
}
