package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatLoop(t *testing.T) {
	bot := &echoResponder{}
	var out bytes.Buffer

	err := chatLoop(strings.NewReader("Good morrow\n\n  How now  \nquit\nnever read\n"), &out, bot)
	require.NoError(t, err)
	assert.Equal(t, []string{"Good morrow", "How now"}, bot.seen)
	assert.Equal(t, "> thou saidst Good morrow\n> > thou saidst How now\n> ", out.String())
}

func TestChatLoopEOF(t *testing.T) {
	bot := &echoResponder{}
	var out bytes.Buffer
	require.NoError(t, chatLoop(strings.NewReader("hi"), &out, bot))
	assert.Equal(t, []string{"hi"}, bot.seen)
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Metric", "Count"}, [][]string{{"pairs", "12"}, {"short"}}, []columnAlignment{alignLeft, alignRight})
	assert.Contains(t, out, "METRIC")
	assert.Contains(t, out, "pairs")
	assert.Contains(t, out, "12")
	assert.Equal(t, "", renderTable(nil, nil, nil))
}

func TestShortSession(t *testing.T) {
	assert.Equal(t, "5b3c9a9e", shortSession("5b3c9a9e-8f7d-4c36"))
	assert.Equal(t, "abc", shortSession("abc"))
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandHelp(t *testing.T) {
	out, err := runRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "emdbot")
	assert.Contains(t, out, "train")
}

func TestConfigShowCommand(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "absent.toml")

	out, err := runRoot(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "# source: "+path+" (not found, using defaults)")
	assert.Contains(t, out, "vocab_size = 55000")
	assert.Contains(t, out, "[training]")
}

func TestHistoryCommandEmpty(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DATA_DIR", t.TempDir())

	out, err := runRoot(t, "history", "--config", filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Contains(t, out, "No exchanges recorded")
}

func TestWordCountCommand(t *testing.T) {
	clearConfigEnv(t)
	dataDir := t.TempDir()
	t.Setenv("DATA_DIR", dataDir)
	cfgPath := filepath.Join(t.TempDir(), "none.toml")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "shakespeare.txt"), []byte("Good morrow.\n\nHow now?\n\nWell."), 0o644))

	out, err := runRoot(t, "wordcount", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "pairs")
	assert.Contains(t, out, "2")
}
