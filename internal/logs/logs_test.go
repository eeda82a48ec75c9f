package logs

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	f, err := OpenRotatingFile(path, 16)
	require.NoError(t, err)

	_, err = f.Write([]byte("0123456789\n"))
	require.NoError(t, err)
	_, err = f.Write([]byte("abcdefghij\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghij\n", string(current))

	previous, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "0123456789\n", string(previous))

	_, err = f.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestRotatingFile_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0600))

	f, err := OpenRotatingFile(path, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("new\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old\nnew\n", string(data))
	assert.NoFileExists(t, path+".1")
}

func TestSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	var console bytes.Buffer

	logger, closer, err := Setup(Options{Path: path, Console: &console, Quiet: true})
	require.NoError(t, err)

	logger.Info().Msg("backup started")
	logger.Debug().Msg("hidden everywhere")
	logger.Warn().Msg("disk almost full")
	require.NoError(t, closer.Close())

	assert.NotContains(t, console.String(), "backup started")
	assert.Contains(t, console.String(), "disk almost full")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"backup started"`)
	assert.Contains(t, string(data), `"message":"disk almost full"`)
	assert.False(t, strings.Contains(string(data), "hidden everywhere"))
}

func TestSetup_Debug(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := Setup(Options{Debug: true, Console: &console})
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug().Msg("verbose")
	assert.Contains(t, console.String(), "verbose")
}
