package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd(&app{})

	for _, path := range [][]string{
		{"backup"},
		{"stop"},
		{"status"},
		{"link"},
		{"unlink"},
		{"schedule", "register"},
		{"schedule", "unregister"},
		{"schedule", "set"},
		{"patterns"},
		{"include"},
		{"exclude"},
		{"history"},
		{"daemon"},
		{"version"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	backupCmd, _, err := root.Find([]string{"backup"})
	require.NoError(t, err)
	assert.NotNil(t, backupCmd.Flags().Lookup("force"))
	assert.NotNil(t, backupCmd.Flags().Lookup("background"))
}

func TestVersionSkipsAgentSetup(t *testing.T) {
	a := &app{}
	root := newRootCmd(a)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Nil(t, a.agent)
}
