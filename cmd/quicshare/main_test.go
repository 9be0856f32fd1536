package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/quicshare/internal/config"
)

func TestRootFlagsBindConfig(t *testing.T) {
	cfg := config.DefaultPeerConfig()
	root := newRootCmd(&cfg)

	require.NoError(t, root.PersistentFlags().Parse([]string{
		"--signal-url", "https://signal.example.com",
		"--port", "55441",
		"-y",
		"--out", "/tmp/in",
		"--send", "file.bin",
	}))
	assert.Equal(t, "https://signal.example.com", cfg.SignalURL)
	assert.Equal(t, 55441, cfg.Port)
	assert.True(t, cfg.AutoAccept)
	assert.Equal(t, "/tmp/in", cfg.OutDir)

	send, err := root.PersistentFlags().GetString("send")
	require.NoError(t, err)
	assert.Equal(t, "file.bin", send)
}

func TestSubcommands(t *testing.T) {
	cfg := config.DefaultPeerConfig()
	root := newRootCmd(&cfg)

	join, _, err := root.Find([]string{"join", "ABCD2345"})
	require.NoError(t, err)
	assert.Equal(t, "join", join.Name())
	assert.Error(t, join.Args(join, nil))
	assert.NoError(t, join.Args(join, []string{"ABCD2345"}))

	host, _, err := root.Find([]string{"host"})
	require.NoError(t, err)
	assert.Error(t, host.Args(host, []string{"extra"}))
}
