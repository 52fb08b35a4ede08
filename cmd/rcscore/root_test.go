package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubcommandsRegistered(t *testing.T) {
	for _, name := range []string{"register", "options", "message", "serve"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestArgumentValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"options without target", []string{"options"}},
		{"message without text", []string{"message", "sip:bob@ims.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetOut(&out)
			rootCmd.SetErr(&out)
			rootCmd.SetArgs(tt.args)
			assert.Error(t, rootCmd.Execute())
		})
	}
}

func TestMessageFlagsDefaults(t *testing.T) {
	flag := messageCmd.Flags().Lookup("type")
	require.NotNil(t, flag)
	assert.Equal(t, "text/plain", flag.DefValue)
}
