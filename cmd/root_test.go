package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findCommand(t *testing.T, parent *cobra.Command, name string) *cobra.Command {
	t.Helper()
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	t.Fatalf("command %q not registered", name)
	return nil
}

func TestCommandTree(t *testing.T) {
	ask := findCommand(t, rootCmd, "ask")
	for _, flag := range []string{"question", "fast", "turbo", "stream", "save-images", "output-dir", "show-browser", "debug"} {
		assert.NotNil(t, ask.Flags().Lookup(flag), "ask must define --%s", flag)
	}

	auth := findCommand(t, rootCmd, "auth")
	for _, sub := range []string{"setup", "status", "reauth", "clear", "validate"} {
		findCommand(t, auth, sub)
	}

	findCommand(t, rootCmd, "version")
}

func TestVersionCommandOutput(t *testing.T) {
	var out bytes.Buffer
	cmd := newVersionCmd()
	cmd.SetOut(&out)
	cmd.Run(cmd, nil)

	assert.Contains(t, out.String(), "openevidence-cli")
	assert.Contains(t, out.String(), Version)
}

func TestWaitForEnterConfirms(t *testing.T) {
	var prompt bytes.Buffer
	wait := waitForEnter(strings.NewReader("\n"), &prompt)

	require.NoError(t, wait(context.Background()))
	assert.Contains(t, prompt.String(), "Press ENTER")
}

func TestWaitForEnterAcceptsEOF(t *testing.T) {
	// A closed stdin (piped usage) counts as confirmation, matching EOF
	// semantics of a plain ReadString.
	wait := waitForEnter(strings.NewReader(""), io.Discard)
	require.NoError(t, wait(context.Background()))
}

func TestWaitForEnterHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wait := waitForEnter(blockedReader{}, io.Discard)
	err := wait(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// blockedReader never returns, standing in for a user who walked away.
type blockedReader struct{}

func (blockedReader) Read(p []byte) (int, error) {
	select {}
}
