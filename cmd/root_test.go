package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/permitwatch/internal/notify/webpush"
)

func TestVAPIDKeysCommand(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"vapid-keys", "--config", "/does/not/exist.yaml"})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	public := strings.TrimPrefix(lines[0], "PERMITWATCH_NOTIFY_VAPID_PUBLIC_KEY=")
	private := strings.TrimPrefix(lines[1], "PERMITWATCH_NOTIFY_VAPID_PRIVATE_KEY=")
	require.NoError(t, webpush.ValidateKeys(public, private))
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--config", path})
	err := root.Execute()
	require.ErrorContains(t, err, "server.port")
}

func TestResolveRuntimeRequiresPreRun(t *testing.T) {
	t.Parallel()

	_, err := resolveRuntime(t.Context())
	require.Error(t, err)
}
