package guest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalGuestRunCapturesOutputAndExitCode(t *testing.T) {
	g := &LocalGuest{name: "localhost"}
	exitCode, stdout, _, err := g.Run(context.Background(), []string{"sh", "-c", "echo hello; exit 3"}, nil, 5*time.Second, false)
	require.NoError(t, err)
	assert.Equal(t, 3, exitCode)
	assert.Contains(t, stdout, "hello")
}

func TestLocalGuestPushPull(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	g := &LocalGuest{name: "localhost"}
	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, g.Push(context.Background(), src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestLocalGuestRebootUnsupported(t *testing.T) {
	g := &LocalGuest{name: "localhost"}
	assert.False(t, g.SupportsReboot())
	err := g.Reboot(context.Background(), "", time.Second)
	assert.Error(t, err)
}

func TestRegistryAcquireLocal(t *testing.T) {
	r := NewRegistry()
	g, err := r.Acquire(context.Background(), Spec{How: "local", Name: "h1"})
	require.NoError(t, err)
	assert.Equal(t, "h1", g.Name())
}

func TestRegistrySupportsParallel(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.SupportsParallel([]string{"local", "local"}))
	assert.False(t, r.SupportsParallel([]string{"local", "unknown"}))
}

func TestRenderTopologyBashAndYAML(t *testing.T) {
	topologies := []Topology{
		{Name: "client", Role: "workers", Addresses: map[string]string{"ipv4": "10.0.0.1"}},
		{Name: "server", Role: "control", Addresses: map[string]string{"ipv4": "10.0.0.2"}},
	}
	bash := string(RenderTopologyBash(topologies))
	assert.Contains(t, bash, "TMT_GUESTS=(client server)")
	assert.Contains(t, bash, `TMT_GUEST_CLIENT_HOSTNAME="10.0.0.1"`)
	assert.Contains(t, bash, "TMT_ROLE_WORKERS=(client)")

	yamlDoc, err := RenderTopologyYAML(topologies)
	require.NoError(t, err)
	assert.Contains(t, string(yamlDoc), "client:")
	assert.Contains(t, string(yamlDoc), "workers:")
}
