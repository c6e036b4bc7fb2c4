//go:build integration

package testhelpers

import (
	"context"
	"crypto/rand"
	"path/filepath"
	"testing"

	"github.com/crawlkit/signbridge/internal/cache/encryption"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

const valkeyPort = "6379/tcp"

// RunValkeyContainer starts a password-protected Valkey container and returns
// a cache configuration pointing at it, with encryption enabled through a
// throwaway keyset file. The container is terminated when the test ends.
func RunValkeyContainer(t *testing.T) config.CacheConfig {
	t.Helper()
	ctx := context.Background()

	password := rand.Text()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "valkey/valkey:9-alpine",
			Env: map[string]string{
				"VALKEY_EXTRA_FLAGS": "--requirepass " + password,
			},
			ExposedPorts: []string{valkeyPort},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort(nat.Port(valkeyPort)),
			),
		},
		Started: true,
		Logger:  log.TestLogger(t),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	port, err := container.MappedPort(ctx, nat.Port(valkeyPort))
	require.NoError(t, err)

	keysetFile := filepath.Join(t.TempDir(), "keyset.json")
	require.NoError(t, encryption.WriteKeysetFile(keysetFile))

	return config.CacheConfig{
		Type:       "valkey",
		MaxEntries: 100,
		Valkey: config.ValkeyConfig{
			// IPv4 loopback avoids dual-stack resolution in CI
			Address:  "127.0.0.1:" + port.Port(),
			Username: "default",
			Password: password,
		},
		Encryption: config.CacheEncryptionConfig{
			Enabled:    true,
			KeysetFile: keysetFile,
		},
	}
}
