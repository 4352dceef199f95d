//go:build integration

// Package integration runs the harness scenarios against a real image.
// They need docker or podman:
//
//	SFTPBOX_TEST_IMAGE=sftpbox:dev go test -tags integration ./test/integration/...
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bacalhau-project/sftpbox/pkg/container"
	"github.com/bacalhau-project/sftpbox/pkg/harness"
	"github.com/bacalhau-project/sftpbox/pkg/logger"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

const defaultImage = "sftpbox:integration"

// checkTestcontainersAvailable reports whether a container provider can be
// reached. The provider lookup panics on some hosts without a daemon.
func checkTestcontainersAvailable() (available bool) {
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		return false
	}
	defer provider.Close()
	return true
}

func imageUnderTest(t *testing.T, ctx context.Context, engine container.Engine) string {
	image := os.Getenv("SFTPBOX_TEST_IMAGE")
	if image == "" {
		image = defaultImage
	}
	exists, err := engine.ImageExists(ctx, image)
	require.NoError(t, err)
	if exists {
		return image
	}

	root, err := filepath.Abs(filepath.Join("..", ".."))
	require.NoError(t, err)
	t.Logf("building %s from %s", image, root)
	require.NoError(t, engine.Build(ctx, container.BuildOptions{
		ContextDir: root,
		Dockerfile: filepath.Join(root, "Dockerfile"),
		Tag:        image,
	}))
	return image
}

func TestScenarios(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	engine, err := container.AutoDetectEngine()
	if err != nil {
		t.Skipf("skipping integration tests: %v", err)
	}
	if engine.Name() == string(container.EngineTypeDocker) && !checkTestcontainersAvailable() {
		t.Skip("skipping integration tests: docker daemon not reachable")
	}

	tl := logger.InstallTestLogger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Minute)
	defer cancel()

	settings := harness.Settings{
		Image:        imageUnderTest(t, ctx, engine),
		ReadyTimeout: 60 * time.Second,
	}
	runner := harness.NewRunner(engine, settings,
		harness.WithSkipPrivileged(os.Getenv("SFTPBOX_TEST_SKIP_PRIVILEGED") != ""))

	for _, s := range harness.Catalog() {
		t.Run(s.Name, func(t *testing.T) {
			results := runner.Run(ctx, []harness.Scenario{s})
			require.Len(t, results, 1)
			r := results[0]
			if r.Skipped {
				t.Skip("privileged scenarios disabled")
			}
			if !r.Passed {
				tl.PrintLogs(t)
				t.Logf("container logs:\n%s", r.Logs)
			}
			require.NoError(t, r.Err)
		})
	}
}
