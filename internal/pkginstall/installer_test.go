package pkginstall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/microtask/dispatch/internal/config"
)

func testInstaller(t *testing.T, command string) *Installer {
	t.Helper()
	return NewInstaller(&config.PackageInstallEnv{
		InstallCommand: command,
		InstallDir:     t.TempDir(),
		InstallTimeout: 10 * time.Second,
	}, nil, nil)
}

func TestInstallRunsCommand(t *testing.T) {
	i := testInstaller(t, "echo installing")
	assert.True(t, i.Install(context.Background(), "date-fns"))
}

func TestInstallReportsCommandFailure(t *testing.T) {
	i := testInstaller(t, "false")
	assert.False(t, i.Install(context.Background(), "date-fns"))
}

func TestInstallRefusesUnsafeNames(t *testing.T) {
	i := testInstaller(t, "echo installing")
	for _, pkg := range []string{
		"",
		"-rf",
		"left-pad; rm -rf /",
		"$(whoami)",
		"name with spaces",
	} {
		assert.False(t, i.Install(context.Background(), pkg), "package %q must be refused", pkg)
	}
}

func TestInstallAcceptsTypicalNames(t *testing.T) {
	i := testInstaller(t, "echo installing")
	for _, pkg := range []string{
		"date-fns",
		"lodash.merge",
		"@scope/pkg",
		"react@18.2.0",
		"@types/node@^20",
	} {
		assert.True(t, i.Install(context.Background(), pkg), "package %q should be accepted", pkg)
	}
}

func TestInstallRejectsBadCommandTemplate(t *testing.T) {
	i := testInstaller(t, "npm install 'unclosed")
	assert.False(t, i.Install(context.Background(), "date-fns"))
}
