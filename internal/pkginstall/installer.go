// Package pkginstall resolves PENDING_PACKAGE work items: it installs the
// requested package into the worker sandbox and reports the result back to
// the outcome processor.
package pkginstall

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"mvdan.cc/sh/v3/shell"

	"github.com/microtask/dispatch/internal/config"
	"github.com/microtask/dispatch/internal/dispatch"
	"github.com/microtask/dispatch/internal/eventbus"
	"github.com/microtask/dispatch/internal/work"
	"github.com/microtask/dispatch/pkg/cerr"
	"github.com/microtask/dispatch/pkg/panicerr"
)

// packageNamePattern covers npm package names including scoped ones and
// version suffixes. Anything else is refused before it reaches a shell.
var packageNamePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[a-z0-9][a-z0-9._-]*(@[a-zA-Z0-9.^~><=*-]+)?$`)

type Installer struct {
	env       *config.PackageInstallEnv
	bus       *eventbus.Bus
	processor *dispatch.Processor
}

func NewInstaller(env *config.PackageInstallEnv, bus *eventbus.Bus, processor *dispatch.Processor) *Installer {
	return &Installer{
		env:       env,
		bus:       bus,
		processor: processor,
	}
}

// Run consumes the event bus until ctx is cancelled, installing the package
// behind every PENDING_PACKAGE work item it sees.
func (i *Installer) Run(ctx context.Context) {
	subID, ch := i.bus.Subscribe(256)
	defer i.bus.Unsubscribe(subID)

	slog.Info("package installer started", "command", i.env.InstallCommand, "dir", i.env.InstallDir)
	for {
		select {
		case <-ctx.Done():
			slog.Info("package installer stopped")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if event.Type != eventbus.EventTypeWorkGenerated {
				continue
			}
			if event.Metadata["status"] != string(work.StatusPendingPackage) {
				continue
			}
			if err := panicerr.SafeContext(func(ctx context.Context) error {
				return i.handle(ctx, event)
			})(ctx); err != nil {
				slog.ErrorContext(ctx, "package install failed", "work_id", event.ResourceID, "error", err)
			}
		}
	}
}

func (i *Installer) handle(ctx context.Context, event *eventbus.Event) error {
	workID, err := strconv.ParseInt(event.ResourceID, 10, 64)
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("bad work id %q: %w", event.ResourceID, err))
	}
	pkg := event.Metadata["package"]

	installed := i.Install(ctx, pkg)
	return i.processor.ResolvePackage(ctx, workID, installed)
}

// Install runs the configured install command for the package and reports
// whether it succeeded. The command template is split with shell word rules;
// the package name is passed as a single argument, never interpolated.
func (i *Installer) Install(ctx context.Context, pkg string) bool {
	if !packageNamePattern.MatchString(pkg) {
		slog.WarnContext(ctx, "refusing to install package with unsafe name", "package", pkg)
		return false
	}

	fields, err := shell.Fields(i.env.InstallCommand, nil)
	if err != nil || len(fields) == 0 {
		slog.ErrorContext(ctx, "invalid install command", "command", i.env.InstallCommand, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, i.env.InstallTimeout)
	defer cancel()

	args := append(fields[1:], pkg)
	cmd := exec.CommandContext(ctx, fields[0], args...)
	cmd.Dir = i.env.InstallDir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.ErrorContext(ctx, "package install command failed",
			"package", pkg, "error", err, "output", string(output))
		return false
	}
	slog.InfoContext(ctx, "package installed", "package", pkg, "took", time.Since(start))
	return true
}
