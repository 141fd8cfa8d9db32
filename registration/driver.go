package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

// DefaultTimeout bounds a single runner configure invocation.
const DefaultTimeout = 5 * time.Minute

// DefaultLauncher starts the runner listener from its installation directory.
var DefaultLauncher = []string{"dotnet", "bin/Runner.Listener.dll"}

// WorkingArea is the disposable directory a single runner is configured in.
type WorkingArea struct {
	// Root is <base>/<name>-<session>. Removing it removes everything.
	Root string

	// RunnerDir is the private copy of the runner installation, <root>/runner.
	RunnerDir string
}

// Remove deletes the working area recursively.
func (w *WorkingArea) Remove() error {
	return os.RemoveAll(w.Root)
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	// RunnerDir is the runner installation copied for every registration. It is never modified.
	RunnerDir string

	// Launcher is the command prefix the configure arguments are appended to.
	// Relative paths other than the first element resolve inside the copied runner directory.
	Launcher []string

	// BaseDir holds the working areas, os.TempDir() when empty.
	BaseDir string

	// Timeout bounds a configure run, DefaultTimeout when zero.
	Timeout time.Duration
}

// Driver runs the runner's configure command in an isolated copy of its installation.
type Driver struct {
	cfg    DriverConfig
	runner interfaces.ProcessRunner
	log    *slog.Logger
}

// NewDriver creates a driver executing invocations with runner.
func NewDriver(cfg DriverConfig, runner interfaces.ProcessRunner, log *slog.Logger) (*Driver, error) {
	if cfg.RunnerDir == "" {
		return nil, errors.New("missing runner installation directory")
	}
	if len(cfg.Launcher) == 0 {
		cfg.Launcher = DefaultLauncher
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = os.TempDir()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Driver{cfg: cfg, runner: runner, log: log}, nil
}

// WorkingArea returns the working area location for name within session.
func (d *Driver) WorkingArea(session *Session, name string) *WorkingArea {
	root := filepath.Join(d.cfg.BaseDir, name+"-"+session.ID.String())
	return &WorkingArea{Root: root, RunnerDir: filepath.Join(root, "runner")}
}

// Invocation builds the configure command for name.
func (d *Driver) Invocation(session *Session, name string, area *WorkingArea) *interfaces.Invocation {
	args := append([]string{}, d.cfg.Launcher[1:]...)
	args = append(args,
		"configure",
		"--name", name,
		"--token", session.RegistrationToken,
		"--url", session.RepositoryURL,
		"--labels", strings.Join(session.Labels, ","),
		"--replace",
		"--unattended",
	)
	return &interfaces.Invocation{
		Path: d.cfg.Launcher[0],
		Args: args,
		Dir:  area.RunnerDir,
	}
}

// Register stages a working area for name and runs the configure command in it.
// On success the caller owns the returned working area and must remove it.
// On failure the working area has already been removed.
func (d *Driver) Register(ctx context.Context, session *Session, name string) (*WorkingArea, error) {
	if err := interfaces.ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("invalid runner name: %w", err)
	}

	area := d.WorkingArea(session, name)
	if err := d.stage(area); err != nil {
		_ = area.Remove()
		return nil, fmt.Errorf("could not stage working area for %s: %w", name, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	started := time.Now()
	d.log.Info("configuring runner", "runner", name, "repository", session.Repo.String(), "dir", area.RunnerDir)
	if err := d.runner.Run(runCtx, d.Invocation(session, name, area)); err != nil {
		_ = area.Remove()
		return nil, fmt.Errorf("%w: configuring %s: %w", interfaces.ErrProcess, name, err)
	}
	d.log.Info("runner configured", "runner", name, "duration", time.Since(started))

	return area, nil
}

func (d *Driver) stage(area *WorkingArea) error {
	if _, err := os.Lstat(area.Root); err == nil {
		d.log.Warn("removing stale working area", "dir", area.Root)
		if err := os.RemoveAll(area.Root); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(area.Root, 0o700); err != nil {
		return err
	}
	return copyTree(d.cfg.RunnerDir, area.RunnerDir)
}

// copyTree copies regular files, directories and symlinks from src into dst,
// preserving permission bits.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return fmt.Errorf("unsupported file type at %s", path)
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
