package registration

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
)

const stderrTailLines = 20

// waitDelay bounds how long Run waits for output after the process is killed.
// A forked child may keep the output pipes open past its parent.
const waitDelay = 2 * time.Second

// inheritedEnv lists the variables passed through to the runner. Everything
// else in the server's environment (store credentials, tokens) is withheld.
var inheritedEnv = []string{
	"PATH", "HOME", "USER", "LANG", "TMPDIR", "TZ",
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "http_proxy", "https_proxy", "no_proxy",
	"SSL_CERT_FILE", "SSL_CERT_DIR",
}

var inheritedEnvPrefixes = []string{"DOTNET_", "LC_"}

// ExecRunner runs invocations as local processes.
// Output lines are logged at debug level; the end of stderr is included in errors.
type ExecRunner struct {
	log *slog.Logger
}

// NewExecRunner creates a process runner logging to log.
func NewExecRunner(log *slog.Logger) *ExecRunner {
	return &ExecRunner{log: log}
}

// Run starts the invocation and waits for it to exit. Once ctx is done the
// process is killed and Run returns within waitDelay.
func (r *ExecRunner) Run(ctx context.Context, inv *interfaces.Invocation) error {
	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(runnerEnv(os.Environ()), inv.Env...)
	cmd.WaitDelay = waitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	tail := &lineTail{max: stderrTailLines}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.stream(stdoutR, "stdout", nil)
	}()
	go func() {
		defer wg.Done()
		r.stream(stderrR, "stderr", tail)
	}()

	err := cmd.Start()
	if err == nil {
		err = cmd.Wait()
	}
	stdoutW.Close()
	stderrW.Close()
	wg.Wait()

	if err != nil {
		if cmd.Process == nil {
			return fmt.Errorf("could not start %s: %w", inv.Path, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w (%w)", inv.Path, err, ctx.Err())
		}
		return fmt.Errorf("%s: %w (stderr: %s)", inv.Path, err, tail.String())
	}
	return nil
}

func runnerEnv(environ []string) []string {
	var env []string
	for _, kv := range environ {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if slices.Contains(inheritedEnv, key) || slices.ContainsFunc(inheritedEnvPrefixes, func(p string) bool {
			return strings.HasPrefix(key, p)
		}) {
			env = append(env, kv)
		}
	}
	return env
}

func (r *ExecRunner) stream(rd io.Reader, name string, tail *lineTail) {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		r.log.Debug("runner output", "stream", name, "line", line)
		if tail != nil {
			tail.add(line)
		}
	}
	_, _ = io.Copy(io.Discard, rd)
}

type lineTail struct {
	max   int
	lines []string
}

func (t *lineTail) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *lineTail) String() string {
	return strings.TrimSpace(strings.Join(t.lines, "\n"))
}
