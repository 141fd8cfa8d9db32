package flags

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/ruteri/actions-runner-provisioning-backend/api"
	"github.com/ruteri/actions-runner-provisioning-backend/common"
	"github.com/ruteri/actions-runner-provisioning-backend/github"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/ruteri/actions-runner-provisioning-backend/registration"
	"github.com/ruteri/actions-runner-provisioning-backend/storage"
	"github.com/urfave/cli/v2"
)

const appDirName = "actions-runner-provisioning"

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
		Output:  cCtx.App.ErrWriter,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	// Every runner of a batch is configured sequentially within one request.
	writeTimeout := cCtx.Duration(RegistrationTimeoutFlag.Name)*time.Duration(cCtx.Int(MaxBatchFlag.Name)) + 30*time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: writeTimeout,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             writeTimeout,
	}
}

var patRegex = regexp.MustCompile(`(?i)^[a-z0-9_]{40}$`)

// ParsePAT accepts a personal access token or a path to a file containing one.
// Classic tokens (ghp_... and 40-char hex) are recognized directly; anything
// else that names an existing file is read from it.
func ParsePAT(value string) (string, error) {
	token := strings.TrimSpace(value)
	if token == "" {
		return "", errors.New("empty token")
	}
	if !patRegex.MatchString(token) {
		if raw, err := os.ReadFile(token); err == nil {
			token = strings.TrimSpace(string(raw))
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("could not read token file: %w", err)
		}
	}
	if !patRegex.MatchString(token) && !strings.HasPrefix(token, "github_pat_") {
		return "", fmt.Errorf("not a valid token (%s) and not a readable file", patRegex)
	}
	return token, nil
}

// DefaultSecretStoreURI is a file store under the XDG data directory.
func DefaultSecretStoreURI() string {
	return "file://" + filepath.Join(xdg.DataHome, appDirName, "secrets")
}

func GitHubOptions(cCtx *cli.Context) github.Options {
	return github.Options{
		Host:    cCtx.String(GitHubHostFlag.Name),
		Timeout: cCtx.Duration(GitHubTimeoutFlag.Name),
	}
}

// NewRegistrar wires the GitHub client factory, the exec driver and the
// configured secret stores. The sink is nil when no store is configured.
func NewRegistrar(cCtx *cli.Context, logger *slog.Logger) (*registration.Registrar, error) {
	driver, err := registration.NewDriver(registration.DriverConfig{
		RunnerDir: cCtx.String(RunnerDirFlag.Name),
		Launcher:  strings.Fields(cCtx.String(LauncherFlag.Name)),
		BaseDir:   cCtx.String(WorkDirFlag.Name),
		Timeout:   cCtx.Duration(RegistrationTimeoutFlag.Name),
	}, registration.NewExecRunner(logger), logger)
	if err != nil {
		return nil, err
	}

	var sink interfaces.SecretStore
	if uris := cCtx.StringSlice(SecretStoreFlag.Name); len(uris) > 0 {
		sink, err = NewSecretStore(cCtx, logger, uris)
		if err != nil {
			return nil, err
		}
	}

	hosts := github.NewClientFactory(GitHubOptions(cCtx))
	return registration.NewRegistrar(hosts, driver, sink, logger), nil
}

// NewSecretStore creates a (multi-)store from location URIs.
func NewSecretStore(cCtx *cli.Context, logger *slog.Logger, uris []string) (interfaces.SecretStore, error) {
	locations := make([]interfaces.SecretStoreLocation, 0, len(uris))
	for _, uri := range uris {
		loc, err := interfaces.NewSecretStoreLocation(uri)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}

	factory := storage.NewSecretStoreFactory(logger)
	factory.GitHubOptions = GitHubOptions(cCtx)
	if token := cCtx.String(SecretsTokenFlag.Name); token != "" {
		pat, err := ParsePAT(token)
		if err != nil {
			return nil, fmt.Errorf("invalid --%s: %w", SecretsTokenFlag.Name, err)
		}
		factory.GitHubToken = pat
	}
	return factory.CreateMultiStore(locations)
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MaxBatchFlag = &cli.IntFlag{
	Name:  "max-batch",
	Value: 10,
	Usage: "expected maximum number of runners per request, used to size the write timeout",
}

var RunnerDirFlag = &cli.StringFlag{
	Name:    "runner-dir",
	EnvVars: []string{"RUNNER_DIR"},
	Usage:   "runner installation directory, copied for every registration",
}
var LauncherFlag = &cli.StringFlag{
	Name:    "runner-launcher",
	EnvVars: []string{"RUNNER_LAUNCHER"},
	Value:   strings.Join(registration.DefaultLauncher, " "),
	Usage:   "command starting the runner listener, configure arguments are appended",
}
var WorkDirFlag = &cli.StringFlag{
	Name:    "work-dir",
	EnvVars: []string{"RUNNER_WORK_DIR"},
	Usage:   "directory holding the per-registration working areas (default: system temp dir)",
}
var RegistrationTimeoutFlag = &cli.DurationFlag{
	Name:  "registration-timeout",
	Value: registration.DefaultTimeout,
	Usage: "maximum duration of a single runner configure run",
}

var GitHubHostFlag = &cli.StringFlag{
	Name:    "github-host",
	EnvVars: []string{"GH_HOST"},
	Value:   github.DefaultHost,
	Usage:   "GitHub host, GitHub Enterprise Server hosts are served under /api/v3",
}
var GitHubTimeoutFlag = &cli.DurationFlag{
	Name:  "github-timeout",
	Value: 30 * time.Second,
	Usage: "timeout of GitHub API requests",
}

var SecretStoreFlag = &cli.StringSliceFlag{
	Name:    "secret-store",
	EnvVars: []string{"RUNNER_SECRET_STORES"},
	Usage:   "secret store URI (file://, s3://, vault://, github://), repeat for redundancy",
}
var SecretsTokenFlag = &cli.StringFlag{
	Name:    "secrets-token",
	EnvVars: []string{"RUNNER_SECRETS_TOKEN"},
	Usage:   "token (or file containing it) used by github:// secret stores without an inline token",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var ServerFlags = []cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MaxBatchFlag,
}

var RunnerFlags = []cli.Flag{
	RunnerDirFlag,
	LauncherFlag,
	WorkDirFlag,
	RegistrationTimeoutFlag,
	GitHubHostFlag,
	GitHubTimeoutFlag,
	SecretStoreFlag,
	SecretsTokenFlag,
}
