package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/ruteri/actions-runner-provisioning-backend/api"
	"github.com/ruteri/actions-runner-provisioning-backend/api/runnerhandler"
	"github.com/ruteri/actions-runner-provisioning-backend/cmd/flags"
	"github.com/ruteri/actions-runner-provisioning-backend/cryptoutils"
	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"github.com/ruteri/actions-runner-provisioning-backend/manifests"
	"github.com/ruteri/actions-runner-provisioning-backend/storage"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	EnvVars: []string{"RUNNER_REGISTRATION_SERVER"},
	Usage:   "registration server to use, e.g. http://127.0.0.1:8080 (default: register in-process)",
}
var flagOwner = &cli.StringFlag{
	Name:     "owner",
	Aliases:  []string{"o"},
	Required: true,
	Usage:    "repository owner",
}
var flagRepo = &cli.StringFlag{
	Name:     "repo",
	Aliases:  []string{"r"},
	Required: true,
	Usage:    "repository name",
}
var flagAdminPAT = &cli.StringFlag{
	Name:     "admin-pat",
	Aliases:  []string{"a"},
	EnvVars:  []string{"RUNNER_ADMIN_PAT"},
	Required: true,
	Usage:    "token of an account with admin access to the repository (can be removed after setup), or a file containing it",
}
var flagReadPAT = &cli.StringFlag{
	Name:     "read-pat",
	Aliases:  []string{"p"},
	EnvVars:  []string{"RUNNER_READ_PAT"},
	Required: true,
	Usage:    "token of an account with read access to the repository, or a file containing it",
}
var flagName = &cli.StringFlag{
	Name:     "name",
	Aliases:  []string{"n"},
	Required: true,
	Usage:    "name of the scaled runner set, runners are named <name>-<i>",
}
var flagMaxRunners = &cli.IntFlag{
	Name:     "max-runners",
	Aliases:  []string{"m"},
	Required: true,
	Usage:    "number of runners to register",
}
var flagLabels = &cli.StringFlag{
	Name:    "labels",
	Aliases: []string{"l"},
	Usage:   "comma separated labels added to every runner",
}
var flagNamespace = &cli.StringFlag{
	Name:  "namespace",
	Value: "default",
	Usage: "namespace of the runner secrets",
}
var flagTokenNamespace = &cli.StringFlag{
	Name:  "token-namespace",
	Usage: "namespace of the read token secret (default: --namespace)",
}
var flagDryRun = &cli.BoolFlag{
	Name:  "dry-run",
	Usage: "validate and authorize only, placeholder credentials are generated",
}
var flagOutput = &cli.StringFlag{
	Name:    "output",
	Aliases: []string{"f"},
	Usage:   "write output to file instead of stdout",
}

var flagRunner = &cli.StringFlag{
	Name:     "runner",
	Required: true,
	Usage:    "runner name",
}
var flagIdentity = &cli.StringFlag{
	Name:  "identity",
	Usage: "age identity file opening sealed secrets",
}
var flagShares = &cli.StringSliceFlag{
	Name:  "share",
	Usage: "identity share file produced by 'keys split', repeat up to the threshold",
}
var flagOutDir = &cli.StringFlag{
	Name:  "out-dir",
	Usage: "write decoded runner files to this directory instead of printing the bundle",
}

var flagShamirThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
}
var flagShamirTotal = &cli.IntFlag{
	Name:  "shares",
	Value: 3,
}

func main() {
	app := &cli.App{
		Name:  "runnerctl",
		Usage: "Register GitHub Actions runners and manage their credentials",
		Flags: append([]cli.Flag{flags.LogServiceFlagFn("runnerctl")}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:  "register",
				Usage: "register runners and print their Kubernetes manifests",
				Flags: append([]cli.Flag{
					flagServer,
					flagOwner,
					flagRepo,
					flagAdminPAT,
					flagReadPAT,
					flagName,
					flagMaxRunners,
					flagLabels,
					flagNamespace,
					flagTokenNamespace,
					flagDryRun,
					flagOutput,
				}, flags.RunnerFlags...),
				Action: registerAction,
			},
			{
				Name:  "fetch-secret",
				Usage: "read a runner bundle back from secret stores",
				Flags: []cli.Flag{
					flagOwner,
					flagRepo,
					flagRunner,
					&cli.StringSliceFlag{
						Name:  flags.SecretStoreFlag.Name,
						Value: cli.NewStringSlice(flags.DefaultSecretStoreURI()),
						Usage: flags.SecretStoreFlag.Usage,
					},
					flags.GitHubHostFlag,
					flags.GitHubTimeoutFlag,
					flags.SecretsTokenFlag,
					flagIdentity,
					flagShares,
					flagOutDir,
				},
				Action: fetchSecretAction,
			},
			{
				Name:  "keys",
				Usage: "manage the age identity sealing stored bundles",
				Subcommands: []*cli.Command{
					{
						Name:  "generate",
						Usage: "generate an identity and print its recipient",
						Flags: []cli.Flag{&cli.StringFlag{Name: "output", Value: "identity.txt"}},
						Action: func(cCtx *cli.Context) error {
							identity, err := age.GenerateX25519Identity()
							if err != nil {
								return err
							}
							out := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
							if err := os.WriteFile(cCtx.String("output"), []byte(out), 0600); err != nil {
								return err
							}
							fmt.Fprintln(cCtx.App.Writer, identity.Recipient())
							return nil
						},
					},
					{
						Name:  "split",
						Usage: "split an identity into shares",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "identity", Required: true},
							&cli.StringFlag{Name: "out-dir", Value: "."},
							flagShamirTotal,
							flagShamirThreshold,
						},
						Action: func(cCtx *cli.Context) error {
							identity, err := readIdentity(cCtx.String("identity"))
							if err != nil {
								return err
							}
							files, err := writeShares(identity, cCtx.String("out-dir"), cCtx.Int(flagShamirTotal.Name), cCtx.Int(flagShamirThreshold.Name))
							if err != nil {
								return err
							}
							for _, f := range files {
								fmt.Fprintln(cCtx.App.Writer, f)
							}
							return nil
						},
					},
					{
						Name:  "combine",
						Usage: "recombine shares into the identity",
						Flags: []cli.Flag{
							flagShares,
							&cli.StringFlag{Name: "output", Value: "identity.txt"},
						},
						Action: func(cCtx *cli.Context) error {
							identity, err := combineShareFiles(cCtx.StringSlice(flagShares.Name))
							if err != nil {
								return err
							}
							out := fmt.Sprintf("# public key: %s\n%s\n", identity.Recipient(), identity)
							if err := os.WriteFile(cCtx.String("output"), []byte(out), 0600); err != nil {
								return err
							}
							fmt.Fprintln(cCtx.App.Writer, identity.Recipient())
							return nil
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func registerAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	adminPAT, err := flags.ParsePAT(cCtx.String(flagAdminPAT.Name))
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", flagAdminPAT.Name, err)
	}
	readPAT, err := flags.ParsePAT(cCtx.String(flagReadPAT.Name))
	if err != nil {
		return fmt.Errorf("invalid --%s: %w", flagReadPAT.Name, err)
	}

	var provider api.RegistrationProvider
	if server := cCtx.String(flagServer.Name); server != "" {
		provider = &runnerhandler.Client{ServerAddr: strings.TrimRight(server, "/")}
	} else {
		registrar, err := flags.NewRegistrar(cCtx, logger)
		if err != nil {
			return err
		}
		provider = &runnerhandler.LocalProvider{Registrar: registrar}
	}

	name := cCtx.String(flagName.Name)
	names := runnerNames(name, cCtx.Int(flagMaxRunners.Name))
	req := &api.RegisterRequest{
		Owner:       cCtx.String(flagOwner.Name),
		Repository:  cCtx.String(flagRepo.Name),
		AdminPAT:    adminPAT,
		RunnerNames: names,
		Labels:      splitLabels(cCtx.String(flagLabels.Name)),
		DryRun:      cCtx.Bool(flagDryRun.Name),
	}

	resp, regErr := provider.Register(cCtx.Context, req)
	if resp == nil {
		return regErr
	}
	if regErr != nil {
		// Registered runners exist on the host; keep their credentials.
		logger.Error("Registration stopped early, writing manifests for registered runners", "err", regErr, "registered", len(resp.Runners))
	}

	out, err := renderManifests(manifests.Options{
		Name:           name,
		Namespace:      cCtx.String(flagNamespace.Name),
		TokenNamespace: cCtx.String(flagTokenNamespace.Name),
		ReadToken:      readPAT,
		Repo:           interfaces.RepositoryRef{Owner: req.Owner, Repository: req.Repository},
		Labels:         req.Labels,
	}, names, resp)
	if err != nil {
		return errors.Join(regErr, err)
	}

	if err := writeOutput(cCtx, out); err != nil {
		return errors.Join(regErr, err)
	}
	logger.Info("Runners registered", "location", resp.Location, "dryRun", resp.DryRun)
	return regErr
}

func fetchSecretAction(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	var identity *age.X25519Identity
	var err error
	switch {
	case cCtx.String(flagIdentity.Name) != "":
		identity, err = readIdentity(cCtx.String(flagIdentity.Name))
	case len(cCtx.StringSlice(flagShares.Name)) > 0:
		identity, err = combineShareFiles(cCtx.StringSlice(flagShares.Name))
	}
	if err != nil {
		return err
	}

	store, err := flags.NewSecretStore(cCtx, logger, cCtx.StringSlice(flags.SecretStoreFlag.Name))
	if err != nil {
		return err
	}
	if u, ok := store.(storage.IdentityUser); ok && identity != nil {
		u.UseIdentity(identity)
	}

	key := interfaces.SecretKey{
		Owner:      cCtx.String(flagOwner.Name),
		Repository: cCtx.String(flagRepo.Name),
		Runner:     cCtx.String(flagRunner.Name),
	}
	secret, err := store.Fetch(cCtx.Context, key)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", key, err)
	}

	if dir := cCtx.String(flagOutDir.Name); dir != "" {
		return writeRunnerFiles(dir, secret)
	}

	doc := map[string]string{"id": secret.ID.String()}
	for k, v := range secret.Data() {
		doc[k] = v
	}
	enc := json.NewEncoder(cCtx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// runnerNames returns <name>-0 ... <name>-<n-1>.
func runnerNames(name string, n int) []string {
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		names = append(names, manifests.RunnerSecretName(name, i))
	}
	return names
}

func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}

// renderManifests keeps the request order of names; runners missing from a
// partial response are left out.
func renderManifests(opts manifests.Options, names []string, resp *api.RegisterResponse) ([]byte, error) {
	bundles := make([]manifests.RunnerBundle, 0, len(resp.Runners))
	for i, name := range names {
		data, ok := resp.Runners[name]
		if !ok {
			continue
		}
		if i >= len(resp.IDs) {
			return nil, fmt.Errorf("no runner id for %s in %s", name, resp.Location)
		}
		secret, err := interfaces.NewRunnerRegistrationSecretData(resp.IDs[i], data)
		if err != nil {
			return nil, fmt.Errorf("runner %s: %w", name, err)
		}
		bundles = append(bundles, manifests.RunnerBundle{SecretName: name, Secret: secret})
	}
	return manifests.Generate(opts, bundles)
}

func writeOutput(cCtx *cli.Context, data []byte) error {
	var out io.Writer = cCtx.App.Writer
	if path := cCtx.String(flagOutput.Name); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err := out.Write(append(data, '\n'))
	return err
}

// writeRunnerFiles decodes the bundle into the files a runner starts from.
func writeRunnerFiles(dir string, secret *interfaces.RunnerRegistrationSecretData) error {
	decoded, err := secret.Decoded()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	for name, content := range decoded {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0600); err != nil {
			return err
		}
	}
	return nil
}

func readIdentity(path string) (*age.X25519Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read identity file: %w", err)
	}
	return cryptoutils.ParseIdentity(string(raw))
}

func writeShares(identity *age.X25519Identity, dir string, total, threshold int) ([]string, error) {
	parts, err := cryptoutils.SplitIdentity(identity, total, threshold)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(parts))
	for i, part := range parts {
		path := filepath.Join(dir, fmt.Sprintf("identity-share-%d.txt", i+1))
		if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(part)+"\n"), 0600); err != nil {
			return nil, err
		}
		files = append(files, path)
	}
	return files, nil
}

func combineShareFiles(paths []string) (*age.X25519Identity, error) {
	parts := make([][]byte, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read share: %w", err)
		}
		part, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("invalid share %s: %w", path, err)
		}
		parts = append(parts, part)
	}
	return cryptoutils.CombineIdentity(parts)
}
