// Package manifests renders Kubernetes resources for registered runners:
// one Opaque Secret per runner bundle, a Secret with the read token used by
// the autoscaler and a ScaledActionRunner tying them together.
package manifests

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ruteri/actions-runner-provisioning-backend/interfaces"
	"gopkg.in/yaml.v3"
)

const (
	ScaledActionRunnerAPIVersion = "runner.devjoes.com/v1alpha1"
	ScaledActionRunnerKind       = "ScaledActionRunner"

	// CredentialIDAnnotation records the runner credential ID on its Secret.
	CredentialIDAnnotation = "runner.devjoes.com/credential-id"

	documentSeparator = "\n---\n"
)

type ObjectMeta struct {
	Name        string            `yaml:"name"`
	Namespace   string            `yaml:"namespace,omitempty"`
	Annotations map[string]string `yaml:"annotations,omitempty"`
}

type Secret struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   ObjectMeta        `yaml:"metadata"`
	Data       map[string]string `yaml:"data"`
	Type       string            `yaml:"type"`
}

type Runner struct {
	RunnerLabels string `yaml:"runnerLabels,omitempty"`
}

type ScaledActionRunnerSpec struct {
	MaxRunners        int      `yaml:"maxRunners"`
	RunnerSecrets     []string `yaml:"runnerSecrets"`
	GithubTokenSecret string   `yaml:"githubTokenSecret"`
	Owner             string   `yaml:"owner"`
	Repo              string   `yaml:"repo"`
	MetricsSelector   string   `yaml:"metricsSelector,omitempty"`
	Runner            *Runner  `yaml:"runner,omitempty"`
}

type ScaledActionRunner struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ObjectMeta             `yaml:"metadata"`
	Spec       ScaledActionRunnerSpec `yaml:"spec"`
}

// Options describe the scaled runner set the manifests are generated for.
type Options struct {
	// Name of the ScaledActionRunner and of the read token Secret.
	Name string

	// Namespace the runner Secrets are created in.
	Namespace string

	// TokenNamespace is where the read token Secret goes. Defaults to Namespace.
	TokenNamespace string

	// ReadToken is a token with read access to the repository, used for scaling metrics.
	ReadToken string

	Repo   interfaces.RepositoryRef
	Labels []string
}

// RunnerBundle is a registered runner together with its Secret name.
type RunnerBundle struct {
	SecretName string
	Secret     *interfaces.RunnerRegistrationSecretData
}

var nonSelectorChars = regexp.MustCompile(`(?i)[^a-z0-9-]`)

// MetricsSelector maps runner labels to the workflow metric selector,
// e.g. "gpu,linux-x64" to "wf_runs_on_gpu,wf_runs_on_linux-x64".
func MetricsSelector(labels []string) string {
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, "wf_runs_on_"+nonSelectorChars.ReplaceAllString(l, "_"))
	}
	return strings.Join(parts, ",")
}

// RunnerSecretName is the Secret name of the i-th runner of a set.
func RunnerSecretName(name string, i int) string {
	return fmt.Sprintf("%s-%d", name, i)
}

// NewRunnerSecret builds the Secret holding a runner bundle. Bundle artifacts
// are already base64 encoded and are used as Secret data as they are.
func NewRunnerSecret(name, namespace string, secret *interfaces.RunnerRegistrationSecretData) Secret {
	return Secret{
		APIVersion: "v1",
		Kind:       "Secret",
		Metadata: ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Annotations: map[string]string{CredentialIDAnnotation: secret.ID.String()},
		},
		Data: secret.Data(),
		Type: "Opaque",
	}
}

// NewTokenSecret builds the Secret holding the read token.
func NewTokenSecret(name, namespace, token string) Secret {
	return Secret{
		APIVersion: "v1",
		Kind:       "Secret",
		Metadata:   ObjectMeta{Name: name, Namespace: namespace},
		Data:       map[string]string{"token": base64.StdEncoding.EncodeToString([]byte(token))},
		Type:       "Opaque",
	}
}

// NewScaledActionRunner builds the ScaledActionRunner referencing every runner Secret.
func NewScaledActionRunner(opts Options, secretNames []string) ScaledActionRunner {
	sar := ScaledActionRunner{
		APIVersion: ScaledActionRunnerAPIVersion,
		Kind:       ScaledActionRunnerKind,
		Metadata:   ObjectMeta{Name: opts.Name},
		Spec: ScaledActionRunnerSpec{
			MaxRunners:        len(secretNames),
			RunnerSecrets:     secretNames,
			GithubTokenSecret: opts.Name,
			Owner:             opts.Repo.Owner,
			Repo:              opts.Repo.Repository,
		},
	}
	if len(opts.Labels) > 0 {
		sar.Spec.Runner = &Runner{RunnerLabels: strings.Join(opts.Labels, ",")}
		sar.Spec.MetricsSelector = MetricsSelector(opts.Labels)
	}
	return sar
}

// Generate renders the ScaledActionRunner, the read token Secret and one
// Secret per runner as a multi-document YAML stream.
func Generate(opts Options, runners []RunnerBundle) ([]byte, error) {
	if opts.Name == "" {
		return nil, errors.New("missing manifest name")
	}
	if opts.ReadToken == "" {
		return nil, errors.New("missing read token")
	}
	tokenNamespace := opts.TokenNamespace
	if tokenNamespace == "" {
		tokenNamespace = opts.Namespace
	}

	secretNames := make([]string, 0, len(runners))
	for _, r := range runners {
		secretNames = append(secretNames, r.SecretName)
	}

	docs := []any{
		NewScaledActionRunner(opts, secretNames),
		NewTokenSecret(opts.Name, tokenNamespace, opts.ReadToken),
	}
	for _, r := range runners {
		docs = append(docs, NewRunnerSecret(r.SecretName, opts.Namespace, r.Secret))
	}

	rendered := make([][]byte, 0, len(docs))
	for _, doc := range docs {
		out, err := marshal(doc)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, out)
	}
	return bytes.Join(rendered, []byte(documentSeparator)), nil
}

// Decode parses a YAML stream produced by Generate back into its documents.
func Decode(data []byte) (*ScaledActionRunner, []Secret, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var sar *ScaledActionRunner
	var secrets []Secret
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, fmt.Errorf("invalid manifest: %w", err)
		}

		var head struct {
			Kind string `yaml:"kind"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, nil, fmt.Errorf("invalid manifest: %w", err)
		}

		switch head.Kind {
		case ScaledActionRunnerKind:
			sar = &ScaledActionRunner{}
			if err := node.Decode(sar); err != nil {
				return nil, nil, fmt.Errorf("invalid %s: %w", head.Kind, err)
			}
		case "Secret":
			var s Secret
			if err := node.Decode(&s); err != nil {
				return nil, nil, fmt.Errorf("invalid Secret: %w", err)
			}
			secrets = append(secrets, s)
		default:
			return nil, nil, fmt.Errorf("unexpected manifest kind %q", head.Kind)
		}
	}
	return sar, secrets, nil
}

func marshal(doc any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to render manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
