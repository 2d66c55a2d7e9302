// Package secret resolves credentials that should not live in the config file,
// such as the extraction service API key.
package secret

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ErrNotFound is returned when no backend holds a value for the name.
var ErrNotFound = errors.New("secret not found")

const envPrefix = "env:"

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches secrets from AWS Systems Manager Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a SecureString parameter from SSM with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil || *out.Parameter.Value == "" {
		return "", fmt.Errorf("ssm parameter %q: %w", name, ErrNotFound)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads secrets from environment variables. Names may be given
// as "env:NAME" or as an SSM-style path ("/invoicescout/openrouter-api-key"
// maps to OPENROUTER_API_KEY).
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver returns a Resolver that reads from the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// GetSecret reads from the environment variable derived from the name.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val, ok := r.lookup(envName)
	if !ok || strings.TrimSpace(val) == "" {
		return "", fmt.Errorf("environment variable %q: %w", envName, ErrNotFound)
	}
	return strings.TrimSpace(val), nil
}

// Router sends "env:" names to the environment and everything else to SSM.
// A nil SSM resolver makes SSM names unresolvable.
type Router struct {
	Env *EnvResolver
	SSM Resolver
}

func (r Router) GetSecret(ctx context.Context, name string) (string, error) {
	if strings.HasPrefix(name, envPrefix) || r.SSM == nil {
		env := r.Env
		if env == nil {
			env = NewEnvResolver()
		}
		return env.GetSecret(ctx, name)
	}
	return r.SSM.GetSecret(ctx, name)
}

// IsSSMName reports whether resolving name requires Parameter Store.
func IsSSMName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !strings.HasPrefix(name, envPrefix)
}

// paramNameToEnvVar converts a parameter name to an environment variable name.
// "env:OPENROUTER_API_KEY" -> "OPENROUTER_API_KEY"
// "/invoicescout/openrouter-api-key" -> "OPENROUTER_API_KEY"
func paramNameToEnvVar(name string) string {
	if strings.HasPrefix(name, envPrefix) {
		return strings.TrimPrefix(name, envPrefix)
	}
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}
