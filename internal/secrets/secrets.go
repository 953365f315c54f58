// Package secrets resolves the upstream API key, the upstream API secret and
// the inbound request-signing key from a pluggable provider.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/lastfmproxy/lastfmproxy/internal/config"
)

// ErrNotFound is returned when a secret is absent or empty.
var ErrNotFound = errors.New("secret not found")

// Provider resolves secrets by name. Implementations must be safe for
// concurrent use and must not log secret values.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, name string) (string, error)
	Close() error
}

// EnvProvider reads secrets from process environment variables.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider returns a provider backed by os.LookupEnv.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, name string) (string, error) {
	v, ok := p.lookup(name)
	if !ok || v == "" {
		return "", fmt.Errorf("env %s: %w", name, ErrNotFound)
	}
	return v, nil
}

func (p *EnvProvider) Close() error { return nil }

// StaticProvider serves fixed values, typically from the config file.
type StaticProvider map[string]string

func (p StaticProvider) Name() string { return "static" }

func (p StaticProvider) Resolve(_ context.Context, name string) (string, error) {
	v := p[name]
	if v == "" {
		return "", fmt.Errorf("static %s: %w", name, ErrNotFound)
	}
	return v, nil
}

func (p StaticProvider) Close() error { return nil }

// Source exposes the three secrets the proxy needs.
type Source struct {
	provider Provider

	apiKeyName     string
	apiSecretName  string
	signingKeyName string
}

// NewSource returns a Source resolving the names configured in cfg through p.
func NewSource(p Provider, cfg config.SecretsConfig) *Source {
	return &Source{
		provider:       p,
		apiKeyName:     cfg.APIKeyName,
		apiSecretName:  cfg.APISecretName,
		signingKeyName: cfg.SigningKeyName,
	}
}

// FromConfig builds the provider selected by cfg and wraps it in a Source.
func FromConfig(cfg config.SecretsConfig) (*Source, error) {
	var p Provider
	switch cfg.Provider {
	case config.SecretsProviderEnv, "":
		p = NewEnvProvider()
	case config.SecretsProviderStatic:
		p = StaticProvider{
			cfg.APIKeyName:     cfg.APIKey.Value(),
			cfg.APISecretName:  cfg.APISecret.Value(),
			cfg.SigningKeyName: cfg.SigningKey.Value(),
		}
	case config.SecretsProviderVault:
		vp, err := NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, err
		}
		p = vp
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Provider)
	}
	return NewSource(p, cfg), nil
}

// APIKey is the Last.fm API key sent upstream as api_key.
func (s *Source) APIKey(ctx context.Context) (string, error) {
	return s.provider.Resolve(ctx, s.apiKeyName)
}

// APISecret signs privileged upstream calls.
func (s *Source) APISecret(ctx context.Context) (string, error) {
	return s.provider.Resolve(ctx, s.apiSecretName)
}

// SigningKey verifies X-Request-Signature on inbound requests.
func (s *Source) SigningKey(ctx context.Context) (string, error) {
	return s.provider.Resolve(ctx, s.signingKeyName)
}

// ProviderName identifies the backing provider for logs.
func (s *Source) ProviderName() string { return s.provider.Name() }

func (s *Source) Close() error { return s.provider.Close() }
