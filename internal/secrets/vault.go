package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/lastfmproxy/lastfmproxy/internal/config"
)

// defaultVaultRefresh bounds how long a fetched KV v2 version is reused.
const defaultVaultRefresh = 5 * time.Minute

// VaultProvider reads named fields from a single KV v2 secret. The secret is
// fetched once and reused until the refresh interval passes, so requests do
// not each round-trip to Vault.
type VaultProvider struct {
	client  *vault.Client
	mount   string
	path    string
	refresh time.Duration
	now     func() time.Time

	mu      sync.Mutex
	data    map[string]any
	fetched time.Time
}

// NewVaultProvider connects to the Vault server in cfg.
func NewVaultProvider(cfg config.VaultConfig) (*VaultProvider, error) {
	vc := vault.DefaultConfig()
	vc.Address = cfg.Address

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if tok := cfg.Token.Value(); tok != "" {
		client.SetToken(tok)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return &VaultProvider{
		client:  client,
		mount:   mount,
		path:    cfg.Path,
		refresh: defaultVaultRefresh,
		now:     time.Now,
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, name string) (string, error) {
	data, err := p.load(ctx)
	if err != nil {
		return "", err
	}
	v, _ := data[name].(string)
	if v == "" {
		return "", fmt.Errorf("vault %s/%s#%s: %w", p.mount, p.path, name, ErrNotFound)
	}
	return v, nil
}

func (p *VaultProvider) load(ctx context.Context) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data != nil && p.now().Sub(p.fetched) < p.refresh {
		return p.data, nil
	}

	s, err := p.client.KVv2(p.mount).Get(ctx, p.path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return nil, fmt.Errorf("vault %s/%s: %w", p.mount, p.path, ErrNotFound)
		}
		// Keep serving the last good version while Vault is unreachable.
		if p.data != nil {
			return p.data, nil
		}
		return nil, fmt.Errorf("read vault secret %s/%s: %w", p.mount, p.path, err)
	}

	p.data = s.Data
	p.fetched = p.now()
	return p.data, nil
}

func (p *VaultProvider) Close() error { return nil }
