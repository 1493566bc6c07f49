package config

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"github.com/open-sspm/opsdash/internal/connectors/credentials"
)

// VaultLookup reads the KV v2 secret at VAULT_SECRET_PATH once and serves its
// string fields as a credential lookup layer. The path's first segment is the
// mount, e.g. "secret/opsdash". It returns nil when no path is configured.
func VaultLookup(ctx context.Context, cfg Config) (credentials.Lookup, error) {
	if cfg.VaultSecretPath == "" {
		return nil, nil
	}
	mount, path, ok := strings.Cut(cfg.VaultSecretPath, "/")
	if !ok || mount == "" || path == "" {
		return nil, fmt.Errorf("VAULT_SECRET_PATH %q must be <mount>/<path>", cfg.VaultSecretPath)
	}

	vcfg := vaultapi.DefaultConfig()
	vcfg.Address = cfg.VaultAddr
	vcfg.HttpClient = &http.Client{Timeout: 30 * time.Second}
	client, err := vaultapi.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}
	if cfg.VaultToken != "" {
		client.SetToken(cfg.VaultToken)
	}

	secret, err := client.KVv2(mount).Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s: %w", cfg.VaultSecretPath, err)
	}
	values := make(map[string]string, len(secret.Data))
	for k, v := range secret.Data {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return credentials.MapLookup(values), nil
}
