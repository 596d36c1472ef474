package secretmanager

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

const defaultMount = "secret"

// ProvideVault returns a client configured from VAULT_* variables, or nil when
// VAULT_ADDR is unset so configuration falls back to file and env values.
func ProvideVault() (*vault.Client, error) {
	if _, ok := os.LookupEnv("VAULT_ADDR"); !ok {
		zap.L().Info("VAULT_ADDR not set, secrets are read from config")
		return nil, nil
	}
	return vault.New(vault.WithEnvironment())
}

// ReadKV returns the data of the KV v2 secret at path. The mount defaults to
// "secret" and can be changed with VAULT_KV_MOUNT.
func ReadKV(ctx context.Context, client *vault.Client, path string) (map[string]any, error) {
	mount := defaultMount
	if v, ok := os.LookupEnv("VAULT_KV_MOUNT"); ok && v != "" {
		mount = v
	}

	resp, err := client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(mount))
	if err != nil {
		return nil, fmt.Errorf("read secret %s/%s: %w", mount, path, err)
	}
	return resp.Data.Data, nil
}
