package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides a *vault.Client only when VAULT_ADDR is set, so config.LoadConfig
// falls back to plain environment values otherwise.
var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

func ProvideVault() (*vault.Client, error) {
	if _, ok := os.LookupEnv("VAULT_ADDR"); !ok {
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	if token, ok := os.LookupEnv("VAULT_TOKEN"); ok {
		if err := client.SetToken(token); err != nil {
			return nil, err
		}
	}

	zap.L().Info("vault client configured")

	return client, nil
}
