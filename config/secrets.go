package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// SecretRefPrefix marks a config value that must be resolved through the
// secret manager, e.g. password: "secret:db_password"
const SecretRefPrefix = "secret:"

// Secret providers
const (
	SecretProviderEnv   = "env"
	SecretProviderVault = "vault"
	SecretProviderAWS   = "aws"
)

// SecretManager looks up secrets by key
type SecretManager interface {
	GetSecret(key string) (string, error)
}

// EnvSecretManager reads APPFUEL_SECRET_<KEY> environment variables
type EnvSecretManager struct{}

func (e *EnvSecretManager) GetSecret(key string) (string, error) {
	envKey := "APPFUEL_SECRET_" + strings.ToUpper(key)
	value := os.Getenv(envKey)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envKey)
	}
	return value, nil
}

// VaultSecretManager reads every key from a single Vault path. The path is
// read once and cached.
type VaultSecretManager struct {
	path   string
	client *api.Client

	once sync.Once
	data map[string]interface{}
	err  error
}

func NewVaultSecretManager(config *Config) (*VaultSecretManager, error) {
	client, err := api.NewClient(&api.Config{
		Address: config.Secrets.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if config.Secrets.Vault.Token != "" {
		client.SetToken(config.Secrets.Vault.Token)
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}

	path := config.Secrets.Vault.Path
	if path == "" {
		path = "secret/appfuel"
	}
	return &VaultSecretManager{path: path, client: client}, nil
}

func (v *VaultSecretManager) load() {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		v.err = fmt.Errorf("failed to read from Vault: %w", err)
		return
	}
	if secret == nil || secret.Data == nil {
		v.err = fmt.Errorf("secret not found at path %s", v.path)
		return
	}
	v.data = secret.Data
	// kv v2 nests the values under data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		v.data = nested
	}
}

func (v *VaultSecretManager) GetSecret(key string) (string, error) {
	v.once.Do(v.load)
	if v.err != nil {
		return "", v.err
	}

	value, ok := v.data[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in Vault secret", key)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %s is not a string", key)
	}
	return strValue, nil
}

// AWSSecretManager reads keys from a JSON secret in AWS Secrets Manager
type AWSSecretManager struct {
	secretID string
	client   *secretsmanager.SecretsManager

	once    sync.Once
	secrets map[string]string
	err     error
}

func NewAWSSecretManager(config *Config) (*AWSSecretManager, error) {
	awsCfg := &aws.Config{
		Region: aws.String(config.Secrets.AWS.Region),
	}
	if config.Secrets.AWS.AccessKey != "" && config.Secrets.AWS.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(
			config.Secrets.AWS.AccessKey,
			config.Secrets.AWS.SecretKey,
			"",
		)
	}
	if config.Secrets.AWS.Endpoint != "" {
		awsCfg.Endpoint = aws.String(config.Secrets.AWS.Endpoint)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	secretID := config.Secrets.AWS.SecretID
	if secretID == "" {
		secretID = "appfuel/secrets"
	}
	return &AWSSecretManager{secretID: secretID, client: secretsmanager.New(sess)}, nil
}

func (a *AWSSecretManager) load() {
	result, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		a.err = fmt.Errorf("failed to get secret from AWS: %w", err)
		return
	}
	if result.SecretString == nil {
		a.err = fmt.Errorf("secret %s has no string value", a.secretID)
		return
	}
	if err := json.Unmarshal([]byte(*result.SecretString), &a.secrets); err != nil {
		a.err = fmt.Errorf("failed to parse AWS secret JSON: %w", err)
	}
}

func (a *AWSSecretManager) GetSecret(key string) (string, error) {
	a.once.Do(a.load)
	if a.err != nil {
		return "", a.err
	}

	value, ok := a.secrets[key]
	if !ok {
		return "", fmt.Errorf("key %s not found in AWS secret", key)
	}
	return value, nil
}

// NewSecretManager creates the secret manager for the configured provider
func NewSecretManager(config *Config) (SecretManager, error) {
	switch strings.ToLower(config.Secrets.Provider) {
	case "", SecretProviderEnv:
		return &EnvSecretManager{}, nil
	case SecretProviderVault:
		return NewVaultSecretManager(config)
	case SecretProviderAWS:
		return NewAWSSecretManager(config)
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Secrets.Provider)
	}
}

// HasSecretRefs reports whether any config value needs resolving
func (c *Config) HasSecretRefs() bool {
	if isSecretRef(c.Auth.JWTSecret) || isSecretRef(c.ORM.Cache.Password) {
		return true
	}
	for _, conn := range c.Database.Connectors {
		if isSecretRef(conn.Password) {
			return true
		}
	}
	return false
}

// ResolveSecrets replaces every "secret:<key>" value with the secret from
// manager. Covered values are auth.jwt_secret, orm.cache.password and the
// connector passwords.
func ResolveSecrets(config *Config, manager SecretManager) error {
	resolve := func(field string, value *string) error {
		if !isSecretRef(*value) {
			return nil
		}
		key := strings.TrimPrefix(*value, SecretRefPrefix)
		secret, err := manager.GetSecret(key)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", field, err)
		}
		*value = secret
		return nil
	}

	if err := resolve("auth.jwt_secret", &config.Auth.JWTSecret); err != nil {
		return err
	}
	if err := resolve("orm.cache.password", &config.ORM.Cache.Password); err != nil {
		return err
	}
	for _, name := range config.ConnectorNames() {
		conn := config.Database.Connectors[name]
		if err := resolve("database.connectors."+name+".password", &conn.Password); err != nil {
			return err
		}
		config.Database.Connectors[name] = conn
	}
	return nil
}

// LoadSecrets resolves secret references with the configured provider.
// No provider is created when nothing refers to a secret.
func LoadSecrets(config *Config) error {
	if !config.HasSecretRefs() {
		return nil
	}
	manager, err := NewSecretManager(config)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	return ResolveSecrets(config, manager)
}

func isSecretRef(value string) bool {
	return strings.HasPrefix(value, SecretRefPrefix) && len(value) > len(SecretRefPrefix)
}
