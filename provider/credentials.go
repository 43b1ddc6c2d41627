package provider

import (
	"os"
	"strings"
)

// Credentials looks up the API key of a provider.
type Credentials interface {
	APIKey(cfg ProviderConfig) (string, bool)
}

// CredentialsFunc adapts a function to Credentials.
type CredentialsFunc func(cfg ProviderConfig) (string, bool)

func (f CredentialsFunc) APIKey(cfg ProviderConfig) (string, bool) {
	return f(cfg)
}

// EnvCredentials reads keys from the variable named by ProviderConfig.APIKeyEnv.
type EnvCredentials struct{}

func (EnvCredentials) APIKey(cfg ProviderConfig) (string, bool) {
	if cfg.APIKeyEnv == "" {
		return "", false
	}
	key, ok := os.LookupEnv(cfg.APIKeyEnv)
	key = strings.TrimSpace(key)
	return key, ok && key != ""
}

// StaticCredentials maps provider ids to keys.
type StaticCredentials map[string]string

func (s StaticCredentials) APIKey(cfg ProviderConfig) (string, bool) {
	key, ok := s[cfg.ID]
	return key, ok && key != ""
}
