package config

import (
	"fmt"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are reported as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		value := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret {
			value = "(unset)"
			if s.extract(cfg) != "" {
				value = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
		})
	}
	return result
}

// SetKey writes a config key to the config file, or a secret to the secrets file.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(ConfigFilePath()), fileSecrets{path: SecretsFilePath()}, key, value)
}

func setKeyWith(b ConfigBackend, secrets fileSecrets, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}
	v, err := s.parse(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if s.secret {
		return secrets.Set(key, value)
	}
	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, value)
}

// ValidKeys returns the list of config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
