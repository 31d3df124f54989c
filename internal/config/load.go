package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Load reads, strictly decodes, and validates the config file.
// Unknown fields are rejected so typos fail loudly instead of silently
// falling back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	jsonBytes, format, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse config (%s): %w", format, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config (%s): %w", format, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants and duration syntax up front, so a
// run never mutates state on a malformed config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Storage.Dir) == "" {
		return errors.New("storage.dir is required")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	if c.Notify != nil {
		if strings.TrimSpace(c.Notify.Token) == "" {
			return errors.New("notify.token is required when notify is set")
		}
		if c.Notify.ChatID == 0 {
			return errors.New("notify.chat_id is required when notify is set")
		}
	}

	if len(c.Targets) == 0 {
		return errors.New("at least one target is required")
	}
	for name, t := range c.Targets {
		if err := t.validate("targets." + name); err != nil {
			return err
		}
	}
	return nil
}

func (t TargetConfig) validate(path string) error {
	switch strings.ToLower(strings.TrimSpace(t.Platform)) {
	case "facebook", "youtube":
	case "":
		return fmt.Errorf("%s.platform is required", path)
	default:
		return fmt.Errorf("%s.platform: unknown platform %q", path, t.Platform)
	}

	if strings.TrimSpace(t.ManifestDir) == "" {
		return fmt.Errorf("%s.manifest_dir is required", path)
	}
	if len(t.Buckets) == 0 {
		return fmt.Errorf("%s.buckets must list at least one bucket file", path)
	}
	if t.MaxAttempts < 0 {
		return fmt.Errorf("%s.max_attempts must be >= 0", path)
	}

	switch strings.ToLower(strings.TrimSpace(t.Upload.Mode)) {
	case "", "hosted", "single", "chunked":
	default:
		return fmt.Errorf("%s.upload.mode: unknown mode %q", path, t.Upload.Mode)
	}
	if t.Upload.ChunkSize < 0 {
		return fmt.Errorf("%s.upload.chunk_size must be >= 0", path)
	}
	if _, err := ParseDurationField(path+".upload.poll_interval", t.Upload.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField(path+".upload.poll_timeout", t.Upload.PollTimeout); err != nil {
		return err
	}

	if t.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%s.retry.max_attempts must be >= 0", path)
	}
	for i, raw := range t.Retry.Delays {
		if _, err := ParseDurationField(fmt.Sprintf("%s.retry.delays[%d]", path, i), raw); err != nil {
			return err
		}
	}

	if p := t.Engage.Probability; p != nil && (*p < 0 || *p > 1) {
		return fmt.Errorf("%s.engage.probability must be within [0,1]", path)
	}
	for _, f := range []struct{ key, raw string }{
		{"jitter_max", t.Engage.JitterMax},
		{"verify_delay", t.Engage.VerifyDelay},
		{"retry_cooldown", t.Engage.RetryCooldown},
	} {
		if _, err := ParseDurationField(path+".engage."+f.key, f.raw); err != nil {
			return err
		}
	}

	if err := t.Credentials.validate(path + ".credentials"); err != nil {
		return err
	}
	return nil
}

func (c CredentialsConfig) validate(path string) error {
	hasStatic := strings.TrimSpace(c.Token) != "" || strings.TrimSpace(c.TokenEnv) != ""
	if c.OAuth == nil {
		if !hasStatic {
			return fmt.Errorf("%s: token, token_env, or oauth is required", path)
		}
		return nil
	}
	if hasStatic {
		return fmt.Errorf("%s: token and oauth are mutually exclusive", path)
	}
	o := c.OAuth
	if strings.TrimSpace(o.ClientID) == "" || strings.TrimSpace(o.ClientSecret) == "" || strings.TrimSpace(o.RefreshToken) == "" {
		return fmt.Errorf("%s.oauth: client_id, client_secret, and refresh_token are required", path)
	}
	return nil
}
