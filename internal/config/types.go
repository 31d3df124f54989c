package config

// Config is the full process configuration. One value is constructed per
// invocation (Load) and passed down; nothing reads it through a global.
//
// All durations are Go duration strings (e.g. "3s", "30m", "1h").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage selects the ledger backend shared by all targets.
	// Driver values: "file" (default) or "sqlite".
	Storage StorageConfig `json:"storage"`

	// Notify, if present, sends run summaries to a Telegram chat.
	Notify *NotifyConfig `json:"notify,omitempty"`

	// Targets maps a deployment name (e.g. "facebook-reels") to its target
	// block. Each target is published to independently.
	Targets map[string]TargetConfig `json:"targets"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"` // debug|info|warn|error, default info
	File  string `json:"file,omitempty"`  // optional JSON mirror file
}

type StorageConfig struct {
	Driver string `json:"driver,omitempty"` // "file" | "sqlite", default "file"
	Dir    string `json:"dir"`              // state directory (one ledger pair per target)
}

type NotifyConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// OnSuccess also reports successful runs; failures are always reported.
	OnSuccess bool `json:"on_success,omitempty"`
}

// TargetConfig describes one publishing target deployment.
type TargetConfig struct {
	// Platform selects the wire protocol: "facebook" | "youtube".
	Platform string `json:"platform"`

	// Enabled is a pointer so "omitted" defaults to true.
	Enabled *bool `json:"enabled,omitempty"`

	ManifestDir string `json:"manifest_dir"`

	// Buckets is the ordered bucket file list (rotation order). Files not
	// listed here are ignored.
	Buckets []string `json:"buckets"`

	// MaxAttempts caps publish attempts per item. Default 3.
	MaxAttempts int `json:"max_attempts,omitempty"`

	TitleMax       int `json:"title_max,omitempty"`       // default per platform
	DescriptionMax int `json:"description_max,omitempty"` // default per platform

	Upload UploadConfig `json:"upload"`
	Retry  RetryConfig  `json:"retry"`
	Engage EngageConfig `json:"engage"`

	Credentials CredentialsConfig `json:"credentials"`

	API APIConfig `json:"api"`

	// Schedule is used only by daemon mode.
	Schedule ScheduleConfig `json:"schedule"`
}

// UploadConfig controls the byte-transfer step and status polling.
//
// Mode is a fixed deployment choice, never runtime-negotiated:
//   - "hosted":  the target fetches the payload from its source URL itself
//     (single request carrying the URL).
//   - "single":  one request with the whole payload and a zero offset.
//   - "chunked": successive byte ranges advancing by acknowledged offset.
type UploadConfig struct {
	Mode         string `json:"mode,omitempty"` // default per platform
	ChunkSize    int64  `json:"chunk_size,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"` // default "5s"
	PollTimeout  string `json:"poll_timeout,omitempty"`  // default "10m"
}

// RetryConfig controls the retry loop around the byte-transfer step.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts,omitempty"` // default 3
	// Delays is the ordered backoff schedule; the last value is reused for
	// any attempt beyond its length. Default ["30s","90s","180s"].
	Delays []string `json:"delays,omitempty"`
}

// EngageConfig controls the delayed first-comment worker.
type EngageConfig struct {
	Enabled *bool `json:"enabled,omitempty"` // default true

	// Probability of commenting (vs skipping) per published item, 0..1.
	// Default 0.9.
	Probability *float64 `json:"probability,omitempty"`

	// Templates override the built-in comment templates. Placeholders
	// {grit} and {surface} are substituted from item metadata.
	Templates []string `json:"templates,omitempty"`

	JitterMax     string `json:"jitter_max,omitempty"`     // default "30m", "0s" disables
	VerifyDelay   string `json:"verify_delay,omitempty"`   // default "30m"
	RetryCooldown string `json:"retry_cooldown,omitempty"` // default "1h"

	MaxCommentAttempts int `json:"max_comment_attempts,omitempty"` // default 2
	MaxVerifyAttempts  int `json:"max_verify_attempts,omitempty"`  // default 3
}

// CredentialsConfig supplies the long-lived credential material.
//
// Either a static token (inline or via env var) or an OAuth refresh-token
// exchange. Absence or rejection is fatal and non-retriable.
type CredentialsConfig struct {
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`

	OAuth *OAuthConfig `json:"oauth,omitempty"`
}

type OAuthConfig struct {
	TokenURL     string `json:"token_url,omitempty"` // default per platform
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// APIConfig carries per-platform endpoint knobs.
type APIConfig struct {
	// BaseURL overrides the platform API root (tests, proxies).
	BaseURL string `json:"base_url,omitempty"`
	// Version pins the API version where the platform has one (Graph API).
	Version string `json:"version,omitempty"`
	// RatePerSec caps outgoing API calls. 0 disables limiting.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type ScheduleConfig struct {
	// Publish and Engage are cron specs (five-field, robfig/cron).
	Publish string `json:"publish,omitempty"`
	Engage  string `json:"engage,omitempty"`
}

func (t TargetConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

func (e EngageConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func (e EngageConfig) EffectiveProbability() float64 {
	if e.Probability == nil {
		return 0.9
	}
	p := *e.Probability
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
