package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// 默认值。
const (
	DefaultAPIEndpoint   = "https://api.useeasy.cash"
	DefaultEnvironment   = "mainnet"
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 2 * time.Second
	DefaultProofCacheTTL = 5 * time.Minute
	DefaultCacheTTL      = time.Minute
	DefaultRateLimit     = 100
	DefaultRateWindow    = time.Minute
)

// SDK 描述执行管线的运行参数。
type SDK struct {
	APIEndpoint string `json:"api_endpoint" env:"API_ENDPOINT"`
	APIKey      string `json:"api_key" env:"API_KEY"`
	Environment string `json:"environment" env:"ENV"`

	Timeout      time.Duration `json:"timeout" env:"TIMEOUT"`
	MaxRetries   uint32        `json:"max_retries" env:"MAX_RETRIES"`
	RetryBackoff time.Duration `json:"retry_backoff" env:"RETRY_BACKOFF"`

	EnableZKProofs bool          `json:"enable_zk_proofs" env:"ENABLE_ZK_PROOFS"`
	ProofCacheTTL  time.Duration `json:"proof_cache_ttl" env:"PROOF_CACHE_TTL"`

	EnableMetrics bool          `json:"enable_metrics" env:"ENABLE_METRICS"`
	EnableCaching bool          `json:"enable_caching" env:"ENABLE_CACHING"`
	CacheTTL      time.Duration `json:"cache_ttl" env:"CACHE_TTL"`

	RateLimit RateLimit `json:"rate_limit" envPrefix:"RATE_LIMIT_"`
}

// RateLimit 描述固定窗口限流参数。
type RateLimit struct {
	Enabled     bool          `json:"enabled" env:"ENABLED"`
	MaxRequests uint64        `json:"max_requests" env:"MAX_REQUESTS"`
	Window      time.Duration `json:"window" env:"WINDOW"`
}

// Default 返回默认 SDK 配置。
func Default() SDK {
	return SDK{
		APIEndpoint:    DefaultAPIEndpoint,
		Environment:    DefaultEnvironment,
		Timeout:        DefaultTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryBackoff:   DefaultRetryBackoff,
		EnableZKProofs: true,
		ProofCacheTTL:  DefaultProofCacheTTL,
		EnableMetrics:  true,
		EnableCaching:  true,
		CacheTTL:       DefaultCacheTTL,
		RateLimit: RateLimit{
			Enabled:     true,
			MaxRequests: DefaultRateLimit,
			Window:      DefaultRateWindow,
		},
	}
}

// WithAPIKey 返回设置了 API Key 的副本。
func (s SDK) WithAPIKey(key string) SDK {
	s.APIKey = key
	return s
}

// Validate 校验配置。各时长以秒为最小单位，不足一秒视为 0。
func (s SDK) Validate() error {
	if s.Timeout < time.Second {
		return fmt.Errorf("timeout must be greater than 0")
	}
	if s.CacheTTL < time.Second {
		return fmt.Errorf("cache_ttl must be greater than 0")
	}
	if s.ProofCacheTTL < time.Second {
		return fmt.Errorf("proof_cache_ttl must be greater than 0")
	}
	switch s.Environment {
	case "mainnet", "testnet", "devnet":
	default:
		return fmt.Errorf("invalid environment: %s (must be mainnet, testnet, or devnet)", s.Environment)
	}
	if s.MaxRetries == 0 {
		return fmt.Errorf("max_retries must be greater than 0")
	}
	if s.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative")
	}
	if s.RateLimit.Enabled {
		if s.RateLimit.MaxRequests == 0 {
			return fmt.Errorf("rate_limit.max_requests must be greater than 0")
		}
		if s.RateLimit.Window <= 0 {
			return fmt.Errorf("rate_limit.window must be greater than 0")
		}
	}
	return nil
}

// UnmarshalJSON 接受 "30s" 形式的时长字符串或以秒为单位的数字。
func (s *SDK) UnmarshalJSON(data []byte) error {
	type plain SDK
	aux := struct {
		*plain
		Timeout       *jsonDuration `json:"timeout"`
		RetryBackoff  *jsonDuration `json:"retry_backoff"`
		ProofCacheTTL *jsonDuration `json:"proof_cache_ttl"`
		CacheTTL      *jsonDuration `json:"cache_ttl"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	aux.Timeout.apply(&s.Timeout)
	aux.RetryBackoff.apply(&s.RetryBackoff)
	aux.ProofCacheTTL.apply(&s.ProofCacheTTL)
	aux.CacheTTL.apply(&s.CacheTTL)
	return nil
}

// UnmarshalJSON 接受 "30s" 形式的时长字符串或以秒为单位的数字。
func (r *RateLimit) UnmarshalJSON(data []byte) error {
	type plain RateLimit
	aux := struct {
		*plain
		Window *jsonDuration `json:"window"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	aux.Window.apply(&r.Window)
	return nil
}

// MarshalJSON 将时长编码为 "30s" 形式，与 UnmarshalJSON 对称。
func (s SDK) MarshalJSON() ([]byte, error) {
	type plain SDK
	return json.Marshal(struct {
		plain
		Timeout       string `json:"timeout"`
		RetryBackoff  string `json:"retry_backoff"`
		ProofCacheTTL string `json:"proof_cache_ttl"`
		CacheTTL      string `json:"cache_ttl"`
	}{
		plain:         plain(s),
		Timeout:       s.Timeout.String(),
		RetryBackoff:  s.RetryBackoff.String(),
		ProofCacheTTL: s.ProofCacheTTL.String(),
		CacheTTL:      s.CacheTTL.String(),
	})
}

// MarshalJSON 将窗口编码为 "1m0s" 形式。
func (r RateLimit) MarshalJSON() ([]byte, error) {
	type plain RateLimit
	return json.Marshal(struct {
		plain
		Window string `json:"window"`
	}{plain: plain(r), Window: r.Window.String()})
}

type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = jsonDuration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s: %w", raw, err)
	}
	*d = jsonDuration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d *jsonDuration) apply(dst *time.Duration) {
	if d != nil {
		*dst = time.Duration(*d)
	}
}

// Duration 是配置文件中可读的时长，接受 "30s" 或秒数。
type Duration struct {
	time.Duration
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (d *Duration) UnmarshalJSON(data []byte) error {
	var jd jsonDuration
	if err := jd.UnmarshalJSON(data); err != nil {
		return err
	}
	d.Duration = time.Duration(jd)
	return nil
}

// MarshalJSON 实现 json.Marshaler。
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalText 允许从环境变量解析。
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
