// Package config holds the verifier's configuration as a single immutable
// value, built once by FromEnv from environment variables with sane
// defaults, rather than scattered os.Getenv calls or mutable globals.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DNSTier is an ordered list of nameserver addresses tried in sequence.
type DNSTier []string

// Config is immutable once constructed; every field is a value copied in,
// not a pointer into shared mutable state.
type Config struct {
	DNSLookupTimeout      time.Duration
	TCPConnectTimeout     time.Duration
	ProxyHandshakeTimeout time.Duration
	SMTPBannerTimeout     time.Duration
	SMTPCommandTimeout    time.Duration
	ConnectionLifetime    time.Duration

	SMTPPort       int
	MinDelay       time.Duration
	MaxDelay       time.Duration
	DefaultHELO    string

	DNSPrimary   DNSTier
	DNSFallback  DNSTier
	DNSSecondary DNSTier

	DNSRetries int

	// ProxyURLs, if non-empty, routes SMTP connections through SOCKS5
	// proxies, round-robin across entries when more than one is
	// configured. Empty means direct TCP.
	ProxyURLs []string

	// BulkConcurrency bounds the fan-out width of the bulk driver
	// (default 20, ceiling 50).
	BulkConcurrency int

	// MetricsAddr holds the address read from MAILCHECK_METRICS_ADDR. The
	// commands in this module do not start metrics.Serve on it.
	MetricsAddr string

	// EnableVRFY opts into an opportunistic VRFY pre-check before the
	// RCPT-TO probe protocol. Off by default: most modern MTAs disable
	// VRFY or answer unreliably.
	EnableVRFY bool
}

const (
	defaultDNSLookupTimeout      = 5 * time.Second
	defaultTCPConnectTimeout     = 5 * time.Second
	defaultProxyHandshakeTimeout = 10 * time.Second
	defaultSMTPBannerTimeout  = 5 * time.Second
	defaultSMTPCommandTimeout = 10 * time.Second
	defaultConnectionLifetime = 30 * time.Second

	defaultSMTPPort    = 25
	defaultMinDelay    = 100 * time.Millisecond
	defaultMaxDelay    = 800 * time.Millisecond
	defaultHELO        = "verify.example.com"
	defaultDNSRetries  = 2 // retries+1 attempts == 3
	defaultBulkWidth   = 20
	maxBulkWidth       = 50
)

// Default returns the baseline configuration before any environment
// overrides are applied.
func Default() Config {
	return Config{
		DNSLookupTimeout:      defaultDNSLookupTimeout,
		TCPConnectTimeout:     defaultTCPConnectTimeout,
		ProxyHandshakeTimeout: defaultProxyHandshakeTimeout,
		SMTPBannerTimeout:     defaultSMTPBannerTimeout,
		SMTPCommandTimeout:    defaultSMTPCommandTimeout,
		ConnectionLifetime:    defaultConnectionLifetime,

		SMTPPort:    defaultSMTPPort,
		MinDelay:    defaultMinDelay,
		MaxDelay:    defaultMaxDelay,
		DefaultHELO: defaultHELO,

		DNSPrimary:   DNSTier{"1.1.1.1:53"},
		DNSFallback:  DNSTier{"8.8.8.8:53"},
		DNSSecondary: DNSTier{"9.9.9.9:53"},
		DNSRetries:   defaultDNSRetries,

		BulkConcurrency: defaultBulkWidth,
	}
}

// FromEnv builds a Config starting from Default and overriding fields the
// operator has set via environment variables.
func FromEnv() Config {
	cfg := Default()

	if v := os.Getenv("MAILCHECK_HELO"); v != "" {
		cfg.DefaultHELO = v
	}
	if v := os.Getenv("MAILCHECK_PROXY_URLS"); v != "" {
		cfg.ProxyURLs = []string(splitTier(v))
	}
	if v := os.Getenv("MAILCHECK_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("MAILCHECK_BULK_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > maxBulkWidth {
				n = maxBulkWidth
			}
			cfg.BulkConcurrency = n
		}
	}
	if v := os.Getenv("MAILCHECK_DNS_PRIMARY"); v != "" {
		cfg.DNSPrimary = splitTier(v)
	}
	if v := os.Getenv("MAILCHECK_DNS_FALLBACK"); v != "" {
		cfg.DNSFallback = splitTier(v)
	}
	if v := os.Getenv("MAILCHECK_DNS_SECONDARY"); v != "" {
		cfg.DNSSecondary = splitTier(v)
	}
	if v := strings.ToLower(os.Getenv("MAILCHECK_ENABLE_VRFY")); v == "true" || v == "1" {
		cfg.EnableVRFY = true
	}

	return cfg
}

func splitTier(v string) DNSTier {
	parts := strings.Split(v, ",")
	tier := make(DNSTier, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			tier = append(tier, p)
		}
	}
	return tier
}

// Tiers returns the three DNS resolver tiers in try-order.
func (c Config) Tiers() []DNSTier {
	return []DNSTier{c.DNSPrimary, c.DNSFallback, c.DNSSecondary}
}
