package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the tunable billing thresholds. The defaults mirror
// the documented behavior; every value can be overridden per tenant.
type BillingConfig struct {
	InvoicePrefix string `mapstructure:"invoicePrefix"`

	// PastDueAfterFailures is the failed-payment count that moves an active
	// subscription to past_due.
	PastDueAfterFailures int `mapstructure:"pastDueAfterFailures"`

	// RetryOffsetsDays are day offsets for payment retries, indexed by
	// attempt number. Attempts beyond the table are capped at
	// MaxRetryOffsetDays.
	RetryOffsetsDays   []int `mapstructure:"retryOffsetsDays"`
	MaxRetryOffsetDays int   `mapstructure:"maxRetryOffsetDays"`

	// ReminderOffsetsDays are days before the renewal date at which renewal
	// reminders are dispatched.
	ReminderOffsetsDays []int `mapstructure:"reminderOffsetsDays"`

	// AnomalyDeltaPercent is the |delta/previous|*100 threshold above which a
	// usage record is flagged as an anomaly.
	AnomalyDeltaPercent float64 `mapstructure:"anomalyDeltaPercent"`

	// AnomalyReviewRolloutPercent controls which tenants get the anomaly
	// review hold, bucketed deterministically by org ID.
	AnomalyReviewRolloutPercent int `mapstructure:"anomalyReviewRolloutPercent"`

	// UsageRetentionDays controls when aggregated raw usage records become
	// purge-eligible.
	UsageRetentionDays int `mapstructure:"usageRetentionDays"`

	// TenantOverrides are keyed by org ID string.
	TenantOverrides map[string]TenantBillingOverride `mapstructure:"tenantOverrides"`
}

// TenantBillingOverride overrides selected thresholds for a single tenant.
type TenantBillingOverride struct {
	InvoicePrefix               *string  `mapstructure:"invoicePrefix"`
	PastDueAfterFailures        *int     `mapstructure:"pastDueAfterFailures"`
	AnomalyDeltaPercent         *float64 `mapstructure:"anomalyDeltaPercent"`
	AnomalyReviewRolloutPercent *int     `mapstructure:"anomalyReviewRolloutPercent"`
	RetryOffsetsDays            []int    `mapstructure:"retryOffsetsDays"`
	ReminderOffsetsDays         []int    `mapstructure:"reminderOffsetsDays"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		InvoicePrefix:               "INV",
		PastDueAfterFailures:        3,
		RetryOffsetsDays:            []int{1, 3, 5, 7, 10},
		MaxRetryOffsetDays:          10,
		ReminderOffsetsDays:         []int{7, 3, 1},
		AnomalyDeltaPercent:         200,
		AnomalyReviewRolloutPercent: 100,
		UsageRetentionDays:          90,
	}
}

// ForOrg resolves the effective config for a tenant, applying overrides.
func (c BillingConfig) ForOrg(orgID string) BillingConfig {
	override, ok := c.TenantOverrides[strings.TrimSpace(orgID)]
	if !ok {
		return c
	}
	resolved := c
	if override.InvoicePrefix != nil && strings.TrimSpace(*override.InvoicePrefix) != "" {
		resolved.InvoicePrefix = *override.InvoicePrefix
	}
	if override.PastDueAfterFailures != nil && *override.PastDueAfterFailures > 0 {
		resolved.PastDueAfterFailures = *override.PastDueAfterFailures
	}
	if override.AnomalyDeltaPercent != nil && *override.AnomalyDeltaPercent > 0 {
		resolved.AnomalyDeltaPercent = *override.AnomalyDeltaPercent
	}
	// Zero is a valid override: it opts the tenant out of the anomaly hold.
	if override.AnomalyReviewRolloutPercent != nil && *override.AnomalyReviewRolloutPercent >= 0 {
		resolved.AnomalyReviewRolloutPercent = *override.AnomalyReviewRolloutPercent
	}
	if len(override.RetryOffsetsDays) > 0 {
		resolved.RetryOffsetsDays = override.RetryOffsetsDays
	}
	if len(override.ReminderOffsetsDays) > 0 {
		resolved.ReminderOffsetsDays = override.ReminderOffsetsDays
	}
	return resolved
}

// RetryOffsetDays returns the day offset for a failed-payment attempt
// (1-based), capped at MaxRetryOffsetDays.
func (c BillingConfig) RetryOffsetDays(attempt int) int {
	if attempt < 1 {
		attempt = 1
	}
	offsets := c.RetryOffsetsDays
	if len(offsets) == 0 {
		offsets = DefaultBillingConfig().RetryOffsetsDays
	}
	var offset int
	if attempt <= len(offsets) {
		offset = offsets[attempt-1]
	} else {
		offset = offsets[len(offsets)-1]
	}
	max := c.MaxRetryOffsetDays
	if max <= 0 {
		max = DefaultBillingConfig().MaxRetryOffsetDays
	}
	if offset > max {
		offset = max
	}
	return offset
}

// BillingConfigHolder hot-reloads billing.yml without restarting billing
// workers mid-sweep.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/faktur/config")
	v.AddConfigPath("/etc/faktur")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FAKTUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &BillingConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(DefaultBillingConfig())
		return holder, nil
	}

	cfg, err := unmarshalBillingConfig(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(cfg)

	v.OnConfigChange(func(_ fsnotify.Event) {
		updated, err := unmarshalBillingConfig(v)
		if err != nil {
			log.Printf("billing config reload rejected: %v", err)
			return
		}
		holder.current.Store(updated)
	})
	v.WatchConfig()

	return holder, nil
}

// NewStaticBillingConfigHolder wraps a fixed config, used by tests.
func NewStaticBillingConfigHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func (h *BillingConfigHolder) Current() BillingConfig {
	if value, ok := h.current.Load().(BillingConfig); ok {
		return value
	}
	return DefaultBillingConfig()
}

func unmarshalBillingConfig(v *viper.Viper) (BillingConfig, error) {
	cfg := DefaultBillingConfig()
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return BillingConfig{}, err
	}
	return cfg.withDefaults(), nil
}

func (c BillingConfig) withDefaults() BillingConfig {
	defaults := DefaultBillingConfig()
	if strings.TrimSpace(c.InvoicePrefix) == "" {
		c.InvoicePrefix = defaults.InvoicePrefix
	}
	if c.PastDueAfterFailures <= 0 {
		c.PastDueAfterFailures = defaults.PastDueAfterFailures
	}
	if len(c.RetryOffsetsDays) == 0 {
		c.RetryOffsetsDays = defaults.RetryOffsetsDays
	}
	if c.MaxRetryOffsetDays <= 0 {
		c.MaxRetryOffsetDays = defaults.MaxRetryOffsetDays
	}
	if len(c.ReminderOffsetsDays) == 0 {
		c.ReminderOffsetsDays = defaults.ReminderOffsetsDays
	}
	if c.AnomalyDeltaPercent <= 0 {
		c.AnomalyDeltaPercent = defaults.AnomalyDeltaPercent
	}
	if c.AnomalyReviewRolloutPercent <= 0 || c.AnomalyReviewRolloutPercent > 100 {
		c.AnomalyReviewRolloutPercent = defaults.AnomalyReviewRolloutPercent
	}
	if c.UsageRetentionDays <= 0 {
		c.UsageRetentionDays = defaults.UsageRetentionDays
	}
	return c
}
