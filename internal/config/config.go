// Package config loads the simulator's execution and fee knobs from a YAML
// file, with MARKETSIM_-prefixed environment variables overriding any key
// present in the file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of tunables recognized by the simulator core.
type Config struct {
	Execution ExecutionConfig `mapstructure:"execution"`
	Fees      FeesConfig      `mapstructure:"fees"`
}

// ExecutionConfig controls matching-engine stochastics, margin enforcement,
// feeder mode, durability, and calendar gating.
type ExecutionConfig struct {
	EnableLatency      bool  `mapstructure:"enable_latency"`
	FixedLatencyUs     int64 `mapstructure:"fixed_latency_us"`
	RandomLatencyMaxUs int64 `mapstructure:"random_latency_max_us"`

	EnableSlippage       bool    `mapstructure:"enable_slippage"`
	FixedSlippageBps     float64 `mapstructure:"fixed_slippage_bps"`
	RandomSlippageMaxBps float64 `mapstructure:"random_slippage_max_bps"`

	// EnableMarketImpact and MarketImpactBps model a size-scaled adverse
	// price move applied at the session layer. MarketImpactPerShare and
	// MarketImpactSqrtCoef are loaded but not read by the impact
	// calculation, which applies only the linear MarketImpactBps term.
	EnableMarketImpact   bool    `mapstructure:"enable_market_impact"`
	MarketImpactBps      float64 `mapstructure:"market_impact_bps"`
	MarketImpactPerShare float64 `mapstructure:"market_impact_per_share"`
	MarketImpactSqrtCoef float64 `mapstructure:"market_impact_sqrt_coef"`

	EnablePartialFills     bool    `mapstructure:"enable_partial_fills"`
	PartialFillProbability float64 `mapstructure:"partial_fill_probability"`
	RejectionProbability   float64 `mapstructure:"rejection_probability"`

	AllowShorting      bool    `mapstructure:"allow_shorting"`
	MaxPositionValue   float64 `mapstructure:"max_position_value"`    // 0 = no limit
	MaxSingleOrderValue float64 `mapstructure:"max_single_order_value"` // 0 = no limit

	EnableMarginCallChecks  bool    `mapstructure:"enable_margin_call_checks"`
	EnableForcedLiquidation bool    `mapstructure:"enable_forced_liquidation"`
	MaintenanceMarginPct    float64 `mapstructure:"maintenance_margin_pct"`

	EnableSharedFeed    bool `mapstructure:"enable_shared_feed"`
	PollIntervalSeconds int  `mapstructure:"poll_interval_seconds"`

	// QueueCapacity is the event queue's bounded capacity; 0 means
	// unbounded, the intended default for backtests. QueueDropOldest
	// selects the DropOldest overflow policy over the default Block.
	QueueCapacity   int  `mapstructure:"queue_capacity"`
	QueueDropOldest bool `mapstructure:"queue_drop_oldest"`

	CheckpointIntervalEvents uint64 `mapstructure:"checkpoint_interval_events"`
	EnableWAL                bool   `mapstructure:"enable_wal"`
	WalDirectory              string `mapstructure:"wal_directory"`

	EnforceMarketHours        bool     `mapstructure:"enforce_market_hours"`
	EnableExtendedHours       bool     `mapstructure:"enable_extended_hours"`
	PremarketStartMinutes     int      `mapstructure:"premarket_start_minutes"`
	RegularStartMinutes       int      `mapstructure:"regular_start_minutes"`
	RegularEndMinutes         int      `mapstructure:"regular_end_minutes"`
	AfterhoursEndMinutes      int      `mapstructure:"afterhours_end_minutes"`
	MarketHolidays            []string `mapstructure:"market_holidays"` // "MM-DD", recurring every year
	ExtendedHoursSlippageMult float64  `mapstructure:"extended_hours_slippage_mult"`
	ExtendedHoursLiquidityPct float64  `mapstructure:"extended_hours_liquidity_pct"`

	EnableShortSaleRestrictions bool    `mapstructure:"enable_short_sale_restrictions"`
	SSRThresholdPct             float64 `mapstructure:"ssr_threshold_pct"`

	EnableCircuitBreakers bool    `mapstructure:"enable_circuit_breakers"`
	LULDTier1Pct          float64 `mapstructure:"luld_tier1_pct"`
	LULDTier2Pct          float64 `mapstructure:"luld_tier2_pct"`
	LULDHaltDurationSec   int64   `mapstructure:"luld_halt_duration_sec"`

	EnableAutoCorporateActions bool `mapstructure:"enable_auto_corporate_actions"`
}

// FeesConfig is the standard US-equity fee schedule:
// fees = per_order + qty*per_share
//        + (sell ? notional*sec_rate/1e6 + min(qty*taf_rate, taf_cap) : 0)
//        + (is_maker ? qty*maker_rebate : qty*taker_fee)
type FeesConfig struct {
	PerOrder    float64 `mapstructure:"per_order"`
	PerShare    float64 `mapstructure:"per_share"`
	SECRate     float64 `mapstructure:"sec_rate"`
	TAFRate     float64 `mapstructure:"taf_rate"`
	TAFCap      float64 `mapstructure:"taf_cap"`
	MakerRebate float64 `mapstructure:"maker_rebate"`
	TakerFee    float64 `mapstructure:"taker_fee"`
}

// Load reads path (if non-empty) as YAML, then layers MARKETSIM_-prefixed
// environment variables over it, and fills any still-unset field with a
// deterministic default. A missing path is not an error: defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("execution.enable_partial_fills", true)
	v.SetDefault("execution.partial_fill_probability", 1.0)
	v.SetDefault("execution.rejection_probability", 0.0)
	v.SetDefault("execution.allow_shorting", true)
	v.SetDefault("execution.enable_margin_call_checks", true)
	v.SetDefault("execution.enable_forced_liquidation", true)
	v.SetDefault("execution.maintenance_margin_pct", 25.0)
	v.SetDefault("execution.enable_wal", true)
	v.SetDefault("execution.wal_directory", "logs")
	v.SetDefault("execution.checkpoint_interval_events", uint64(10000))
	v.SetDefault("execution.enable_extended_hours", true)
	v.SetDefault("execution.enforce_market_hours", false)
	v.SetDefault("execution.premarket_start_minutes", 240)  // 04:00 ET
	v.SetDefault("execution.regular_start_minutes", 570)    // 09:30 ET
	v.SetDefault("execution.regular_end_minutes", 960)      // 16:00 ET
	v.SetDefault("execution.afterhours_end_minutes", 1200)  // 20:00 ET
	v.SetDefault("execution.extended_hours_slippage_mult", 2.0)
	v.SetDefault("execution.extended_hours_liquidity_pct", 30.0)
	v.SetDefault("execution.market_holidays", []string{
		"01-01", "01-20", "02-17", "04-18", "05-26",
		"06-19", "07-04", "09-01", "11-27", "12-25",
	})
	v.SetDefault("execution.enable_short_sale_restrictions", true)
	v.SetDefault("execution.ssr_threshold_pct", 10.0)
	v.SetDefault("execution.enable_circuit_breakers", true)
	v.SetDefault("execution.luld_tier1_pct", 5.0)
	v.SetDefault("execution.luld_tier2_pct", 10.0)
	v.SetDefault("execution.luld_halt_duration_sec", 300)
	v.SetDefault("execution.enable_auto_corporate_actions", true)

	v.SetDefault("fees.per_order", 0.0)
	v.SetDefault("fees.per_share", 0.0)
	v.SetDefault("fees.sec_rate", 27.80)
	v.SetDefault("fees.taf_rate", 0.000166)
	v.SetDefault("fees.taf_cap", 8.30)
	v.SetDefault("fees.maker_rebate", 0.0)
	v.SetDefault("fees.taker_fee", 0.0)
}
