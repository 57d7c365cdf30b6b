package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DryRun bool `yaml:"dry_run"`

	Feed struct {
		WsURL string `yaml:"ws_url"`
	} `yaml:"feed"`

	Chain struct {
		RPCHTTP      string `yaml:"rpc_http"`
		WalletPK     string `yaml:"wallet_pk"`
		Router       string `yaml:"router"`
		Recipient    string `yaml:"recipient"`
		Quote        string `yaml:"quote"`
		GasLimitSwap uint64 `yaml:"gas_limit_swap"`
	} `yaml:"chain"`

	Scorer struct {
		MinPoolLiquidityUSD float64 `yaml:"min_pool_liquidity_usd"`
		PoolFeePct          float64 `yaml:"pool_fee_pct"`
		BaseGasUnits        float64 `yaml:"base_gas_units"`
		PriorityMultiplier  float64 `yaml:"priority_multiplier"`
		CongestionSpikePct  float64 `yaml:"congestion_spike_pct"`
		MaxPoolFraction     float64 `yaml:"max_pool_fraction"`
		GasProfitMultiple   float64 `yaml:"gas_profit_multiple"`
		MinNotionalUSD      float64 `yaml:"min_notional_usd"`

		// Score term caps and scales. Empirical values, kept
		// configurable rather than baked in.
		ProfitCap     float64 `yaml:"profit_cap"`
		ProfitScale   float64 `yaml:"profit_scale"`
		ImpactCap     float64 `yaml:"impact_cap"`
		ImpactScale   float64 `yaml:"impact_scale"`
		GasEffCap     float64 `yaml:"gas_eff_cap"`
		GasEffScale   float64 `yaml:"gas_eff_scale"`
		HighImpactPct float64 `yaml:"high_impact_pct"`
		MedImpactPct  float64 `yaml:"med_impact_pct"`

		Snipe struct {
			SecurityPassRatio float64 `yaml:"security_pass_ratio"`
			WinProb           float64 `yaml:"win_prob"`
			WinRatio          float64 `yaml:"win_ratio"`
			MaxFraction       float64 `yaml:"max_fraction"`
		} `yaml:"snipe"`
	} `yaml:"scorer"`

	Risk struct {
		MinScore          float64 `yaml:"min_score"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
		MaxGasUSD         float64 `yaml:"max_gas_usd"`
		DispatchTimeoutMs int     `yaml:"dispatch_timeout_ms"`
	} `yaml:"risk"`

	Monitor struct {
		PollIntervalMs  int     `yaml:"poll_interval_ms"`
		FetchTimeoutMs  int     `yaml:"fetch_timeout_ms"`
		ProfitTargetPct float64 `yaml:"profit_target_pct"`
		StopLossPct     float64 `yaml:"stop_loss_pct"`
		TrailingStopPct float64 `yaml:"trailing_stop_pct"`
		MaxHoldSec      int     `yaml:"max_hold_sec"`
	} `yaml:"monitor"`

	Portfolio struct {
		InitialBalanceUSD float64 `yaml:"initial_balance_usd"`
	} `yaml:"portfolio"`

	Timings struct {
		CycleTickMs  int `yaml:"cycle_tick_ms"`
		ScoreWorkers int `yaml:"score_workers"`
		BootstrapMs  int `yaml:"bootstrap_ms"`
	} `yaml:"timings"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Stream   string `yaml:"stream"`
		SnapNS   string `yaml:"snap_ns"`
	} `yaml:"redis"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return &c, nil
}

// ApplyDefaults fills zero values after unmarshal. Also used by tests
// to get a runnable config without a file.
func (c *Config) ApplyDefaults() {
	s := &c.Scorer
	if s.MinPoolLiquidityUSD == 0 {
		s.MinPoolLiquidityUSD = 5000
	}
	if s.PoolFeePct == 0 {
		s.PoolFeePct = 0.003
	}
	if s.BaseGasUnits == 0 {
		s.BaseGasUnits = 200_000
	}
	if s.PriorityMultiplier == 0 {
		s.PriorityMultiplier = 1.5
	}
	if s.CongestionSpikePct == 0 {
		s.CongestionSpikePct = 80
	}
	if s.MaxPoolFraction == 0 {
		s.MaxPoolFraction = 0.10
	}
	if s.GasProfitMultiple == 0 {
		s.GasProfitMultiple = 10
	}
	if s.MinNotionalUSD == 0 {
		s.MinNotionalUSD = 100
	}
	if s.ProfitCap == 0 {
		s.ProfitCap = 40
	}
	if s.ProfitScale == 0 {
		s.ProfitScale = 10
	}
	if s.ImpactCap == 0 {
		s.ImpactCap = 30
	}
	if s.ImpactScale == 0 {
		s.ImpactScale = 6
	}
	if s.GasEffCap == 0 {
		s.GasEffCap = 30
	}
	if s.GasEffScale == 0 {
		s.GasEffScale = 3
	}
	if s.HighImpactPct == 0 {
		s.HighImpactPct = 5
	}
	if s.MedImpactPct == 0 {
		s.MedImpactPct = 1
	}
	if s.Snipe.SecurityPassRatio == 0 {
		s.Snipe.SecurityPassRatio = 0.75
	}
	if s.Snipe.WinProb == 0 {
		s.Snipe.WinProb = 0.55
	}
	if s.Snipe.WinRatio == 0 {
		s.Snipe.WinRatio = 2.0
	}
	if s.Snipe.MaxFraction == 0 {
		s.Snipe.MaxFraction = 0.25
	}

	if c.Risk.MinScore == 0 {
		c.Risk.MinScore = 30
	}
	if c.Risk.MaxConcurrent == 0 {
		c.Risk.MaxConcurrent = 5
	}
	if c.Risk.MaxGasUSD == 0 {
		c.Risk.MaxGasUSD = 150
	}
	if c.Risk.DispatchTimeoutMs == 0 {
		c.Risk.DispatchTimeoutMs = 3000
	}

	if c.Monitor.PollIntervalMs == 0 {
		c.Monitor.PollIntervalMs = 5000
	}
	if c.Monitor.FetchTimeoutMs == 0 {
		c.Monitor.FetchTimeoutMs = 2000
	}
	if c.Monitor.ProfitTargetPct == 0 {
		c.Monitor.ProfitTargetPct = 200
	}
	if c.Monitor.StopLossPct == 0 {
		c.Monitor.StopLossPct = 20
	}
	if c.Monitor.TrailingStopPct == 0 {
		c.Monitor.TrailingStopPct = 15
	}
	if c.Monitor.MaxHoldSec == 0 {
		c.Monitor.MaxHoldSec = 3600
	}

	if c.Portfolio.InitialBalanceUSD == 0 {
		c.Portfolio.InitialBalanceUSD = 10_000
	}

	if c.Timings.CycleTickMs == 0 {
		c.Timings.CycleTickMs = 500
	}
	if c.Timings.ScoreWorkers == 0 {
		c.Timings.ScoreWorkers = 4
	}
	if c.Timings.BootstrapMs == 0 {
		c.Timings.BootstrapMs = 5000
	}

	if c.Redis.Stream == "" {
		c.Redis.Stream = "exit:stream"
	}
	if c.Redis.SnapNS == "" {
		c.Redis.SnapNS = "cycle:snap:"
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Monitor.FetchTimeoutMs) * time.Millisecond
}
func (c *Config) MaxHold() time.Duration {
	return time.Duration(c.Monitor.MaxHoldSec) * time.Second
}
func (c *Config) CycleTick() time.Duration {
	return time.Duration(c.Timings.CycleTickMs) * time.Millisecond
}
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Risk.DispatchTimeoutMs) * time.Millisecond
}
