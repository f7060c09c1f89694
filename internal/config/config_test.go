package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/xarb/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xarb.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const sampleConfig = `
mode = "simulate"
log_level = "debug"

[engine]
tick_interval = "2s"
pairs = ["eth_btc", "XRP_BTC"]
blacklist = ["hitbtc"]

[engine.max_bidask_spread_pct.KRAKEN]
DEFAULT = 0.6

[[venues]]
name = "binance"
fee = 0.001
pairs = ["ETH_BTC"]

[[venues]]
name = "kraken"
kind = "paper"
fee = 0.0026
`

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ModeSimulate, cfg.Mode)
	require.Equal(t, 2*time.Second, cfg.Engine.TickInterval.Duration)
	require.Equal(t, 8, cfg.Engine.Workers)
	require.Equal(t, []string{"HITBTC"}, cfg.Engine.Blacklist)
	require.Len(t, cfg.Venues, 2)
	require.Equal(t, "BINANCE", cfg.Venues[0].Name)
	require.Equal(t, VenueKindPaper, cfg.Venues[0].Kind)

	// Tables decoded from the file merge with the defaults.
	require.InDelta(t, 0.006, cfg.Engine.SpreadCap("KRAKEN", domain.MustParsePair("XRP_BTC")), 1e-12)
	require.InDelta(t, 0.005, cfg.Engine.SpreadCap("BINANCE", domain.MustParsePair("ETH_BTC")), 1e-12)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("XARB_ENGINE_WORKERS", "3")
	t.Setenv("XARB_MODE", "LIVE")
	t.Setenv("XARB_REDIS_ADDR", "redis:6380")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Engine.Workers)
	require.Equal(t, ModeLive, cfg.Mode)
	require.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "paper"
	cfg.Engine.Workers = 0
	cfg.Engine.Pairs = append(cfg.Engine.Pairs, "DOGE_BTC", "bogus")
	cfg.Venues = []VenueConfig{{Name: "A", Kind: "ftx"}}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	require.Contains(t, msg, "config validation failed:")
	require.Contains(t, msg, `unknown mode "paper"`)
	require.Contains(t, msg, "engine: workers must be >= 1")
	require.Contains(t, msg, "min_vol missing for DOGE")
	require.Contains(t, msg, "invalid pair")
	require.Contains(t, msg, `unknown kind "ftx"`)
}

func TestEngineLookups(t *testing.T) {
	e := DefaultEngine()

	require.Equal(t, 6, e.PriceDigits(domain.MustParsePair("ETH_BTC"), "TEST1"))
	require.Equal(t, 8, e.PriceDigits(domain.MustParsePair("ETH_BTC"), "BITTREX"))
	require.Equal(t, 5, e.PriceDigits(domain.MustParsePair("DASH_ETH"), "BINANCE"))
	require.Equal(t, 8, e.PriceDigits(domain.MustParsePair("XRP_BTC"), "TEST1"))

	require.Equal(t, 3, e.VolumeDigits(domain.MustParsePair("ETH_BTC")))
	require.Equal(t, 2, e.VolumeDigits(domain.MustParsePair("XVG_BTC")))

	require.InDelta(t, 0.015, e.SpreadCap("HITBTC", domain.MustParsePair("XRP_BTC")), 1e-12)
	require.InDelta(t, 0.0075, e.SpreadCap("HITBTC", domain.MustParsePair("EOS_BTC")), 1e-12)
	require.InDelta(t, 0.0075, e.SpreadCap("BITFINEX", domain.MustParsePair("EOS_USDT")), 1e-12)

	require.InDelta(t, 0.00075, e.Residual("BTC"), 1e-12)
	require.Zero(t, e.Residual("XRP"))

	_, capped := e.MaxVolume("DOGE")
	require.False(t, capped)
	require.True(t, e.IsLargeUnit("XVG"))
	require.False(t, e.IsLargeUnit("XRP"))
}

func TestLiveUpdateSwapsCopy(t *testing.T) {
	live := NewLive(DefaultEngine())
	before := live.Load()

	after := live.Update(func(e Engine) Engine {
		return e.WithMinProfit(0.01).WithBlacklist([]string{"CEX"})
	})

	require.Equal(t, 0.0000002, before.MinProfit)
	require.Empty(t, before.Blacklist)
	require.Equal(t, 0.01, after.MinProfit)
	require.True(t, after.IsBlacklisted("cex"))
	require.Same(t, after, live.Load())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "***", out.Notify.DiscordWebhookURL)
	require.Empty(t, out.S3.SecretKey)
	require.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestExampleConfigIsValid(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, ModeLive, cfg.Mode)
	require.Len(t, cfg.Venues, 2)
	require.Equal(t, 30*time.Second, cfg.Redis.LeaseTTL.Duration)
	require.InDelta(t, 3000.0, cfg.Venues[0].Balances["XRP"], 1e-9)
}
