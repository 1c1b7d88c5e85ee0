package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cardwatch/cardwatch/pkg/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, types.Region{Left: 880, Top: 100, Right: 1080, Bottom: 380}, cfg.Region)
	require.Equal(t, 0.8, cfg.MinConfidence)
	require.Equal(t, -1, cfg.DisplayIndex)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Region = types.Region{Left: 10, Top: 10, Right: 5, Bottom: 20}
	cfg.MinConfidence = 1.5
	cfg.RetryAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid region")
	require.Contains(t, err.Error(), "confidence")
	require.Contains(t, err.Error(), "retry attempts")
}

func TestParseRegion(t *testing.T) {
	r, err := ParseRegion(" 1, 2,30,40")
	require.NoError(t, err)
	require.Equal(t, types.Region{Left: 1, Top: 2, Right: 30, Bottom: 40}, r)

	_, err = ParseRegion("1,2,3")
	require.Error(t, err)

	_, err = ParseRegion("10,10,10,20")
	require.Error(t, err)
}

func TestFromEnvOverlay(t *testing.T) {
	env := map[string]string{
		"CARDWATCH_REGION":  "0,0,100,50",
		"CARDWATCH_CONF":    "0.5",
		"CARDWATCH_PERIOD":  "750ms",
		"CARDWATCH_DISPLAY": "1",
		"TELEGRAM_CHAT_ID":  "42",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	require.NoError(t, FromEnv(&cfg, lookup))
	require.Equal(t, types.Region{Right: 100, Bottom: 50}, cfg.Region)
	require.Equal(t, 0.5, cfg.MinConfidence)
	require.Equal(t, 750*time.Millisecond, cfg.CyclePeriod)
	require.Equal(t, 1, cfg.DisplayIndex)
	require.Equal(t, int64(42), cfg.TelegramChatID)
}

func TestFromEnvReportsParseErrors(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "CARDWATCH_RETRIES" {
			return "many", true
		}
		return "", false
	}
	cfg := DefaultConfig()
	err := FromEnv(&cfg, lookup)
	require.Error(t, err)
	require.Contains(t, err.Error(), "CARDWATCH_RETRIES")
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, FromEnv(&cfg, func(k string) (string, bool) {
		if k == "CARDWATCH_CONF" {
			return "0.6", true
		}
		return "", false
	}))

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-conf", "0.9", "-region", "5,5,50,60"}))

	require.Equal(t, 0.9, cfg.MinConfidence)
	require.Equal(t, types.Region{Left: 5, Top: 5, Right: 50, Bottom: 60}, cfg.Region)
}
