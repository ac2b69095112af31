package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/config"
	"schedcal/internal/model"
)

func TestApplyOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "from-anthropic-env")

	cfg := config.DefaultConfig()
	v := viper.New()
	v.Set("timezone", "Europe/Berlin")
	v.Set("state_dir", "/tmp/schedcal-state")
	v.Set("provider", "anthropic")
	v.Set("year", 2027)
	v.Set("floor_mode", "clamp_to_next")

	applyOverrides(cfg, v)

	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 2027, cfg.Year)
	assert.Equal(t, "/tmp/schedcal-state", cfg.StateDir)
	assert.Equal(t, filepath.Join("/tmp/schedcal-state", "calendar.ics"), cfg.Output.Path)
	assert.Equal(t, "anthropic", cfg.Extract.Provider)
	assert.Equal(t, config.DefaultModel("anthropic"), cfg.Extract.Model)
	assert.Equal(t, "from-anthropic-env", cfg.Extract.APIKey)
	assert.Equal(t, "clamp_to_next", cfg.Inference.FloorMode)
}

func TestApplyOverrides_KeepsExplicitValues(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.Path = "/srv/www/meetings.ics"
	cfg.Extract.Model = "gemini-custom"
	cfg.Extract.APIKey = "from-file"

	v := viper.New()
	v.Set("state_dir", "/tmp/other")
	v.Set("provider", "anthropic")
	v.Set("listen", "")

	applyOverrides(cfg, v)

	assert.Equal(t, "/srv/www/meetings.ics", cfg.Output.Path)
	assert.Equal(t, "gemini-custom", cfg.Extract.Model)
	assert.Equal(t, "from-file", cfg.Extract.APIKey)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)

	v.Set("api_key", "from-env")
	applyOverrides(cfg, v)
	assert.Equal(t, "from-env", cfg.Extract.APIKey)
}

func TestDecodeRecords(t *testing.T) {
	want := []model.Record{
		{Title: "Revenue Estimating Conference", Date: "12-January", Time: "1:30 PM"},
		{Title: "Board", Date: "13-January", Time: "9:00 AM"},
	}

	inputs := map[string]string{
		"yaml list": `
- title: Revenue Estimating Conference
  date: 12-January
  time: "1:30 PM"
- title: Board
  date: 13-January
  time: "9:00 AM"
`,
		"json object": `{"events": [
  {"title": "Revenue Estimating Conference", "date": "12-January", "time": "1:30 PM"},
  {"title": "Board", "date": "13-January", "time": "9:00 AM"}
]}`,
		"json list": `[{"title": "Revenue Estimating Conference", "date": "12-January", "time": "1:30 PM"},
{"title": "Board", "date": "13-January", "time": "9:00 AM"}]`,
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := decodeRecords(strings.NewReader(in))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	got, err := decodeRecords(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = decodeRecords(strings.NewReader(`{"meetings": []}`))
	assert.Error(t, err)

	_, err = decodeRecords(strings.NewReader(`"just a string"`))
	assert.Error(t, err)
}

func TestInferCommand(t *testing.T) {
	origNow := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC) }
	defer func() { nowFunc = origNow }()

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	recordsPath := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(recordsPath, []byte(`{"events": [
  {"title": "Afternoon", "date": "12-January", "time": "1:30 PM"},
  {"title": "Morning", "date": "12-January", "time": "9:00 AM"},
  {"title": "Broken", "date": "someday", "time": "9:00 AM"}
]}`), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"infer", "--config", cfgPath, "--state-dir", dir, recordsPath})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())

	ics := out.String()
	assert.True(t, strings.HasPrefix(ics, "BEGIN:VCALENDAR"))
	assert.Equal(t, 2, strings.Count(ics, "BEGIN:VEVENT"))
	assert.Contains(t, ics, "SUMMARY:Morning")
	// 09:00 EST ends at the next start, 13:30 EST.
	assert.Contains(t, ics, "DTSTART:20260112T140000Z")
	assert.Contains(t, ics, "DTEND:20260112T183000Z")

	_, err := os.Stat(cfgPath)
	assert.NoError(t, err, "first run writes a default config")
}
