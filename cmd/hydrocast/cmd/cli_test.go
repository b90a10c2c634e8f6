package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFlow(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Date,Rainfall,Discharge\n")
	day := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := 5.0
	for i := 0; i < n; i++ {
		rain := 5 + 4*math.Sin(float64(i)/5)
		fmt.Fprintf(&b, "%s,%.4f,%.4f\n", day.AddDate(0, 0, i).Format("2006-01-02"), rain, 10+2*prev)
		prev = rain
	}
	path := filepath.Join(dir, "flow.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "hydrocast.yaml")
	body := fmt.Sprintf(`data:
  inputs: [Rainfall]
  output: Discharge
model:
  type: Linear
uncertainty:
  samples: 3
  test_samples: 3
evaluation:
  plots: false
store:
  driver: sqlite3
  dsn: %s
`, filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigView(t *testing.T) {
	dir := t.TempDir()
	conf := writeConfig(t, dir)
	out, err := run(t, "config", "view", "--config", conf, "--artifacts", dir, "--record=false")
	require.NoError(t, err)
	assert.Contains(t, out, "output: Discharge")
	assert.Contains(t, out, "type: Linear")

	out, err = run(t, "config", "validate", "--config", conf, "--artifacts", dir, "--record=false")
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  lags: 0\n"), 0o644))
	_, err := run(t, "config", "validate", "--config", path, "--artifacts", dir, "--record=false")
	assert.Error(t, err)
}

func TestTrainPredictForecastRuns(t *testing.T) {
	dir := t.TempDir()
	conf := writeConfig(t, dir)
	data := writeFlow(t, dir, 100)
	artifacts := filepath.Join(dir, "session")
	exported := filepath.Join(dir, "export")
	common := []string{"--config", conf, "--artifacts", artifacts}

	out, err := run(t, append([]string{"train", data, "--record", "--export", exported}, common...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "NSE")
	assert.FileExists(t, filepath.Join(exported, "metrics.csv"))

	out, err = run(t, append([]string{"predict", data, "--record=false", "--out", ""}, common...)...)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Predicted_Discharge")

	preds := filepath.Join(dir, "forecast.csv")
	_, err = run(t, append([]string{"forecast", data, "--record=false", "--horizon", "3", "--out", preds}, common...)...)
	require.NoError(t, err)
	body, err := os.ReadFile(preds)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(body)), "\n"), 4)

	_, err = run(t, append([]string{"forecast", data, "--record=false", "--horizon", "99", "--out", ""}, common...)...)
	assert.Error(t, err)

	out, err = run(t, append([]string{"runs", "--record=false", "--limit", "5"}, common...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	id := strings.Fields(lines[1])[0]

	out, err = run(t, append([]string{"runs", "show", id, "--record=false"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "testing")

	_, err = run(t, append([]string{"runs", "delete", id, "--record=false"}, common...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"runs", "show", id, "--record=false"}, common...)...)
	assert.Error(t, err)
}

func TestPredictWithoutSession(t *testing.T) {
	dir := t.TempDir()
	conf := writeConfig(t, dir)
	data := writeFlow(t, dir, 30)
	_, err := run(t, "predict", data, "--config", conf, "--artifacts", filepath.Join(dir, "none"), "--record=false", "--out", "")
	assert.Error(t, err)
}
