package feed

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFeed(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_LoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFeed(t, dir, "abuse.yaml", `
source: abuse_ch
indicators:
  - indicator: 1.2.3.4
    indicator_type: ip
    threat_type: botnet
    severity: high
    confidence: 90
  - indicator: evil.example.com
    indicator_type: domain
    threat_type: phishing
    severity: medium
    confidence: 70
`)

	loader := NewLoader(dir, testLogger())
	snapshot, err := loader.LoadSnapshot()
	require.NoError(t, err)

	require.Len(t, snapshot.Indicators, 2)
	assert.Equal(t, "1.2.3.4", snapshot.Indicators[0].Indicator)
	assert.Equal(t, "abuse_ch", snapshot.Indicators[0].Source)
	assert.False(t, snapshot.Indicators[0].FirstSeen.IsZero())
}

func TestLoader_InvalidEntriesSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFeed(t, dir, "mixed.yaml", `
indicators:
  - indicator: 1.2.3.4
    indicator_type: ip
    threat_type: botnet
    severity: high
    confidence: 90
  - indicator: bad-type.example.com
    indicator_type: asn
    threat_type: phishing
    severity: medium
    confidence: 70
  - indicator: bad-confidence.example.com
    indicator_type: domain
    threat_type: phishing
    severity: medium
    confidence: 170
  - indicator: ""
    indicator_type: ip
    threat_type: botnet
    severity: low
    confidence: 10
`)

	loader := NewLoader(dir, testLogger())
	snapshot, err := loader.LoadSnapshot()
	require.NoError(t, err)

	require.Len(t, snapshot.Indicators, 1)
	assert.Equal(t, "1.2.3.4", snapshot.Indicators[0].Indicator)
}

func TestLoader_UnparseableFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFeed(t, dir, "broken.yaml", "indicators: [not: valid: yaml")
	writeFeed(t, dir, "good.yaml", `
indicators:
  - indicator: 5.6.7.8
    indicator_type: ip
    threat_type: scanner
    severity: low
    confidence: 40
`)

	loader := NewLoader(dir, testLogger())
	snapshot, err := loader.LoadSnapshot()
	require.NoError(t, err)

	require.Len(t, snapshot.Indicators, 1)
	assert.Equal(t, "5.6.7.8", snapshot.Indicators[0].Indicator)
}

func TestLoader_MissingDirectoryYieldsEmptySnapshot(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope"), testLogger())

	snapshot, err := loader.LoadSnapshot()
	require.NoError(t, err)
	assert.Empty(t, snapshot.Indicators)
}

func TestLoader_LaterFileOverridesSameValue(t *testing.T) {
	dir := t.TempDir()
	writeFeed(t, dir, "01-first.yaml", `
indicators:
  - indicator: 1.2.3.4
    indicator_type: ip
    threat_type: botnet
    severity: low
    confidence: 10
`)
	writeFeed(t, dir, "02-second.yaml", `
indicators:
  - indicator: 1.2.3.4
    indicator_type: ip
    threat_type: botnet
    severity: critical
    confidence: 95
`)

	loader := NewLoader(dir, testLogger())
	snapshot, err := loader.LoadSnapshot()
	require.NoError(t, err)

	require.Len(t, snapshot.Indicators, 1)
	assert.Equal(t, 95, snapshot.Indicators[0].Confidence)
}

func TestSnapshot_MightContain(t *testing.T) {
	dir := t.TempDir()
	writeFeed(t, dir, "feed.yaml", `
indicators:
  - indicator: 1.2.3.4
    indicator_type: ip
    threat_type: botnet
    severity: high
    confidence: 90
`)

	loader := NewLoader(dir, testLogger())
	snapshot, err := loader.LoadSnapshot()
	require.NoError(t, err)

	assert.True(t, snapshot.MightContain("1.2.3.4"))
	assert.False(t, snapshot.MightContain(""))

	var empty *Snapshot
	assert.False(t, empty.MightContain("1.2.3.4"))
}

func TestLoader_GetSnapshotBeforeLoad(t *testing.T) {
	loader := NewLoader(t.TempDir(), testLogger())

	snapshot := loader.GetSnapshot()
	require.NotNil(t, snapshot)
	assert.Empty(t, snapshot.Indicators)
	assert.False(t, snapshot.MightContain("anything"))
}
