// Package feed loads threat-intelligence indicators from YAML feed files.
package feed

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/willf/bloom"
	"gopkg.in/yaml.v3"

	"github.com/opswatch/opswatch/internal/model"
)

const bloomFalsePositiveRate = 0.01

// FeedFile is the on-disk shape of a single indicator feed.
type FeedFile struct {
	Source     string  `yaml:"source"`
	Indicators []Entry `yaml:"indicators"`
}

// Entry is one indicator in a feed file.
type Entry struct {
	Indicator     string `yaml:"indicator"`
	IndicatorType string `yaml:"indicator_type"`
	ThreatType    string `yaml:"threat_type"`
	Severity      string `yaml:"severity"`
	Confidence    int    `yaml:"confidence"`
	Description   string `yaml:"description"`
}

// Snapshot is an immutable view of all loaded indicators plus a bloom
// filter over their values for fast negative prescreening. The prescreen
// is an optimization only: a bloom hit still goes through full
// correlation, so false positives never change output.
type Snapshot struct {
	Indicators []model.ThreatIndicator
	Version    int64

	filter *bloom.BloomFilter
}

// MightContain reports whether a value could be a known indicator. A
// false return is definitive; a true return requires full matching.
func (s *Snapshot) MightContain(value string) bool {
	if s == nil || s.filter == nil || value == "" {
		return false
	}
	return s.filter.TestString(value)
}

// Loader reads indicator feed files from a directory.
type Loader struct {
	feedDir string
	logger  *slog.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewLoader creates a feed loader for the given directory.
func NewLoader(feedDir string, logger *slog.Logger) *Loader {
	return &Loader{feedDir: feedDir, logger: logger}
}

// LoadSnapshot loads all feed files and swaps in a new snapshot. Files
// or entries that fail to parse or validate are skipped with a warning;
// a missing directory yields an empty snapshot rather than an error.
func (l *Loader) LoadSnapshot() (*Snapshot, error) {
	l.logger.Info("Loading indicator feeds", "feed_dir", l.feedDir)

	files, err := l.feedFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to list feed files: %w", err)
	}

	byValue := make(map[string]model.ThreatIndicator)
	var order []string

	for _, file := range files {
		indicators, err := l.loadFile(file)
		if err != nil {
			l.logger.Warn("Failed to load feed file", "file", file, "error", err)
			continue
		}
		for _, indicator := range indicators {
			if err := validate(indicator); err != nil {
				l.logger.Warn("Invalid indicator skipped", "file", file, "indicator", indicator.Indicator, "error", err)
				continue
			}
			// Later files override earlier ones for the same value.
			if _, exists := byValue[indicator.Indicator]; !exists {
				order = append(order, indicator.Indicator)
			}
			byValue[indicator.Indicator] = indicator
		}
	}

	indicators := make([]model.ThreatIndicator, 0, len(order))
	estimate := uint(len(order))
	if estimate == 0 {
		estimate = 1
	}
	filter := bloom.NewWithEstimates(estimate, bloomFalsePositiveRate)
	for _, value := range order {
		indicators = append(indicators, byValue[value])
		filter.AddString(value)
	}

	snapshot := &Snapshot{
		Indicators: indicators,
		Version:    time.Now().UnixNano(),
		filter:     filter,
	}

	l.mu.Lock()
	l.snapshot = snapshot
	l.mu.Unlock()

	l.logger.Info("Indicator feeds loaded", "files", len(files), "indicators", len(indicators))
	return snapshot, nil
}

// GetSnapshot returns the current snapshot, or an empty one before the
// first load.
func (l *Loader) GetSnapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.snapshot == nil {
		return &Snapshot{}
	}
	return l.snapshot
}

func (l *Loader) feedFiles() ([]string, error) {
	entries, err := os.ReadDir(l.feedDir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Warn("Feed directory does not exist", "feed_dir", l.feedDir)
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(l.feedDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (l *Loader) loadFile(path string) ([]model.ThreatIndicator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var file FeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	source := file.Source
	if source == "" {
		source = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	now := time.Now().UTC()
	indicators := make([]model.ThreatIndicator, 0, len(file.Indicators))
	for _, entry := range file.Indicators {
		indicators = append(indicators, model.ThreatIndicator{
			Indicator:     entry.Indicator,
			IndicatorType: entry.IndicatorType,
			ThreatType:    entry.ThreatType,
			Severity:      entry.Severity,
			Confidence:    entry.Confidence,
			Source:        source,
			FirstSeen:     now,
			LastSeen:      now,
			Description:   entry.Description,
		})
	}
	return indicators, nil
}

var validIndicatorTypes = map[string]bool{
	"ip":     true,
	"domain": true,
	"hash":   true,
	"url":    true,
}

func validate(indicator model.ThreatIndicator) error {
	if indicator.Indicator == "" {
		return fmt.Errorf("indicator value is required")
	}
	if !validIndicatorTypes[indicator.IndicatorType] {
		return fmt.Errorf("invalid indicator type %q", indicator.IndicatorType)
	}
	if !model.ValidSeverity(indicator.Severity) {
		return fmt.Errorf("invalid severity %q", indicator.Severity)
	}
	if indicator.Confidence < 0 || indicator.Confidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100")
	}
	return nil
}
