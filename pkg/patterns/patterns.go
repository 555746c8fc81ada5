// Package patterns persists execution patterns emitted by the hook pipeline
// to date-partitioned JSON files without ever altering the outcome of the
// task that produced them.
package patterns

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/superdisco-agents/moai-flow-sub006/pkg/errors"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/log"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/metrics"
	"github.com/superdisco-agents/moai-flow-sub006/pkg/types"
)

// Statistics summarizes what's on disk under a Collector's storage root.
type Statistics struct {
	TotalPatterns int
	ByType        map[types.PatternType]int
	ByDay         map[string]int // "YYYY-MM-DD" -> count
}

// Collector writes Pattern records under StorageRoot/YYYY/MM/DD/<type>_<id>.json.
// It never fails the calling task: every collect method returns an error
// variant that hook callers are expected to log and discard.
type Collector struct {
	StorageRoot   string
	RetentionDays int

	mu       sync.Mutex
	seconds  int64 // unix second the counter was last reset on
	counter  int
}

// NewCollector builds a Collector rooted at storageRoot.
func NewCollector(storageRoot string, retentionDays int) *Collector {
	return &Collector{
		StorageRoot:   storageRoot,
		RetentionDays: retentionDays,
	}
}

// nextPatternID atomically allocates a pattern_id of the form
// pat-YYYYMMDD-HHMMSS-NNN. The NNN counter resets whenever the wall-clock
// second advances, so IDs stay monotone and collision-free within a second.
func (c *Collector) nextPatternID(now time.Time) string {
	c.mu.Lock()
	sec := now.Unix()
	if sec != c.seconds {
		c.seconds = sec
		c.counter = 0
	}
	c.counter++
	n := c.counter
	c.mu.Unlock()

	return fmt.Sprintf("pat-%s-%03d", now.Format("20060102-150405"), n)
}

func (c *Collector) write(p *types.Pattern) error {
	day := p.Timestamp
	dir := filepath.Join(c.StorageRoot,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day()),
	)

	c.mu.Lock()
	mkErr := os.MkdirAll(dir, 0o755)
	c.mu.Unlock()
	if mkErr != nil {
		return errors.Wrap(errors.CodeStorageFailure, "create pattern directory", mkErr)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(errors.CodeStorageFailure, "marshal pattern", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", p.Type, p.PatternID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.CodeStorageFailure, "write pattern file", err)
	}

	metrics.PatternsWrittenTotal.WithLabelValues(string(p.Type)).Inc()
	return nil
}

func (c *Collector) collect(typ types.PatternType, data, context map[string]any) (string, error) {
	now := time.Now()
	id := c.nextPatternID(now)

	pattern := &types.Pattern{
		PatternID: id,
		Type:      typ,
		Timestamp: now,
		Data:      data,
		Context:   context,
	}

	if err := c.write(pattern); err != nil {
		log.WithComponent("patterns").Warn().
			Err(err).
			Str("pattern_id", id).
			Str("type", string(typ)).
			Msg("failed to persist pattern")
		return id, err
	}

	return id, nil
}

// CollectTaskCompletion records that an agent finished (or failed) a task.
func (c *Collector) CollectTaskCompletion(taskType, agent string, durationMs int64, success bool, context map[string]any) (string, error) {
	return c.collect(types.PatternTaskCompletion, map[string]any{
		"task_type":   taskType,
		"agent":       agent,
		"duration_ms": durationMs,
		"success":     success,
	}, context)
}

// CollectErrorOccurrence records a surfaced error and optional resolution.
func (c *Collector) CollectErrorOccurrence(errorType, errorMessage string, context map[string]any, resolution string) (string, error) {
	data := map[string]any{
		"error_type":    errorType,
		"error_message": errorMessage,
	}
	if resolution != "" {
		data["resolution"] = resolution
	}
	return c.collect(types.PatternErrorOccurrence, data, context)
}

// CollectAgentUsage records one dispatch of an agent type against a task type.
func (c *Collector) CollectAgentUsage(agentType, taskType string, success bool, durationMs int64) (string, error) {
	return c.collect(types.PatternAgentUsage, map[string]any{
		"agent_type":  agentType,
		"task_type":   taskType,
		"success":     success,
		"duration_ms": durationMs,
	}, nil)
}

// CollectUserCorrection records a human override of agent behavior.
func (c *Collector) CollectUserCorrection(agent, original, corrected string, context map[string]any) (string, error) {
	return c.collect(types.PatternUserCorrection, map[string]any{
		"agent":     agent,
		"original":  original,
		"corrected": corrected,
	}, context)
}

// GetStatistics walks StorageRoot and tallies pattern counts by type and day.
func (c *Collector) GetStatistics() (*Statistics, error) {
	stats := &Statistics{
		ByType: make(map[types.PatternType]int),
		ByDay:  make(map[string]int),
	}

	err := filepath.Walk(c.StorageRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		rel, relErr := filepath.Rel(c.StorageRoot, path)
		if relErr != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			return nil
		}
		day := strings.Join(parts[:3], "-")

		base := filepath.Base(path)
		typ := types.PatternType(strings.SplitN(base, "_", 2)[0])

		stats.TotalPatterns++
		stats.ByType[typ]++
		stats.ByDay[day]++
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeStorageFailure, "walk pattern storage", err)
	}

	return stats, nil
}

// Compact enforces the two-tier retention policy: pattern files older than
// RetentionDays/2 are gzipped in place (original removed, ".gz" sibling
// kept), and files of either shape older than RetentionDays are removed
// outright. Returns the count gzipped and the count removed.
func (c *Collector) Compact() (compacted, removed int, err error) {
	if c.RetentionDays <= 0 {
		return 0, 0, nil
	}
	now := time.Now()
	compactCutoff := now.AddDate(0, 0, -(c.RetentionDays / 2))
	deleteCutoff := now.AddDate(0, 0, -c.RetentionDays)

	walkErr := filepath.Walk(c.StorageRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		isGz := strings.HasSuffix(path, ".json.gz")
		if info.IsDir() || (!isGz && !strings.HasSuffix(path, ".json")) {
			return nil
		}

		if info.ModTime().Before(deleteCutoff) {
			if rmErr := os.Remove(path); rmErr != nil {
				log.WithComponent("patterns").Warn().Err(rmErr).Str("path", path).Msg("failed to remove expired pattern file")
				return nil
			}
			removed++
			metrics.PatternsCleanedTotal.Inc()
			return nil
		}

		if !isGz && info.ModTime().Before(compactCutoff) {
			if err := compactFile(path); err != nil {
				log.WithComponent("patterns").Warn().Err(err).Str("path", path).Msg("failed to compact pattern file")
				return nil
			}
			compacted++
			metrics.PatternsCleanedTotal.Inc()
		}
		return nil
	})
	if walkErr != nil {
		return compacted, removed, errors.Wrap(errors.CodeStorageFailure, "walk pattern storage for compaction", walkErr)
	}

	return compacted, removed, nil
}

// compactFile gzips path to path+".gz" and then removes the original.
func compactFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path + ".gz")
		return err
	}

	return os.Remove(path)
}
