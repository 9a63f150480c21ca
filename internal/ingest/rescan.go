package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/esg-compliance/constants"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

type RescanStats struct {
	Scanned    uint32
	Matched    uint32
	Dispatched uint32
	Completed  uint32 // reports skipped because the run already finished
	Failed     uint32
}

type RescanResult struct {
	Key  string
	Kind Kind
	Err  string
}

// Rescan walks every object below prefix and dispatches the ones that would
// have triggered an event. Reports whose run already wrote its completion
// marker are skipped unless force is set.
func (d *Dispatcher) Rescan(ctx context.Context, prefix string, force bool) ([]RescanResult, RescanStats, error) {
	keys, err := d.store.List(ctx, prefix)
	if err != nil {
		return nil, RescanStats{}, fmt.Errorf("list %q: %w", prefix, err)
	}

	var (
		results []RescanResult
		stats   RescanStats
	)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return results, stats, err
		}
		stats.Scanned++
		kind, runID := Classify(key)
		if kind == KindIgnored {
			continue
		}
		stats.Matched++

		if kind == KindReport && !force {
			done, err := d.completed(ctx, runID)
			if err != nil {
				results = append(results, RescanResult{Key: key, Kind: kind, Err: err.Error()})
				stats.Failed++
				continue
			}
			if done {
				stats.Completed++
				continue
			}
		}

		if _, err := d.Dispatch(ctx, Event{Key: key}, force); err != nil {
			results = append(results, RescanResult{Key: key, Kind: kind, Err: err.Error()})
			stats.Failed++
			continue
		}
		results = append(results, RescanResult{Key: key, Kind: kind})
		stats.Dispatched++
	}
	d.log.Info("ingest.rescan.ok",
		"prefix", prefix,
		"scanned", stats.Scanned,
		"dispatched", stats.Dispatched,
		"completed", stats.Completed,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

func (d *Dispatcher) completed(ctx context.Context, runID string) (bool, error) {
	key := storage.Keys{RunID: runID}.Status()
	ok, err := d.store.Exists(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	body, err := d.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(body)) == constants.StatusCompleted, nil
}
