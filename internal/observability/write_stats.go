// Package observability tracks write statistics for the engine and the stats endpoint.
package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// WriteStats counts engine outcomes overall and per table.
type WriteStats struct {
	mu     sync.RWMutex
	totals Counters
	tables map[string]*TableStats
	now    func() time.Time
}

// Counters holds one set of write outcome counts.
type Counters struct {
	Inserts       int64 `json:"inserts"`
	Updates       int64 `json:"updates"`
	UpdateMisses  int64 `json:"update_misses"`
	Duplicates    int64 `json:"duplicates"`
	Failures      int64 `json:"failures"`
	TablesEnsured int64 `json:"tables_ensured"`
	ColumnsAdded  int64 `json:"columns_added"`
}

// Writes is the number of successful data writes.
func (c Counters) Writes() int64 {
	return c.Inserts + c.Updates
}

// TableStats holds the counters for one table.
type TableStats struct {
	Table     string    `json:"table"`
	LastWrite time.Time `json:"last_write,omitempty"`
	Counters
}

// Snapshot is a point-in-time copy of WriteStats.
type Snapshot struct {
	Totals Counters              `json:"totals"`
	Tables map[string]TableStats `json:"tables"`
}

// NewWriteStats creates an empty tracker.
func NewWriteStats() *WriteStats {
	return &WriteStats{
		tables: make(map[string]*TableStats),
		now:    time.Now,
	}
}

// RecordInsert records a successful insert into table.
func (w *WriteStats) RecordInsert(table string) {
	w.record(table, true, func(c *Counters) { c.Inserts++ })
}

// RecordUpdate records an update that changed at least one row.
func (w *WriteStats) RecordUpdate(table string) {
	w.record(table, true, func(c *Counters) { c.Updates++ })
}

// RecordUpdateMiss records an update whose key matched no row.
func (w *WriteStats) RecordUpdateMiss(table string) {
	w.record(table, false, func(c *Counters) { c.UpdateMisses++ })
}

// RecordDuplicate records an insert rejected for an existing key.
func (w *WriteStats) RecordDuplicate(table string) {
	w.record(table, false, func(c *Counters) { c.Duplicates++ })
}

// RecordFailure records any other failed write. Entries with an empty table
// name only count towards the totals.
func (w *WriteStats) RecordFailure(table string) {
	w.record(table, false, func(c *Counters) { c.Failures++ })
}

// RecordTableEnsured records a guarded create-table statement.
func (w *WriteStats) RecordTableEnsured(table string) {
	w.record(table, false, func(c *Counters) { c.TablesEnsured++ })
}

// RecordColumnsAdded records n columns passed to a guarded add-columns statement.
func (w *WriteStats) RecordColumnsAdded(table string, n int) {
	w.record(table, false, func(c *Counters) { c.ColumnsAdded += int64(n) })
}

func (w *WriteStats) record(table string, write bool, apply func(*Counters)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	apply(&w.totals)
	if table == "" {
		return
	}
	ts, ok := w.tables[table]
	if !ok {
		ts = &TableStats{Table: table}
		w.tables[table] = ts
	}
	apply(&ts.Counters)
	if write {
		ts.LastWrite = w.now()
	}
}

// Totals returns the overall counters.
func (w *WriteStats) Totals() Counters {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.totals
}

// Table returns the counters for one table.
func (w *WriteStats) Table(table string) (TableStats, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ts, ok := w.tables[table]
	if !ok {
		return TableStats{}, false
	}
	return *ts, true
}

// Snapshot returns a copy of every counter.
func (w *WriteStats) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := Snapshot{
		Totals: w.totals,
		Tables: make(map[string]TableStats, len(w.tables)),
	}
	for name, ts := range w.tables {
		snap.Tables[name] = *ts
	}
	return snap
}

// TopTables returns up to n tables ordered by successful writes, descending.
// Ties are broken by name.
func (w *WriteStats) TopTables(n int) []TableStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if n <= 0 || len(w.tables) == 0 {
		return []TableStats{}
	}

	stats := make([]TableStats, 0, len(w.tables))
	for _, ts := range w.tables {
		stats = append(stats, *ts)
	}
	sort.Slice(stats, func(i, j int) bool {
		wi, wj := stats[i].Writes(), stats[j].Writes()
		if wi != wj {
			return wi > wj
		}
		return stats[i].Table < stats[j].Table
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune drops tables with no successful write within window. Totals are kept.
func (w *WriteStats) Prune(window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	threshold := w.now().Add(-window)
	pruned := 0
	for name, ts := range w.tables {
		if ts.LastWrite.Before(threshold) {
			delete(w.tables, name)
			pruned++
		}
	}
	return pruned
}

// RunPruner calls Prune(window) every interval until ctx is done. A
// non-positive window disables pruning.
func (w *WriteStats) RunPruner(ctx context.Context, window, interval time.Duration) {
	if window <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Prune(window)
		}
	}
}
