package observability

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestRecordConcurrent tests concurrent recording for race conditions.
func TestRecordConcurrent(t *testing.T) {
	ws := NewWriteStats()
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				ws.RecordInsert("events")
				ws.RecordUpdate("users")
				ws.RecordDuplicate("events")
			}
		}()
	}
	wg.Wait()

	want := int64(numGoroutines * recordsPerGoroutine)
	totals := ws.Totals()
	if totals.Inserts != want || totals.Updates != want || totals.Duplicates != want {
		t.Errorf("totals = %+v, want %d of each", totals, want)
	}
	events, ok := ws.Table("events")
	if !ok || events.Inserts != want || events.Duplicates != want || events.Updates != 0 {
		t.Errorf("events = %+v", events)
	}
}

func TestTopTablesOrdering(t *testing.T) {
	ws := NewWriteStats()
	for i := 0; i < 10; i++ {
		ws.RecordInsert("users")
	}
	for i := 0; i < 5; i++ {
		ws.RecordUpdate("orders")
	}
	for i := 0; i < 20; i++ {
		ws.RecordInsert("events")
	}
	ws.RecordFailure("broken")

	top := ws.TopTables(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 tables, got %d", len(top))
	}
	want := []struct {
		table  string
		writes int64
	}{{"events", 20}, {"users", 10}, {"orders", 5}}
	for i, w := range want {
		if top[i].Table != w.table || top[i].Writes() != w.writes {
			t.Errorf("top[%d] = %s/%d, want %s/%d", i, top[i].Table, top[i].Writes(), w.table, w.writes)
		}
	}

	if got := ws.TopTables(100); len(got) != 4 {
		t.Errorf("TopTables(100) returned %d tables, want 4", len(got))
	}
	if got := ws.TopTables(0); len(got) != 0 {
		t.Errorf("TopTables(0) returned %d tables", len(got))
	}
}

func TestSchemaCounters(t *testing.T) {
	ws := NewWriteStats()
	ws.RecordTableEnsured("events")
	ws.RecordColumnsAdded("events", 3)
	ws.RecordColumnsAdded("events", 2)
	ws.RecordUpdateMiss("events")

	ts, _ := ws.Table("events")
	if ts.TablesEnsured != 1 || ts.ColumnsAdded != 5 || ts.UpdateMisses != 1 {
		t.Errorf("events = %+v", ts)
	}
	if !ts.LastWrite.IsZero() {
		t.Error("schema changes and misses must not set LastWrite")
	}
}

func TestRecordFailureWithoutTable(t *testing.T) {
	ws := NewWriteStats()
	ws.RecordFailure("")

	if ws.Totals().Failures != 1 {
		t.Error("failure should count towards totals")
	}
	if len(ws.Snapshot().Tables) != 0 {
		t.Error("empty table name should not create a per-table entry")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	ws := NewWriteStats()
	ws.RecordInsert("events")

	snap := ws.Snapshot()
	ws.RecordInsert("events")

	if snap.Totals.Inserts != 1 || snap.Tables["events"].Inserts != 1 {
		t.Errorf("snapshot changed after later writes: %+v", snap)
	}
}

// TestPruneRemovesIdleTables tests that Prune drops tables idle longer than the window.
func TestPruneRemovesIdleTables(t *testing.T) {
	ws := NewWriteStats()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ws.now = func() time.Time { return now }

	ws.RecordInsert("old")
	now = now.Add(2 * time.Hour)
	ws.RecordInsert("fresh")

	if n := ws.Prune(time.Hour); n != 1 {
		t.Errorf("pruned %d tables, want 1", n)
	}
	if _, ok := ws.Table("old"); ok {
		t.Error("old should be pruned")
	}
	if _, ok := ws.Table("fresh"); !ok {
		t.Error("fresh should be kept")
	}
	if ws.Totals().Inserts != 2 {
		t.Error("totals must survive pruning")
	}
}

// TestRunPrunerDropsIdleTables tests that the background pruner removes idle
// tables until its context is cancelled.
func TestRunPrunerDropsIdleTables(t *testing.T) {
	ws := NewWriteStats()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ws.now = func() time.Time { return now }
	ws.RecordInsert("old")
	ws.RecordFailure("never_written")
	now = now.Add(2 * time.Hour)
	ws.RecordInsert("fresh")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.RunPruner(ctx, time.Hour, 5*time.Millisecond)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(ws.Snapshot().Tables) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tables = %v, want only fresh", ws.Snapshot().Tables)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := ws.Table("fresh"); !ok {
		t.Error("fresh should be kept")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop after cancel")
	}
}

func TestRunPrunerDisabled(t *testing.T) {
	ws := NewWriteStats()
	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.RunPruner(context.Background(), 0, time.Millisecond)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner with zero window should return immediately")
	}
}
