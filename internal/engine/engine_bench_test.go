package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/autotable/autotable/internal/store/sqlite"
	"github.com/autotable/autotable/pkg/types"
)

func newBenchEngine(b *testing.B) *Engine {
	b.Helper()
	exec, err := sqlite.Open(sqlite.DefaultConfig(filepath.Join(b.TempDir(), "bench.db")))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { exec.Close() })
	return New(exec, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func benchEntry(table string, i int, fields int) types.Entry {
	e := types.NewEntry(table, fmt.Sprintf("k%09d", i))
	for f := 0; f < fields; f++ {
		e.Fields.Set(fmt.Sprintf("f%02d", f), fmt.Sprintf("v%d", i))
	}
	return e
}

// BenchmarkInsert_WarmSchema measures the write path once the table and
// columns are known, which is the steady state.
func BenchmarkInsert_WarmSchema(b *testing.B) {
	eng := newBenchEngine(b)
	ctx := context.Background()
	if err := eng.Insert(ctx, benchEntry("events", -1, 8)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if err := eng.Insert(ctx, benchEntry("events", i, 8)); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkInsert_NewColumnEachWrite measures the cost of guarded ALTERs.
func BenchmarkInsert_NewColumnEachWrite(b *testing.B) {
	eng := newBenchEngine(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := types.NewEntry("wide", fmt.Sprintf("k%d", i))
		e.Fields.Set(fmt.Sprintf("c%d", i), "x")
		if err := eng.Insert(ctx, e); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkInsert_Parallel measures concurrent writers sharing one catalog.
func BenchmarkInsert_Parallel(b *testing.B) {
	eng := newBenchEngine(b)
	ctx := context.Background()
	var seq atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			i := int(seq.Add(1))
			if err := eng.Insert(ctx, benchEntry(fmt.Sprintf("t%d", i%4), i, 4)); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
