// Package schema keeps AutoTable's in-memory view of the store's tables and
// reconciles it with the physical schema before data is written.
//
// The Catalog is an optimization: it lets the engine skip DDL it knows is
// redundant. The store stays the system of record, and the catalog never
// records a column before the store has confirmed it exists.
package schema

import (
	"context"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of catalog lock shards.
const DefaultShardCount = 16

// Catalog maps table names to descriptors. Names are spread over N lock
// shards by murmur3 hash so unrelated tables do not contend.
// Descriptors are added lazily and never removed.
type Catalog struct {
	shards     []*catalogShard
	shardCount uint32
}

type catalogShard struct {
	mu     sync.RWMutex
	tables map[string]*TableDescriptor
}

// NewCatalog creates an empty catalog with the given number of shards.
func NewCatalog(shardCount int) *Catalog {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	c := &Catalog{
		shards:     make([]*catalogShard, shardCount),
		shardCount: uint32(shardCount),
	}
	for i := range c.shards {
		c.shards[i] = &catalogShard{tables: make(map[string]*TableDescriptor)}
	}
	return c
}

func (c *Catalog) shardFor(table string) *catalogShard {
	h := murmur3.New32()
	h.Write([]byte(table))
	return c.shards[h.Sum32()%c.shardCount]
}

// Get returns the descriptor for table, if one exists.
func (c *Catalog) Get(table string) (*TableDescriptor, bool) {
	shard := c.shardFor(table)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	d, ok := shard.tables[table]
	return d, ok
}

// GetOrCreate returns the descriptor for table, inserting an empty one if
// absent. created reports whether this call inserted it. Concurrent callers
// for the same name always receive the same descriptor.
func (c *Catalog) GetOrCreate(table string) (d *TableDescriptor, created bool) {
	shard := c.shardFor(table)

	shard.mu.RLock()
	d, ok := shard.tables[table]
	shard.mu.RUnlock()
	if ok {
		return d, false
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if d, ok := shard.tables[table]; ok {
		return d, false
	}
	d = newTableDescriptor(table)
	shard.tables[table] = d
	return d, true
}

// RecordColumns adds columns to the known set of table. Recording an
// existing name is a no-op.
func (c *Catalog) RecordColumns(table string, columns ...string) {
	d, _ := c.GetOrCreate(table)
	d.record(columns)
}

// Len returns the number of known tables.
func (c *Catalog) Len() int {
	n := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		n += len(shard.tables)
		shard.mu.RUnlock()
	}
	return n
}

// Tables returns the known table names, sorted.
func (c *Catalog) Tables() []string {
	var names []string
	for _, shard := range c.shards {
		shard.mu.RLock()
		for name := range shard.tables {
			names = append(names, name)
		}
		shard.mu.RUnlock()
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every table's known columns.
func (c *Catalog) Snapshot() map[string][]string {
	out := make(map[string][]string)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for name, d := range shard.tables {
			out[name] = d.Columns()
		}
		shard.mu.RUnlock()
	}
	return out
}

// TableDescriptor is the cached knowledge of one physical table.
// Known columns are always a subset of the table's real columns; system
// columns are not tracked.
type TableDescriptor struct {
	name string

	mu      sync.RWMutex
	columns map[string]struct{}
	ready   bool // table confirmed to exist in the store

	// ddl serializes this process's DDL for the table. It is a one-slot
	// semaphore so waiters can give up when their context ends.
	ddl chan struct{}
}

func newTableDescriptor(name string) *TableDescriptor {
	return &TableDescriptor{
		name:    name,
		columns: make(map[string]struct{}),
		ddl:     make(chan struct{}, 1),
	}
}

// lockDDL acquires the table's DDL lock or returns ctx's error.
func (d *TableDescriptor) lockDDL(ctx context.Context) error {
	select {
	case d.ddl <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *TableDescriptor) unlockDDL() {
	<-d.ddl
}

// Name returns the table name.
func (d *TableDescriptor) Name() string {
	return d.name
}

// Ready reports whether the table is known to exist in the store.
func (d *TableDescriptor) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ready
}

// Has reports whether column is known.
func (d *TableDescriptor) Has(column string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.columns[column]
	return ok
}

// Columns returns the known columns, sorted.
func (d *TableDescriptor) Columns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cols := make([]string, 0, len(d.columns))
	for col := range d.columns {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// Missing returns the names not in the known set, preserving their order.
func (d *TableDescriptor) Missing(names []string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var missing []string
	for _, name := range names {
		if _, ok := d.columns[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func (d *TableDescriptor) record(columns []string) {
	if len(columns) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, col := range columns {
		d.columns[col] = struct{}{}
	}
}

func (d *TableDescriptor) markReady() {
	d.mu.Lock()
	d.ready = true
	d.mu.Unlock()
}
