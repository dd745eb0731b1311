package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/strata/internal/apierr"
	"github.com/dreamware/strata/internal/chunk"
	"github.com/dreamware/strata/internal/cluster"
	"github.com/dreamware/strata/internal/logging"
	"github.com/dreamware/strata/internal/record"
	"github.com/dreamware/strata/internal/storage"
)

// Query is one aggregate read over every shard.
type Query struct {
	Filters    []record.Filter `json:"filters"`
	Sort       *record.Sort    `json:"sort,omitempty"`
	PageSize   int             `json:"page_size"`
	PageNumber int             `json:"page_number"`
}

// AggregatorStats summarizes aggregate reads since start.
type AggregatorStats struct {
	Queries       uint64  `json:"queries"`
	ShardFetches  uint64  `json:"shard_fetches"`
	ShardFailures uint64  `json:"shard_failures"`
	FetchP50Ms    float64 `json:"fetch_p50_ms"`
	FetchP99Ms    float64 `json:"fetch_p99_ms"`
}

// Aggregator answers filter, sort and paginate queries across all shards.
//
// Each shard's filtered result is drained chunk by chunk in index order by
// one goroutine. Up to fanOut shards are read at once. A shard that cannot
// be reached or whose bytes do not decode contributes no records; a chunk
// ordering violation aborts the query.
type Aggregator struct {
	shards        func() []string
	client        ShardClient
	fanOut        int
	maxChunkBytes int

	queries  atomic.Uint64
	fetches  atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	latency *ddsketch.DDSketch
	log     *zerolog.Logger
}

// NewAggregator reads from the shards listed by shards through client.
func NewAggregator(shards func() []string, client ShardClient, fanOut, maxChunkBytes int) *Aggregator {
	if fanOut <= 0 {
		fanOut = 1
	}
	a := &Aggregator{
		shards:        shards,
		client:        client,
		fanOut:        fanOut,
		maxChunkBytes: maxChunkBytes,
		log:           logging.Component("aggregator"),
	}
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		a.latency = sketch
	}
	return a
}

// Aggregate runs q against every shard. Records are merged in shard
// order, sorted once after the merge and then paginated.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (record.Page[record.Entry], error) {
	if q.PageSize <= 0 {
		return record.Page[record.Entry]{}, apierr.New(apierr.KindValidation, "INVALID_PAGE_SIZE",
			"page_size must be positive", "", "aggregate")
	}
	if err := record.ValidateFilters(q.Filters); err != nil {
		return record.Page[record.Entry]{}, err
	}
	if q.Sort != nil {
		if err := q.Sort.Validate(); err != nil {
			return record.Page[record.Entry]{}, err
		}
	}
	a.queries.Add(1)

	addrs := a.shards()
	results := make([][]record.Entry, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fanOut)
	for i, addr := range addrs {
		g.Go(func() error {
			entries, err := a.fetch(gctx, addr, q.Filters)
			if err == nil {
				results[i] = entries
				return nil
			}
			if ctx.Err() != nil || isFatal(err) {
				return err
			}
			a.failures.Add(1)
			a.log.Warn().Err(err).Str("address", addr).Msg("shard contributes no records")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return record.Page[record.Entry]{}, err
	}

	var merged []record.Entry
	for _, entries := range results {
		merged = append(merged, entries...)
	}
	if q.Sort != nil {
		q.Sort.Apply(merged)
	}
	return record.Paginate(merged, q.PageSize, q.PageNumber), nil
}

// fetch drains one shard's filtered result and decodes it.
func (a *Aggregator) fetch(ctx context.Context, addr string, filters []record.Filter) ([]record.Entry, error) {
	start := time.Now()
	defer func() { a.observe(time.Since(start)) }()
	a.fetches.Add(1)

	var asm chunk.Assembler
	for !asm.Done() {
		fc, err := a.client.FilterChunk(ctx, addr, cluster.FilterRequest{
			Filters:       filters,
			ChunkIndex:    asm.Next(),
			MaxChunkBytes: a.maxChunkBytes,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "read chunk %d of %s", asm.Next(), addr)
		}
		if err := asm.AddRange(fc.Data, fc.Range()); err != nil {
			return nil, err
		}
	}
	return storage.DecodeEntries(asm.Bytes())
}

func (a *Aggregator) observe(d time.Duration) {
	if a.latency == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.latency.Add(float64(d) / float64(time.Millisecond))
}

// Stats returns counters and per-shard fetch latency quantiles.
func (a *Aggregator) Stats() AggregatorStats {
	st := AggregatorStats{
		Queries:       a.queries.Load(),
		ShardFetches:  a.fetches.Load(),
		ShardFailures: a.failures.Load(),
	}
	if a.latency == nil {
		return st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latency.GetCount() == 0 {
		return st
	}
	if v, err := a.latency.GetValueAtQuantile(0.5); err == nil {
		st.FetchP50Ms = v
	}
	if v, err := a.latency.GetValueAtQuantile(0.99); err == nil {
		st.FetchP99Ms = v
	}
	return st
}

func isFatal(err error) bool {
	var e *apierr.Error
	return errors.As(err, &e) && e.Fatal()
}
