// Package discovery merges server descriptors from the local catalog and
// remote registries. A failing source never aborts the others.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/JuanVilla424/mcpsetup/internal/catalog"
	"github.com/JuanVilla424/mcpsetup/internal/metrics"
)

// ErrFetchFailed wraps every per-source failure recorded in a Result.
var ErrFetchFailed = errors.New("discovery fetch failed")

type Mode int

const (
	// LocalOnly skips every network source.
	LocalOnly Mode = iota
	// RefreshAll runs every source.
	RefreshAll
)

func (m Mode) String() string {
	if m == LocalOnly {
		return "local-only"
	}
	return "refresh-all"
}

type FetchFunc func(ctx context.Context) ([]catalog.ServerDescriptor, error)

// Source is one catalog provider. Lower Priority is more authoritative.
type Source struct {
	Name     string
	Priority int
	Network  bool
	Fetch    FetchFunc
}

type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e SourceError) Unwrap() error { return e.Err }

type Result struct {
	Descriptors []catalog.ServerDescriptor
	Errors      []SourceError
	// Counts is the number of descriptors each source returned before dedup.
	Counts map[string]int
	// Skipped lists network sources not run in LocalOnly mode.
	Skipped []string
}

// Batch is one source's output, delivered before the merge.
type Batch struct {
	Source      string
	Priority    int
	Descriptors []catalog.ServerDescriptor
}

// BatchFunc receives each source's batch as soon as that source
// completes. Calls are serialized.
type BatchFunc func(b Batch)

type Aggregator struct {
	logger     hclog.Logger
	timeout    time.Duration
	concurrent bool
	limit      int
}

type Option func(*Aggregator)

func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.timeout = d }
}

func WithConcurrency(on bool, limit int) Option {
	return func(a *Aggregator) {
		a.concurrent = on
		a.limit = limit
	}
}

func New(logger hclog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	a := &Aggregator{
		logger:  logger.Named("discovery"),
		timeout: 8 * time.Second,
		limit:   4,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Aggregator) Aggregate(ctx context.Context, sources []Source, mode Mode) Result {
	return a.AggregateStream(ctx, sources, mode, nil)
}

// AggregateStream runs the sources selected by mode and merges their
// descriptors by id, keeping the one from the lowest priority value. Ties
// go to the source listed first. The merged result is the same whether the
// sources ran sequentially or concurrently.
func (a *Aggregator) AggregateStream(ctx context.Context, sources []Source, mode Mode, onBatch BatchFunc) Result {
	res := Result{Counts: make(map[string]int)}

	var active []int
	for i, s := range sources {
		if mode == LocalOnly && s.Network {
			res.Skipped = append(res.Skipped, s.Name)
			continue
		}
		active = append(active, i)
	}

	outputs := make([][]catalog.ServerDescriptor, len(sources))
	errs := make([]error, len(sources))
	var batchMu sync.Mutex

	run := func(i int) {
		s := sources[i]
		descs, err := a.fetch(ctx, s)
		outputs[i] = descs
		errs[i] = err
		if onBatch != nil && err == nil && len(descs) > 0 {
			batchMu.Lock()
			onBatch(Batch{Source: s.Name, Priority: s.Priority, Descriptors: descs})
			batchMu.Unlock()
		}
	}

	if a.concurrent && len(active) > 1 {
		var g errgroup.Group
		if a.limit > 0 {
			g.SetLimit(a.limit)
		}
		for _, i := range active {
			i := i
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		g.Wait()
	} else {
		for _, i := range active {
			run(i)
		}
	}

	for _, i := range active {
		if errs[i] != nil {
			res.Errors = append(res.Errors, SourceError{Source: sources[i].Name, Err: errs[i]})
		}
		res.Counts[sources[i].Name] = len(outputs[i])
	}
	res.Descriptors = merge(sources, active, outputs)
	a.logger.Debug("aggregate finished", "mode", mode.String(), "servers", len(res.Descriptors), "errors", len(res.Errors))
	return res
}

func (a *Aggregator) fetch(ctx context.Context, s Source) (descs []catalog.ServerDescriptor, err error) {
	start := time.Now()
	defer func() {
		metrics.DiscoveryDuration.WithLabelValues(s.Name).Observe(time.Since(start).Seconds())
		metrics.DiscoveryFetches.WithLabelValues(s.Name, metrics.Result(err)).Inc()
	}()
	defer func() {
		if r := recover(); r != nil {
			descs = nil
			err = fmt.Errorf("%w: %s panicked: %v", ErrFetchFailed, s.Name, r)
			a.logger.Error("source panicked", "source", s.Name, "panic", r)
		}
	}()

	fctx := ctx
	if s.Network && a.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	descs, err = s.Fetch(fctx)
	if err == nil && fctx.Err() != nil {
		err = fctx.Err()
	}
	if err != nil {
		a.logger.Warn("source failed", "source", s.Name, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	for i := range descs {
		if descs[i].Source == "" {
			descs[i].Source = s.Name
		}
	}
	a.logger.Debug("source fetched", "source", s.Name, "count", len(descs), "took", time.Since(start).String())
	return descs, nil
}

// merge walks sources by ascending priority (stable on input order) and
// keeps the first descriptor seen for each id.
func merge(sources []Source, active []int, outputs [][]catalog.ServerDescriptor) []catalog.ServerDescriptor {
	order := append([]int(nil), active...)
	sort.SliceStable(order, func(x, y int) bool {
		return sources[order[x]].Priority < sources[order[y]].Priority
	})

	seen := make(map[string]bool)
	var out []catalog.ServerDescriptor
	for _, i := range order {
		for _, d := range outputs[i] {
			if d.ID == "" || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	return out
}
