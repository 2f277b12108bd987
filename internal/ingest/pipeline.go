package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/michiel-rondelez/challenge-azure/internal/db"
	"github.com/michiel-rondelez/challenge-azure/internal/irail"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
)

// Fetcher returns the liveboard of one station.
type Fetcher interface {
	FetchLiveboard(ctx context.Context, station string) (*irail.Liveboard, error)
}

// Tx is the batch transaction the coordinator writes through.
type Tx interface {
	ResolveStation(ctx context.Context, name, standardName string) (db.Station, error)
	UpsertDepartures(ctx context.Context, deps []db.Departure) (db.UpsertCounts, error)
	Commit() error
	Rollback() error
}

// Store supplies stations and batch transactions.
type Store interface {
	BeginBatch(ctx context.Context) (Tx, error)
	GetAllStations(ctx context.Context) ([]db.Station, error)
}

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, res Result)
}

// NewStore adapts a *db.DB to Store.
func NewStore(database *db.DB) Store {
	return dbStore{database}
}

type dbStore struct {
	db *db.DB
}

func (s dbStore) BeginBatch(ctx context.Context) (Tx, error) {
	return s.db.BeginBatch(ctx)
}

func (s dbStore) GetAllStations(ctx context.Context) ([]db.Station, error) {
	return s.db.GetAllStations(ctx)
}

// Options configures a Pipeline.
type Options struct {
	Concurrency int
	Logger      *slog.Logger
	Notifier    Notifier
}

// Pipeline fetches liveboards concurrently and stores them in one
// transaction per run.
type Pipeline struct {
	store    Store
	fetcher  Fetcher
	limiter  *Limiter
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time
}

// New creates a pipeline.
func New(store Store, fetcher Fetcher, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:    store,
		fetcher:  fetcher,
		limiter:  NewLimiter(opts.Concurrency),
		logger:   logger,
		notifier: opts.Notifier,
		now:      time.Now,
	}
}

// RunBatch ingests the given stations. Station ids must already exist.
func (p *Pipeline) RunBatch(ctx context.Context, stations []db.Station) (res Result) {
	start := time.Now()
	res = newResult(p.now())
	logger := p.runLogger(res, "batch")
	defer p.complete(ctx, logger, &res, start)

	p.write(ctx, &res, logger, func(context.Context, Tx) ([]db.Station, error) {
		return stations, nil
	}, p.fetcher.FetchLiveboard)
	return res
}

// FetchAndStore ingests a single station. The liveboard is fetched before
// the transaction opens so a name the API rejects never reaches the station
// directory; an unknown name the API accepts is created under the standard
// name the liveboard reports.
func (p *Pipeline) FetchAndStore(ctx context.Context, station string) (res Result) {
	start := time.Now()
	res = newResult(p.now())
	logger := p.runLogger(res, "single")
	defer p.complete(ctx, logger, &res, start)

	board, err := p.fetch(ctx, station, p.fetcher.FetchLiveboard)
	if err != nil {
		res.Stations = []StationResult{{Station: station, Err: err}}
		res.Err = ctx.Err()
		logger.Warn("station fetch failed", slog.String("station", station), slog.String("error", err.Error()))
		return res
	}

	p.write(ctx, &res, logger, func(ctx context.Context, tx Tx) ([]db.Station, error) {
		s, err := tx.ResolveStation(ctx, station, board.StandardName())
		if err != nil {
			return nil, err
		}
		return []db.Station{s}, nil
	}, func(context.Context, string) (*irail.Liveboard, error) {
		return board, nil
	})
	return res
}

// RunAll ingests every station in the directory.
func (p *Pipeline) RunAll(ctx context.Context) Result {
	stations, err := p.store.GetAllStations(ctx)
	if err != nil {
		res := newResult(p.now())
		res.Err = &StorageError{Op: "list stations", Err: err}
		p.complete(ctx, p.runLogger(res, "all"), &res, time.Now())
		return res
	}
	return p.RunBatch(ctx, stations)
}

type fetchFunc func(ctx context.Context, station string) (*irail.Liveboard, error)

type fetchResult struct {
	index int
	board *irail.Liveboard
	err   error
}

func (p *Pipeline) runLogger(res Result, mode string) *slog.Logger {
	return p.logger.With(slog.String("run_id", res.RunID.String()), slog.String("mode", mode))
}

// complete settles the result, then logs and publishes it.
func (p *Pipeline) complete(ctx context.Context, logger *slog.Logger, res *Result, start time.Time) {
	res.finish(time.Since(start))
	p.report(logger, *res)
	p.notify(ctx, *res)
}

// fetch runs one upstream fetch inside a limiter slot.
func (p *Pipeline) fetch(ctx context.Context, station string, fetch fetchFunc) (*irail.Liveboard, error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.limiter.Release()
	return fetch(ctx, station)
}

// write runs one transaction: resolve the stations, fetch and write them,
// then commit. Anything short of a commit rolls the whole run back.
func (p *Pipeline) write(ctx context.Context, res *Result, logger *slog.Logger, resolve func(context.Context, Tx) ([]db.Station, error), fetch fetchFunc) {
	tx, err := p.store.BeginBatch(ctx)
	if err != nil {
		res.Err = &StorageError{Op: "begin", Err: err}
		return
	}
	committed := false
	defer func() {
		if !committed {
			logging.SafeRollbackWithLogging(tx, logger, "ingest batch")
		}
	}()

	stations, err := resolve(ctx, tx)
	if err != nil {
		res.Err = &StorageError{Op: "resolve station", Err: err}
		return
	}

	res.Stations = make([]StationResult, len(stations))
	for i, s := range stations {
		res.Stations[i] = StationResult{Station: s.Name, StationID: s.ID}
	}

	peak, err := p.process(ctx, tx, stations, res.Stations, logger, fetch)
	res.PeakConcurrency = peak
	if err != nil {
		res.Err = err
		return
	}

	// Nothing to keep when no station could be fetched.
	if len(stations) > 0 && len(res.FailedStations()) == len(stations) {
		return
	}

	if err := tx.Commit(); err != nil {
		res.Err = &StorageError{Op: "commit", Err: err}
		return
	}
	committed = true
}

// process fans fetches out to workers and applies their results on the
// calling goroutine, which alone touches tx. It returns the highest number
// of fetches this run had in flight at once.
func (p *Pipeline) process(ctx context.Context, tx Tx, stations []db.Station, out []StationResult, logger *slog.Logger, fetch fetchFunc) (int, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var inFlight gauge
	results := make(chan fetchResult, len(stations))
	var wg sync.WaitGroup
	for i, s := range stations {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			fr := fetchResult{index: i}
			fr.board, fr.err = p.fetch(fetchCtx, name, func(ctx context.Context, station string) (*irail.Liveboard, error) {
				inFlight.enter()
				defer inFlight.leave()
				return fetch(ctx, station)
			})
			results <- fr
		}(i, s.QueryName())
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var runErr error
	for fr := range results {
		if runErr != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			cancel()
			continue
		}

		sr := &out[fr.index]
		if fr.err != nil {
			sr.Err = fr.err
			logger.Warn("station fetch failed", slog.String("station", sr.Station), slog.String("error", fr.err.Error()))
			continue
		}

		fetchedAt := p.now()
		deps := make([]db.Departure, 0, len(fr.board.Departures))
		for _, raw := range fr.board.Departures {
			d, err := Normalize(raw, sr.StationID, fetchedAt)
			if err != nil {
				sr.Skipped++
				logger.Warn("skipping departure record", slog.String("station", sr.Station), slog.String("error", err.Error()))
				continue
			}
			deps = append(deps, d)
		}
		sr.Fetched = len(fr.board.Departures)

		counts, err := tx.UpsertDepartures(ctx, deps)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				runErr = ctxErr
			} else {
				runErr = &StorageError{Op: fmt.Sprintf("upsert %s", sr.Station), Err: err}
			}
			cancel()
			continue
		}
		sr.Inserted += counts.Inserted
		sr.Updated += counts.Updated
		sr.Skipped += counts.Skipped
	}

	if runErr == nil {
		runErr = ctx.Err()
	}
	return inFlight.highest(), runErr
}

func (p *Pipeline) report(logger *slog.Logger, res Result) {
	attrs := []slog.Attr{
		slog.String("status", string(res.Status)),
		slog.Int("stations", len(res.Stations)),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("skipped", res.Skipped),
		slog.Int("peak_concurrency", res.PeakConcurrency),
		slog.Int("concurrency_limit", p.limiter.Max()),
		slog.Duration("duration", time.Duration(res.DurationMS)*time.Millisecond),
	}
	if res.Err != nil {
		var se *StorageError
		if errors.As(res.Err, &se) {
			attrs = append(attrs, slog.String("op", se.Op))
		}
		logging.LogError(logger, "ingestion run rolled back", res.Err, attrs...)
		return
	}
	if failed := res.FailedStations(); len(failed) > 0 {
		attrs = append(attrs, slog.Any("failed_stations", failed))
	}
	logging.LogOperation(logger, "ingestion run completed", attrs...)
}

func (p *Pipeline) notify(ctx context.Context, res Result) {
	if p.notifier == nil {
		return
	}
	p.notifier.Notify(context.WithoutCancel(ctx), res)
}
