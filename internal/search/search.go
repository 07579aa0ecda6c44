// Package search implements the Search Engine (C4): cache-first
// route/date lookup with live availability filtering, sorting, and a
// result cap (spec.md §4.4). Grounded on the teacher's singleflight-backed
// FlightService.GetFlights caching pattern, generalized from a single
// flat flight cache to journey-shaped cache entries plus a per-journey
// availability recomputation pass.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"flightcore/internal/apperr"
	"flightcore/internal/cache"
	"flightcore/internal/domain"
	"flightcore/internal/journeystore"
	"flightcore/internal/registry"
)

// Request is the input to Search (spec.md §4.4).
type Request struct {
	Source     string
	Dest       string
	Date       domain.Date
	Passengers int
	SortBy     string // "", "price", "duration"
	Limit      int    // 0 means unlimited
}

// JourneyResult is one entry of a SearchResult, a journey annotated with
// live availability.
type JourneyResult struct {
	Journey        domain.Journey
	AvailableSeats int
}

// Result is the SearchResult from spec.md §4.4.
type Result struct {
	Journeys     []JourneyResult
	TotalMatched int
}

// Engine is the C4 contract.
type Engine interface {
	Search(ctx context.Context, req Request) (Result, error)
}

// DefaultSortAllowed is the sort-allowed set (spec.md §6) used when the
// caller does not supply a configured one.
var DefaultSortAllowed = map[string]bool{"": true, "price": true, "duration": true}

type engine struct {
	store       journeyReader
	reg         registry.Registry
	cache       *cache.Client
	ttl         time.Duration
	sortAllowed map[string]bool
	sf          singleflight.Group
	log         zerolog.Logger
}

type journeyReader interface {
	ListJourneysByRouteAndDate(ctx context.Context, src, dst string, date domain.Date) ([]domain.Journey, error)
}

// New returns a cache-first Engine. ttl is the cache lifetime (spec.md
// §3's SEARCH_CACHE_TTL). sortAllowed is the configured sort-allowed set
// (spec.md §6's SORT_ALLOWED); a nil or empty map falls back to
// DefaultSortAllowed.
func New(store journeystore.Store, reg registry.Registry, c *cache.Client, ttl time.Duration, sortAllowed map[string]bool, log zerolog.Logger) Engine {
	if len(sortAllowed) == 0 {
		sortAllowed = DefaultSortAllowed
	}
	return &engine{store: store, reg: reg, cache: c, ttl: ttl, sortAllowed: sortAllowed, log: log}
}

// cachedJourney is the JSON shape stored under the search cache key: enough
// of domain.Journey to reconstruct it without a second store round-trip
// (flight ids, legs, prices) alongside the derived fields used to sort and
// display results.
type cachedJourney struct {
	ID   string      `json:"id"`
	Legs []cachedLeg `json:"legs"`
}

type cachedLeg struct {
	Order    int    `json:"order"`
	FlightID string `json:"flightId"`
	Source   string `json:"source"`
	Dest     string `json:"dest"`
	Dep      string `json:"dep"`
	Arr      string `json:"arr"`
	Price    string `json:"price"`
}

func (e *engine) Search(ctx context.Context, req Request) (Result, error) {
	const op = "search.Search"

	sortAllowed := e.sortAllowed
	if len(sortAllowed) == 0 {
		sortAllowed = DefaultSortAllowed
	}
	if req.SortBy != "" && !sortAllowed[req.SortBy] {
		return Result{}, apperr.New(op, apperr.InvalidInput, fmt.Errorf("unsupported sortBy %q", req.SortBy))
	}
	if req.Passengers < 1 {
		return Result{}, apperr.New(op, apperr.InvalidInput, fmt.Errorf("passengers must be >= 1"))
	}

	journeys, err := e.loadJourneys(ctx, req.Source, req.Dest, req.Date)
	if err != nil {
		return Result{}, err
	}

	results := make([]JourneyResult, 0, len(journeys))
	for _, j := range journeys {
		avail, err := e.availability(ctx, j)
		if err != nil {
			return Result{}, err
		}
		if avail < req.Passengers {
			continue
		}
		results = append(results, JourneyResult{Journey: j, AvailableSeats: avail})
	}

	switch req.SortBy {
	case "price":
		sort.SliceStable(results, func(i, k int) bool {
			return results[i].Journey.TotalPrice().LessThan(results[k].Journey.TotalPrice())
		})
	case "duration":
		sort.SliceStable(results, func(i, k int) bool {
			return results[i].Journey.Duration() < results[k].Journey.Duration()
		})
	}

	total := len(results)
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}

	return Result{Journeys: results, TotalMatched: total}, nil
}

// loadJourneys reads the cache, falling back to the store on miss or
// decode failure; a singleflight group collapses concurrent misses for
// the same key into one store read (grounded on the teacher's
// singleflight.Group usage in FlightService).
func (e *engine) loadJourneys(ctx context.Context, src, dst string, date domain.Date) ([]domain.Journey, error) {
	const op = "search.loadJourneys"
	key := cache.SearchCacheKey(src, dst, date.String())

	if e.cache != nil {
		var cached []cachedJourney
		err := e.cache.GetJSON(ctx, key, &cached)
		switch {
		case err == nil:
			js, decodeErr := decodeCached(cached)
			if decodeErr == nil {
				return js, nil
			}
			e.log.Warn().Err(decodeErr).Str("key", key).Msg("malformed cache entry, falling back to store")
		case errors.Is(err, redis.Nil):
			// Cache miss: fall through to the store read below.
		default:
			e.log.Warn().Err(err).Str("key", key).Msg("search cache unavailable, degrading to store read")
		}
	}

	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		js, err := e.store.ListJourneysByRouteAndDate(ctx, src, dst, date)
		if err != nil {
			return nil, err
		}
		if e.cache != nil && e.ttl > 0 {
			if err := e.cache.SetJSON(ctx, key, encodeCached(js), e.ttl); err != nil {
				e.log.Warn().Err(err).Str("key", key).Msg("search cache write failed, ignoring")
			}
		}
		return js, nil
	})
	if err != nil {
		return nil, apperr.Wrap(op, apperr.StoreUnavailable, err)
	}
	return v.([]domain.Journey), nil
}

// availability is the per-journey minimum of CountAvailableSeats across
// legs, computed from durable state only (spec.md §4.4).
func (e *engine) availability(ctx context.Context, j domain.Journey) (int, error) {
	const op = "search.availability"
	min := -1
	for _, l := range j.Legs {
		n, err := e.reg.CountAvailableSeats(ctx, l.FlightID)
		if err != nil {
			return 0, apperr.Wrap(op, apperr.StoreUnavailable, err)
		}
		if min == -1 || n < min {
			min = n
		}
	}
	if min == -1 {
		return 0, nil
	}
	return min, nil
}

func encodeCached(js []domain.Journey) []cachedJourney {
	out := make([]cachedJourney, len(js))
	for i, j := range js {
		legs := make([]cachedLeg, len(j.Legs))
		for k, l := range j.Legs {
			legs[k] = cachedLeg{
				Order:    l.Order,
				FlightID: l.FlightID.String(),
				Source:   l.Source,
				Dest:     l.Dest,
				Dep:      l.Dep.Format(timeLayout),
				Arr:      l.Arr.Format(timeLayout),
				Price:    l.Price.String(),
			}
		}
		out[i] = cachedJourney{ID: j.ID.String(), Legs: legs}
	}
	return out
}

func decodeCached(cached []cachedJourney) ([]domain.Journey, error) {
	out := make([]domain.Journey, len(cached))
	for i, c := range cached {
		id, err := uuid.Parse(c.ID)
		if err != nil {
			return nil, err
		}
		legs := make([]domain.Leg, len(c.Legs))
		for k, l := range c.Legs {
			fid, err := uuid.Parse(l.FlightID)
			if err != nil {
				return nil, err
			}
			dep, err := parseTime(l.Dep)
			if err != nil {
				return nil, err
			}
			arr, err := parseTime(l.Arr)
			if err != nil {
				return nil, err
			}
			price, err := decimal.NewFromString(l.Price)
			if err != nil {
				return nil, err
			}
			legs[k] = domain.Leg{Order: l.Order, FlightID: fid, Source: l.Source, Dest: l.Dest, Dep: dep, Arr: arr, Price: price}
		}
		out[i] = domain.Journey{ID: id, Legs: legs, Status: domain.JourneyActive}
	}
	return out, nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
