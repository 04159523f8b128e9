// Package catalog is the read-only Catalog Reader: it answers
// "which sublines and stops belong to this main route" and
// "which main route owns this subline", backed by Postgres via
// jackc/pgx's database/sql driver (grounded on
// ponytojas-gtfs-simulator-go/internal/db, the pack's only user of
// pgx) with query building via Masterminds/squirrel and a Redis TTL
// front via eko/gocache, both named in Travigo-travigo/go.mod though
// Travigo itself talks to Mongo; this reader repurposes those two
// deps for the relational shape this catalog needs instead.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redis_store "github.com/eko/gocache/store/redis/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/travigo/transitcore/internal/geo"
	"github.com/travigo/transitcore/internal/xferrors"
)

// Stop is one immutable stop along a subline's drive path.
type Stop struct {
	ID       string
	Code     string
	Name     string
	Ref      string
	Position geo.Coordinate
}

// Subline is an ordered directional variant of a main route.
type Subline struct {
	ID          int64
	MainRouteID int64
	Stops       []Stop
}

// QueryTimeout is the bounded deadline for a single storage lookup.
const QueryTimeout = 2 * time.Second

// Reader is the Catalog Reader. It is safe for concurrent use.
type Reader struct {
	db    *sql.DB
	cache *cache.Cache[[]byte]
	ttl   time.Duration
}

// Open connects to Postgres at dsn and, if redisAddr is non-empty,
// fronts subline lookups with a Redis cache with the given TTL.
func Open(dsn, redisAddr string, ttl time.Duration) (*Reader, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	r := &Reader{db: db, ttl: ttl}

	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		redisStore := redis_store.NewRedis(rdb, store.WithExpiration(ttl))
		r.cache = cache.New[[]byte](redisStore)
	}

	return r, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func sublinesCacheKey(mainRouteID int64) string {
	return fmt.Sprintf("catalog:sublines:%d", mainRouteID)
}

func mainRouteCacheKey(sublineID int64) string {
	return fmt.Sprintf("catalog:owning-route:%d", sublineID)
}

// SublinesOfRoute returns every subline of mainRouteID keyed by
// subline id, with stops in drive-path order. Returns the empty map
// when the route has no sublines. On persistent storage failure it
// returns xferrors.StorageError.
func (r *Reader) SublinesOfRoute(ctx context.Context, mainRouteID int64) (map[int64]Subline, error) {
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, sublinesCacheKey(mainRouteID)); err == nil {
			var cached map[int64]Subline
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return cached, nil
			}
		}
	}

	result, err := r.querySublines(ctx, mainRouteID)
	if err != nil {
		return nil, xferrors.Wrapf(xferrors.StorageError, "sublines_of_route(%d): %v", mainRouteID, err)
	}

	if r.cache != nil {
		if raw, jsonErr := json.Marshal(result); jsonErr == nil {
			_ = r.cache.Set(ctx, sublinesCacheKey(mainRouteID), raw, store.WithExpiration(r.ttl))
		}
	}

	return result, nil
}

func (r *Reader) querySublines(ctx context.Context, mainRouteID int64) (map[int64]Subline, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	q, args, err := sq.
		Select("s.id", "ss.stop_order", "st.id", "st.code", "st.name", "st.ref", "st.lat", "st.lng").
		From("sublines s").
		Join("subline_stops ss ON ss.subline_id = s.id").
		Join("stops st ON st.id = ss.stop_id").
		Where(sq.Eq{"s.main_route_id": mainRouteID}).
		OrderBy("s.id", "ss.stop_order").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	var rows *sql.Rows
	op := func() error {
		var qerr error
		rows, qerr = r.db.QueryContext(ctx, q, args...)
		return qerr
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]Subline)
	for rows.Next() {
		var sublineID int64
		var order int
		var stop Stop
		if err := rows.Scan(&sublineID, &order, &stop.ID, &stop.Code, &stop.Name, &stop.Ref,
			&stop.Position.Lat, &stop.Position.Lng); err != nil {
			return nil, err
		}
		sub, ok := result[sublineID]
		if !ok {
			sub = Subline{ID: sublineID, MainRouteID: mainRouteID}
		}
		sub.Stops = append(sub.Stops, stop)
		result[sublineID] = sub
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// OwningRouteOf resolves a subline id to its main route id, used by
// the Broadcaster to route messages. Results are cached the same way
// as SublinesOfRoute.
func (r *Reader) OwningRouteOf(ctx context.Context, sublineID int64) (int64, error) {
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, mainRouteCacheKey(sublineID)); err == nil {
			var routeID int64
			if jsonErr := json.Unmarshal(raw, &routeID); jsonErr == nil {
				return routeID, nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	q, args, err := sq.
		Select("main_route_id").
		From("sublines").
		Where(sq.Eq{"id": sublineID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, xferrors.Wrap(xferrors.StorageError, err.Error())
	}

	var routeID int64
	op := func() error {
		err := r.db.QueryRowContext(ctx, q, args...).Scan(&routeID)
		if err == sql.ErrNoRows {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		if err == sql.ErrNoRows {
			return 0, xferrors.Wrap(xferrors.UnknownSubline, fmt.Sprintf("subline %d has no owning route", sublineID))
		}
		return 0, xferrors.Wrapf(xferrors.StorageError, "owning_route_of(%d): %v", sublineID, err)
	}

	if r.cache != nil {
		if raw, jsonErr := json.Marshal(routeID); jsonErr == nil {
			_ = r.cache.Set(ctx, mainRouteCacheKey(sublineID), raw, store.WithExpiration(r.ttl))
		}
	}

	return routeID, nil
}

// SublinesByID fetches the ordered stop lists for an explicit set of
// subline ids, used by the departures-for-station query once it has
// resolved which sublines serve a station.
func (r *Reader) SublinesByID(ctx context.Context, ids []int64) (map[int64]Subline, error) {
	if len(ids) == 0 {
		return map[int64]Subline{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	anyIDs := make([]any, len(ids))
	for i, id := range ids {
		anyIDs[i] = id
	}

	q, args, err := sq.
		Select("s.id", "s.main_route_id", "ss.stop_order", "st.id", "st.code", "st.name", "st.ref", "st.lat", "st.lng").
		From("sublines s").
		Join("subline_stops ss ON ss.subline_id = s.id").
		Join("stops st ON st.id = ss.stop_id").
		Where(sq.Eq{"s.id": anyIDs}).
		OrderBy("s.id", "ss.stop_order").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, xferrors.Wrap(xferrors.StorageError, err.Error())
	}

	var rows *sql.Rows
	op := func() error {
		var qerr error
		rows, qerr = r.db.QueryContext(ctx, q, args...)
		return qerr
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return nil, xferrors.Wrapf(xferrors.StorageError, "sublines_by_id: %v", err)
	}
	defer rows.Close()

	result := make(map[int64]Subline)
	for rows.Next() {
		var sublineID, mainRouteID int64
		var order int
		var stop Stop
		if err := rows.Scan(&sublineID, &mainRouteID, &order, &stop.ID, &stop.Code, &stop.Name, &stop.Ref,
			&stop.Position.Lat, &stop.Position.Lng); err != nil {
			return nil, xferrors.Wrap(xferrors.StorageError, err.Error())
		}
		sub, ok := result[sublineID]
		if !ok {
			sub = Subline{ID: sublineID, MainRouteID: mainRouteID}
		}
		sub.Stops = append(sub.Stops, stop)
		result[sublineID] = sub
	}
	if err := rows.Err(); err != nil {
		return nil, xferrors.Wrap(xferrors.StorageError, err.Error())
	}
	return result, nil
}

// SublinesServingStation returns every subline id that includes
// stationID anywhere in its stop sequence, used by the
// departures-for-station query.
func (r *Reader) SublinesServingStation(ctx context.Context, stationID string) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	q, args, err := sq.
		Select("DISTINCT ss.subline_id").
		From("subline_stops ss").
		Where(sq.Eq{"ss.stop_id": stationID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, xferrors.Wrap(xferrors.StorageError, err.Error())
	}

	var rows *sql.Rows
	op := func() error {
		var qerr error
		rows, qerr = r.db.QueryContext(ctx, q, args...)
		return qerr
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return nil, xferrors.Wrapf(xferrors.StorageError, "sublines_serving_station(%s): %v", stationID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, xferrors.Wrap(xferrors.StorageError, err.Error())
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, xferrors.Wrap(xferrors.StorageError, err.Error())
	}

	return ids, nil
}
