package geo

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// LiveTrip is the last known position of an open trip.
type LiveTrip struct {
	TripID      int64    `json:"trip_id"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	DistanceM   float64  `json:"distance_m"`
	SpeedKmh    *float64 `json:"speed_kmh,omitempty"`
	SafetyScore *float64 `json:"safety_score,omitempty"`
}

// LiveIndex keeps open trips in a Redis GEO set plus a metadata hash per trip.
type LiveIndex struct {
	client *redis.Client
	key    string
}

func NewLiveIndex(client *redis.Client, key string) *LiveIndex {
	return &LiveIndex{client: client, key: key}
}

func (l *LiveIndex) Upsert(ctx context.Context, tripID int64, lat, lon float64) error {
	return l.client.GeoAdd(ctx, l.key, &redis.GeoLocation{Longitude: lon, Latitude: lat, Name: member(tripID)}).Err()
}

func (l *LiveIndex) SetMeta(ctx context.Context, tripID int64, values map[string]any) error {
	return l.client.HSet(ctx, metaKey(tripID), values).Err()
}

// Remove drops a trip from the index and deletes its metadata.
func (l *LiveIndex) Remove(ctx context.Context, tripID int64) error {
	pipe := l.client.TxPipeline()
	pipe.ZRem(ctx, l.key, member(tripID))
	pipe.Del(ctx, metaKey(tripID))
	_, err := pipe.Exec(ctx)
	return err
}

// Nearby returns open trips within radiusM meters, nearest first.
func (l *LiveIndex) Nearby(ctx context.Context, lat, lon, radiusM float64, limit int) ([]LiveTrip, error) {
	res, err := l.client.GeoSearchLocation(ctx, l.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusM,
			RadiusUnit: "m",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]LiveTrip, 0, len(res))
	for _, g := range res {
		id, err := strconv.ParseInt(g.Name, 10, 64)
		if err != nil {
			continue
		}
		lt := LiveTrip{TripID: id, Latitude: g.Latitude, Longitude: g.Longitude, DistanceM: g.Dist}
		// metadata is best effort
		if m, err := l.client.HGetAll(ctx, metaKey(id)).Result(); err == nil {
			lt.SpeedKmh = parseFloat(m["speed_kmh"])
			lt.SafetyScore = parseFloat(m["safety_score"])
		}
		out = append(out, lt)
	}
	return out, nil
}

func (l *LiveIndex) Ping(ctx context.Context) error { return l.client.Ping(ctx).Err() }

func member(tripID int64) string { return strconv.FormatInt(tripID, 10) }

func metaKey(tripID int64) string { return "trip:live:" + member(tripID) }

func parseFloat(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}
