// Package advisory publishes the optional cross-instance observability
// heartbeat over Redis pub/sub. No room state is ever derived from
// anything received on this channel; it exists purely so an external
// dashboard or another instance can watch room health without scraping
// Prometheus per-room.
package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nexusroom/server/internal/monitor"
	"github.com/nexusroom/server/internal/room"
)

// Snapshot is the wire shape of one heartbeat message.
type Snapshot struct {
	RoomID          string  `json:"room_id"`
	TickNumber      int64   `json:"tick_number"`
	TickMsP50       float64 `json:"tick_ms_p50"`
	TickMsP99       float64 `json:"tick_ms_p99"`
	PlayerCount     int     `json:"player_count"`
	EnemyCount      int     `json:"enemy_count"`
	ProjectileCount int     `json:"projectile_count"`
}

// Publisher wraps a Redis client bound to one advisory channel.
type Publisher struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewPublisher(url, channel string, log *zap.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Publisher{client: redis.NewClient(opts), channel: channel, log: log}, nil
}

func (p *Publisher) Close() error { return p.client.Close() }

func (p *Publisher) publish(ctx context.Context, snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		p.log.Error("marshal heartbeat snapshot", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.log.Warn("publish heartbeat", zap.String("room", snap.RoomID), zap.Error(err))
	}
}

// RunHeartbeat periodically snapshots r's stats plus its recent tick
// timing distribution from mon and publishes them, until ctx is
// canceled.
func (p *Publisher) RunHeartbeat(ctx context.Context, r *room.Room, mon *monitor.Core, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stats := r.Stats()
			var p50, p99 float64
			if mon != nil {
				window := monitor.TimeRange{Start: now.Add(-interval)}
				samples := mon.GetMetrics(window, "tick_time_ms", map[string]string{"room": r.ID})
				p50, p99 = percentiles(samples)
			}
			p.publish(ctx, Snapshot{
				RoomID:          stats.RoomID,
				TickNumber:      stats.TickNumber,
				TickMsP50:       p50,
				TickMsP99:       p99,
				PlayerCount:     stats.Players,
				EnemyCount:      stats.Enemies,
				ProjectileCount: stats.Projectiles,
			})
		}
	}
}

func percentiles(samples []monitor.Metric) (p50, p99 float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	sort.Float64s(values)
	return pick(values, 0.50), pick(values, 0.99)
}

func pick(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
