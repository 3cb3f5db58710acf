package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromBridge mirrors a bounded set of room-level gauges/counters into
// Prometheus for the read-only REST surface. Only bounded-cardinality
// labels (room id) are used to avoid unbounded series growth.
type PromBridge struct {
	tickDuration   *prometheus.HistogramVec
	playerCount    *prometheus.GaugeVec
	enemyCount     *prometheus.GaugeVec
	projectileCnt  *prometheus.GaugeVec
	kills          *prometheus.CounterVec
	suspicionTotal *prometheus.CounterVec
}

func NewPromBridge(reg prometheus.Registerer) *PromBridge {
	factory := promauto.With(reg)
	return &PromBridge{
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexusroom_tick_duration_seconds",
			Help:    "Time spent running one room tick.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.016, 0.025, 0.05},
		}, []string{"room"}),
		playerCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexusroom_players",
			Help: "Current connected player count per room.",
		}, []string{"room"}),
		enemyCount: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexusroom_enemies",
			Help: "Current live enemy count per room.",
		}, []string{"room"}),
		projectileCnt: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nexusroom_projectiles",
			Help: "Current in-flight projectile count per room.",
		}, []string{"room"}),
		kills: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexusroom_kills_total",
			Help: "Total enemy kills per room.",
		}, []string{"room"}),
		suspicionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nexusroom_suspicion_entries_total",
			Help: "Total suspicion-log entries per room and level.",
		}, []string{"room", "level"}),
	}
}

func (p *PromBridge) ObserveTick(room string, seconds float64) {
	p.tickDuration.WithLabelValues(room).Observe(seconds)
}

func (p *PromBridge) SetCounts(room string, players, enemies, projectiles int) {
	p.playerCount.WithLabelValues(room).Set(float64(players))
	p.enemyCount.WithLabelValues(room).Set(float64(enemies))
	p.projectileCnt.WithLabelValues(room).Set(float64(projectiles))
}

func (p *PromBridge) IncKill(room string) {
	p.kills.WithLabelValues(room).Inc()
}

func (p *PromBridge) IncSuspicion(room, level string) {
	p.suspicionTotal.WithLabelValues(room, level).Inc()
}
