package leaderlock

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DiagnosticsConfig — параметры диагностики удержания guard-ов.
type DiagnosticsConfig struct {
	// WarnThreshold — удержание дольше порога логируется на WARN и запоминается.
	WarnThreshold time.Duration
	// RecentSize — максимум запомненных долгих удержаний.
	RecentSize int
	// RecentTTL — время хранения записи о долгом удержании.
	RecentTTL time.Duration
}

// LongHold — запись о долгом удержании барьера.
type LongHold struct {
	Origin     Origin        `json:"-"`
	Location   string        `json:"origin"`
	Held       time.Duration `json:"-"`
	HeldMillis int64         `json:"held_ms"`
	ReleasedAt time.Time     `json:"released_at"`
	Count      int           `json:"count"`
}

// Diagnostics реализует Observer и RejectionObserver: метрики ожидания и
// удержания, счётчик отказов гейта, журнал долгих удержаний.
type Diagnostics struct {
	cfg    DiagnosticsConfig
	logger *slog.Logger

	// mu защищает чтение-изменение-запись записей recent.
	mu     sync.Mutex
	recent *expirable.LRU[string, LongHold]

	waitSeconds prometheus.Histogram
	holdSeconds prometheus.Histogram
	active      prometheus.Gauge
	rejections  *prometheus.CounterVec
	longHolds   prometheus.Counter
}

// NewDiagnostics создаёт диагностику и регистрирует метрики в reg
// (nil — prometheus.DefaultRegisterer).
func NewDiagnostics(cfg DiagnosticsConfig, logger *slog.Logger, reg prometheus.Registerer) *Diagnostics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = 256
	}
	f := promauto.With(reg)
	buckets := []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5, 10}

	return &Diagnostics{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "leaderlock")),
		recent: expirable.NewLRU[string, LongHold](cfg.RecentSize, nil, cfg.RecentTTL),
		waitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cm_leader_guard_wait_seconds",
			Help:    "Время ожидания разделяемой роли барьера лидерства.",
			Buckets: buckets,
		}),
		holdSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cm_leader_guard_hold_seconds",
			Help:    "Время удержания разделяемой роли барьера лидерства.",
			Buckets: buckets,
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "cm_leader_guards_active",
			Help: "Количество удерживаемых guard-ов.",
		}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cm_leader_gate_rejections_total",
			Help: "Количество отказов гейта по API и причине.",
		}, []string{"api", "outcome"}),
		longHolds: f.NewCounter(prometheus.CounterOpts{
			Name: "cm_leader_guard_long_holds_total",
			Help: "Количество удержаний дольше порога предупреждения.",
		}),
	}
}

// GuardAcquired реализует Observer.
func (d *Diagnostics) GuardAcquired(_ Origin, waited time.Duration) {
	d.waitSeconds.Observe(waited.Seconds())
	d.active.Inc()
}

// GuardReleased реализует Observer.
func (d *Diagnostics) GuardReleased(origin Origin, held time.Duration) {
	d.active.Dec()
	d.holdSeconds.Observe(held.Seconds())

	if d.cfg.WarnThreshold <= 0 || held < d.cfg.WarnThreshold {
		return
	}
	d.longHolds.Inc()
	d.logger.Warn("Долгое удержание барьера лидерства",
		slog.String("file", origin.File),
		slog.Int("line", origin.Line),
		slog.String("function", origin.Function),
		slog.Duration("held", held),
		slog.Duration("threshold", d.cfg.WarnThreshold),
	)

	key := origin.String()
	rec := LongHold{
		Origin:     origin,
		Location:   key,
		Held:       held,
		HeldMillis: held.Milliseconds(),
		ReleasedAt: time.Now().UTC(),
		Count:      1,
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.recent.Peek(key); ok {
		rec.Count = prev.Count + 1
		if prev.Held > rec.Held {
			rec.Held, rec.HeldMillis = prev.Held, prev.HeldMillis
		}
	}
	d.recent.Add(key, rec)
}

// GateRejected реализует RejectionObserver. Отказ учитывается и тогда,
// когда ошибка в ответ не записывается.
func (d *Diagnostics) GateRejected(api string, origin Origin, out Outcome, errorSet bool) {
	d.rejections.WithLabelValues(api, out.Kind.String()).Inc()
	d.logger.Debug("Операция отклонена гейтом лидерства",
		slog.String("api", api),
		slog.String("outcome", out.Kind.String()),
		slog.String("origin", origin.String()),
		slog.Bool("error_set", errorSet),
		slog.Any("status", out.Err),
	)
}

// Recent возвращает запомненные долгие удержания, самые долгие первыми.
func (d *Diagnostics) Recent() []LongHold {
	out := d.recent.Values()
	slices.SortFunc(out, func(a, b LongHold) int {
		switch {
		case a.Held > b.Held:
			return -1
		case a.Held < b.Held:
			return 1
		default:
			return 0
		}
	})
	return out
}
