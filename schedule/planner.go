package schedule

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"
	"github.com/spaolacci/murmur3"

	"github.com/meikuraledutech/workflow"
)

// CacheConfig sizes the plan cache.
type CacheConfig struct {
	Size int64         `mapstructure:"cache_size"`
	TTL  time.Duration `mapstructure:"cache_ttl"`
}

// Planner memoizes Plan per DAG. Published DAGs are immutable, so a plan keyed
// by the DAG's content hash never goes stale.
type Planner struct {
	cache *ristretto.Cache
	ttl   time.Duration
	mu    sync.Mutex
}

// NewPlanner builds a planner with a ristretto cache of cfg.Size plans.
// A non-positive size disables caching.
func NewPlanner(cfg CacheConfig) (*Planner, error) {
	p := &Planner{ttl: cfg.TTL}
	if cfg.Size <= 0 {
		return p, nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * cfg.Size,
		MaxCost:     cfg.Size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	p.cache = cache
	log.Info().Int64("size", cfg.Size).Dur("ttl", cfg.TTL).Msg("plan cache initialized")
	return p, nil
}

// Plan returns the topological order of d, from cache when possible.
func (p *Planner) Plan(d *workflow.Dag) ([]string, error) {
	if p.cache == nil {
		return Plan(d)
	}
	key, ok := dagHash(d)
	if !ok {
		return Plan(d)
	}
	if v, found := p.cache.Get(key); found {
		return append([]string(nil), v.([]string)...), nil
	}

	// serialize computation so concurrent starts of the same workflow plan once
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, found := p.cache.Get(key); found {
		return append([]string(nil), v.([]string)...), nil
	}

	order, err := Plan(d)
	if err != nil {
		return nil, err
	}
	if p.ttl > 0 {
		p.cache.SetWithTTL(key, order, 1, p.ttl)
	} else {
		p.cache.Set(key, order, 1)
	}
	return append([]string(nil), order...), nil
}

// Close releases the cache's background goroutines.
func (p *Planner) Close() {
	if p.cache != nil {
		p.cache.Close()
	}
}

func dagHash(d *workflow.Dag) (uint64, bool) {
	raw, err := json.Marshal(d)
	if err != nil {
		return 0, false
	}
	return murmur3.Sum64(raw), true
}
