package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	rf "github.com/unkn0wn-root/redisflow"
	c "github.com/unkn0wn-root/redisflow/codec"
	"github.com/unkn0wn-root/redisflow/genstore"
	promhooks "github.com/unkn0wn-root/redisflow/hooks/prometheus"
	"github.com/unkn0wn-root/redisflow/internal/config"
	"github.com/unkn0wn-root/redisflow/internal/demo"
	rflogrus "github.com/unkn0wn-root/redisflow/log/logrus"
	rfzap "github.com/unkn0wn-root/redisflow/log/zap"
	pr "github.com/unkn0wn-root/redisflow/provider"
	"github.com/unkn0wn-root/redisflow/provider/bigcache"
	rp "github.com/unkn0wn-root/redisflow/provider/redis"
	"github.com/unkn0wn-root/redisflow/provider/ristretto"
	rs "github.com/unkn0wn-root/redisflow/store/redis"
)

// runtime holds everything a command needs; close releases it in reverse order.
type runtime struct {
	cfg      config.Config
	log      rf.Logger
	hooks    rf.Hooks
	rdb      *goredis.Client
	store    *rs.Redis
	products rf.Coordinator[demo.Product]

	metrics *http.Server
	sync    func() error
}

func newRuntime(ctx context.Context, cfg config.Config, withMetrics bool) (*runtime, error) {
	log, syncLog, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, hooks: rf.NopHooks{}, sync: syncLog}

	rt.rdb = goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.rdb.Ping(pingCtx).Err(); err != nil {
		_ = rt.rdb.Close()
		return nil, &rf.StoreError{Op: "ping", Key: cfg.RedisAddr, Err: err}
	}
	if rt.store, err = rs.New(rs.Config{Client: rt.rdb}); err != nil {
		_ = rt.rdb.Close()
		return nil, err
	}

	if withMetrics && cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		h, err := promhooks.New(reg)
		if err != nil {
			rt.close(ctx)
			return nil, err
		}
		rt.hooks = h
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		rt.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", rf.Fields{"addr": cfg.MetricsAddr, "err": err})
			}
		}()
		log.Info("metrics listening", rf.Fields{"addr": cfg.MetricsAddr})
	}

	p, gens, err := newCacheBackend(ctx, cfg, rt.rdb)
	if err != nil {
		rt.close(ctx)
		return nil, err
	}
	rt.products, err = rf.New[demo.Product](rf.Options[demo.Product]{
		Name:       demo.ProductsCache,
		Provider:   p,
		Codec:      c.JSON[demo.Product]{},
		Logger:     log,
		Hooks:      rt.hooks,
		DefaultTTL: cfg.CacheTTL,
		GenStore:   gens,
	})
	if err != nil {
		_ = p.Close(ctx)
		rt.close(ctx)
		return nil, err
	}
	return rt, nil
}

// newCacheBackend picks the provider. With Redis the generations live in Redis
// too, so several processes agree on evictions; in-process caches keep them local.
func newCacheBackend(ctx context.Context, cfg config.Config, rdb goredis.UniversalClient) (pr.Provider, genstore.GenStore, error) {
	switch cfg.CacheBackend {
	case "redis":
		p, err := rp.New(rp.Config{Client: rdb})
		if err != nil {
			return nil, nil, err
		}
		gens, err := genstore.NewRedisGenStore(genstore.RedisConfig{Client: rdb, Namespace: demo.ProductsCache})
		if err != nil {
			return nil, nil, err
		}
		return p, gens, nil
	case "ristretto":
		p, err := ristretto.New(ristretto.Config{NumCounters: 1e5, MaxCost: 64 << 20, BufferItems: 64})
		return p, nil, err
	case "bigcache":
		life := cfg.CacheTTL
		if life <= 0 {
			life = 24 * time.Hour
		}
		p, err := bigcache.New(ctx, bigcache.Config{LifeWindow: life})
		return p, nil, err
	}
	return nil, nil, &rf.ConfigError{Field: "REDISFLOW_CACHE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", cfg.CacheBackend)}
}

func newLogger(cfg config.Config) (rf.Logger, func() error, error) {
	if cfg.LogFormat == "logrus" {
		l := logrus.New()
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, &rf.ConfigError{Field: "REDISFLOW_LOG_LEVEL", Reason: err.Error()}
		}
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return rflogrus.New(l, "redisflow"), func() error { return nil }, nil
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, &rf.ConfigError{Field: "REDISFLOW_LOG_LEVEL", Reason: err.Error()}
	}
	zc.Level = lvl
	zl, err := zc.Build()
	if err != nil {
		return nil, nil, err
	}
	return rfzap.New(zl, "redisflow"), zl.Sync, nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.metrics != nil {
		_ = rt.metrics.Shutdown(ctx)
	}
	if rt.products != nil {
		_ = rt.products.Close(ctx)
	}
	_ = rt.rdb.Close()
	_ = rt.sync()
}
