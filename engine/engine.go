package engine

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/config"
	"github.com/yaoapp/weave/dispatch"
	"github.com/yaoapp/weave/identity"
	v8 "github.com/yaoapp/weave/runtime/v8"
	"github.com/yaoapp/weave/script"
	"github.com/yaoapp/weave/secret"
	"github.com/yaoapp/weave/store"
	"github.com/yaoapp/weave/stream"
)

// Engine the assembled host: repository, secrets, sandbox, scripts and dispatcher
type Engine struct {
	Config     *config.Config
	Repo       *store.Repository
	Secrets    *secret.Store
	Runtime    *v8.Runtime
	Scripts    *script.Registry
	Dispatcher *dispatch.Dispatcher
	Identity   identity.Provider

	relay  *stream.RedisRelay
	cancel context.CancelFunc
}

// New assembles the engine. Nothing runs until Start.
func New(cfg *config.Config) (*Engine, error) {
	backend, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", cfg.Store.Driver, err)
	}
	repo := store.NewRepository(backend)

	secrets, err := secret.NewStore(repo.Secrets, cfg.Secrets.Key)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("secrets: %w", err)
	}

	rt, err := v8.Start(cfg.Sandbox, nil)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("sandbox: %w", err)
	}
	rt.SetRedactor(secrets.Redact)

	hub := stream.NewHub(cfg.Stream.Buffer)
	scripts := script.New(repo.Scripts, rt, nil, script.Option{Privileged: cfg.Scripts.Privileged})
	d := dispatch.New(dispatch.Option{
		Mode:      cfg.Server.Mode,
		MaxBody:   cfg.Server.MaxBody,
		KeepAlive: cfg.Stream.KeepAlive,
	}, dispatch.Services{
		Runtime: rt,
		Scripts: scripts,
		Hub:     hub,
		Secrets: secrets,
		Assets:  repo.Assets,
	})
	scripts.SetLifecycle(d)
	rt.SetHost(d)

	e := &Engine{
		Config:     cfg,
		Repo:       repo,
		Secrets:    secrets,
		Runtime:    rt,
		Scripts:    scripts,
		Dispatcher: d,
		Identity:   provider(cfg.Identity, repo),
	}

	if addr := cfg.Stream.Redis.Addr; addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Stream.Redis.Password,
			DB:       cfg.Stream.Redis.DB,
		})
		e.relay, err = stream.NewRedisRelay(rdb, cfg.Stream.Redis.Topic, hub)
		if err != nil {
			rdb.Close()
			e.Stop()
			return nil, fmt.Errorf("stream relay %s: %w", addr, err)
		}
	}

	return e, nil
}

// Start loads the stored scripts, then the script directory, and starts the scheduler
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	if err := e.Scripts.Load(ctx); err != nil {
		return err
	}

	if dir := e.Config.Scripts.Dir; dir != "" {
		if err := e.Scripts.LoadDir(ctx, dir); err != nil {
			log.Error("[Engine] %s", err.Error())
		}
		if e.Config.Scripts.Watch {
			if err := e.Scripts.Watch(ctx, dir); err != nil {
				return err
			}
		}
	}

	e.Dispatcher.Start()
	log.Info("[Engine] %d scripts, %d routes, %d stream routes", e.Scripts.Len(), e.Dispatcher.Routes().Len(), e.Dispatcher.Streams().Len())
	return nil
}

// Stop releases everything New and Start acquired
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.Dispatcher.Stop()
	if e.relay != nil {
		if err := e.relay.Close(); err != nil {
			log.Warn("[Engine] stream relay: %s", err.Error())
		}
	}
	e.Runtime.Stop()
	if err := e.Repo.Close(); err != nil {
		log.Warn("[Engine] store: %s", err.Error())
	}
}

func provider(option config.Identity, repo *store.Repository) identity.Provider {
	if option.Provider == "session" {
		return identity.Session{Sessions: repo.Sessions, Cookie: option.Cookie}
	}
	return identity.Header{Prefix: option.Prefix, Secret: option.Secret}
}
