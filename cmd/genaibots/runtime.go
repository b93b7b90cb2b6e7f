package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/YounitedCredit/younited-genaibots-sub001/internal/config"
	dbpkg "github.com/YounitedCredit/younited-genaibots-sub001/internal/db"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/eventlog"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging/discord"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/messaging/rest"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/queue"
	"github.com/YounitedCredit/younited-genaibots-sub001/internal/session"
)

// runtime holds the storage and platform plumbing shared by serve and the admin
// commands.
type runtime struct {
	cfg    config.Config
	logger *log.Logger

	store    queue.Store
	sessions session.Store
	shared   *gorm.DB

	eventLog   *eventlog.Log
	dispatcher *eventlog.Dispatcher
	adapters   *messaging.Registry
	hub        *rest.Hub
	rest       *rest.Adapter
	discord    *discord.Listener
}

func openRuntime(ctx context.Context, cfg config.Config, logger *log.Logger, sink discord.Sink) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, adapters: messaging.NewRegistry()}
	if err := rt.openStores(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	rt.eventLog = eventlog.New(rt.store, eventlog.WithLogger(logger), eventlog.WithDisabled(!cfg.EventLogEnabled))

	rt.hub = rest.NewHub(logger)
	restOpts := []rest.Option{rest.WithLogger(logger)}
	if cfg.RESTWebhookURL != "" {
		restOpts = append(restOpts, rest.WithWebhook(cfg.RESTWebhookURL, &http.Client{Timeout: 10 * time.Second}))
	}
	rt.rest = rest.NewAdapter(rt.hub, restOpts...)
	if err := rt.adapters.Register(rt.rest.Name(), rt.rest); err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.DiscordToken != "" {
		var opts []discord.Option
		if cfg.DiscordInternalChannel != "" {
			opts = append(opts, discord.WithInternalChannel(cfg.DiscordInternalChannel))
		}
		rt.discord = discord.NewListener(cfg.DiscordToken, sink, logger, opts...)
		adapter, err := rt.discord.Connect()
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := rt.adapters.Register(adapter.Name(), adapter); err != nil {
			rt.Close()
			return nil, err
		}
	}

	rt.dispatcher = eventlog.NewDispatcher(logger, rt.eventLog, rt.adapters)
	return rt, nil
}

// openStores shares one database handle when the queue and sessions point at the same
// SQL database.
func (rt *runtime) openStores(ctx context.Context) error {
	q, s := rt.cfg.Queue, rt.cfg.Session
	sqlBackend := q.Backend == "sqlite" || q.Backend == "postgres"
	if sqlBackend && strings.EqualFold(q.Backend, s.Driver) && q.DSN == s.DSN {
		gdb, err := dbpkg.Open(q.Backend, q.DSN, rt.logger)
		if err != nil {
			return err
		}
		rt.shared = gdb
		store, err := queue.NewGormStoreFromDB(gdb)
		if err != nil {
			return err
		}
		rt.store = store
		sessions, err := session.NewGormStoreFromDB(gdb)
		if err != nil {
			return err
		}
		rt.sessions = sessions
		return nil
	}

	store, err := queue.Open(ctx, q.Backend, queue.BackendOptions{
		DSN:           q.DSN,
		Dir:           q.Dir,
		RedisAddr:     q.RedisAddr,
		RedisPassword: q.RedisPassword,
		RedisDB:       q.RedisDB,
		RedisPrefix:   q.RedisPrefix,
		Logger:        rt.logger,
	})
	if err != nil {
		return err
	}
	rt.store = store

	if strings.EqualFold(s.Driver, "memory") {
		rt.sessions = session.NewMemoryStore()
		return nil
	}
	sessions, err := session.NewGormStore(s.Driver, s.DSN, rt.logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	rt.sessions = sessions
	return nil
}

func (rt *runtime) Close() {
	if rt.discord != nil {
		if err := rt.discord.Stop(); err != nil {
			rt.logger.Printf("discord stop error: %v", err)
		}
	}
	if rt.hub != nil {
		rt.hub.Close()
	}
	if rt.shared != nil {
		// the queue and session stores borrow this handle
		if err := dbpkg.Close(rt.shared); err != nil {
			rt.logger.Printf("shared database close error: %v", err)
		}
		return
	}
	if rt.sessions != nil {
		if err := rt.sessions.Close(); err != nil {
			rt.logger.Printf("session store close error: %v", err)
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Printf("queue store close error: %v", err)
		}
	}
}
