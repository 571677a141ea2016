// Package app wires configuration, infrastructure clients and handlers into
// a runnable HTTP service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account/internal/auth"
	"github.com/ovaphlow/pitchfork/service-account/internal/config"
	"github.com/ovaphlow/pitchfork/service-account/internal/httpx"
	"github.com/ovaphlow/pitchfork/service-account/internal/mail"
	"github.com/ovaphlow/pitchfork/service-account/internal/postal"
	"github.com/ovaphlow/pitchfork/service-account/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-account/internal/router"
	"github.com/ovaphlow/pitchfork/service-account/internal/user"
	"github.com/ovaphlow/pitchfork/service-account/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-account/internal/validation"
	"github.com/ovaphlow/pitchfork/service-account/pkg/cache"
	"github.com/ovaphlow/pitchfork/service-account/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account/pkg/encryption"
)

// memoryCacheSize bounds the in-process profile cache used without redis.
const memoryCacheSize = 4096

// Infra holds the clients App is built on. Redis may be nil.
type Infra struct {
	Records user.Records
	Redis   redis.UniversalClient
	Cache   cache.Cache
	Mailer  mail.Mailer
	Ping    func(ctx context.Context) error
}

// App owns the infrastructure clients and the assembled HTTP handler.
type App struct {
	Handler http.Handler
	Users   *user.UserService
	Auth    *auth.Service

	db  *sqlx.DB
	rdb *redis.Client
}

// New connects to postgres and, when configured, redis, then assembles the
// service. Close releases what New opened.
func New(cfg config.Config, log *zap.SugaredLogger) (*App, error) {
	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.AutoMigrate {
		v, err := database.Migrate(sqlDB)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		log.Infow("schema migrated", "version", v)
	}
	db := sqlx.NewDb(sqlDB, "postgres")

	infra := Infra{Records: repo.NewUserRepo(db)}
	var rdb *redis.Client
	if rc := cache.ConfigFromEnv(); rc.Enabled() {
		rdb, err = cache.Connect(rc)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		infra.Redis = rdb
		infra.Cache = cache.NewRedis(rdb)
		log.Infow("redis cache enabled")
	} else {
		infra.Cache = cache.NewMemory(memoryCacheSize, cfg.CacheTTL)
		log.Infow("redis not configured, using in-process cache; rate limiting disabled")
	}
	infra.Ping = func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("db: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	a, err := Assemble(cfg, infra, log)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		db.Close()
		return nil, err
	}
	a.db = db
	a.rdb = rdb
	return a, nil
}

// Assemble builds services and routes on top of already connected clients.
func Assemble(cfg config.Config, infra Infra, log *zap.SugaredLogger) (*App, error) {
	codec, err := encryption.NewCodec(cfg.EncryptionKey, cfg.EncryptionSalt)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(cfg.SecretKey, cfg.Algorithm, cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	if err != nil {
		return nil, err
	}
	proxies, err := httpx.NewIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	mailer := infra.Mailer
	if mailer == nil {
		if cfg.SMTP.Enabled() {
			mailer = mail.NewSMTPMailer(cfg.SMTP)
		} else {
			mailer = mail.NewLogMailer(log.Named("mail"))
		}
	}

	v := validation.New()
	store := user.NewStore(infra.Records, codec, log.Named("store"))
	hasher := user.BcryptHasher{Cost: cfg.BcryptCost}
	profiles := user.NewProfileCache(infra.Cache, codec, cfg.CacheTTL)
	users := user.NewUserService(store, hasher, profiles, v, log.Named("user"))
	notifier := mail.NewNotifier(mailer, cfg.FrontendURL, cfg.SMTP.FromName)
	sessions := auth.NewService(store, hasher, profiles, tokens, notifier, v, cfg.ResetTokenTTL(), log.Named("auth"))
	lookup := postal.NewClient(cfg.PostalLookupURL, cfg.PostalTimeout, log.Named("postal"))

	handler := router.RegisterRoutes(router.Deps{
		Logger:    log,
		Prefix:    cfg.BasePrefix,
		Users:     user.NewHandler(users, log),
		Auth:      auth.NewHandler(sessions, log),
		Postal:    postal.NewHandler(lookup, log),
		Limiter:   ratelimit.NewLimiter(infra.Redis, proxies, log.Named("ratelimit")),
		LoginRule: ratelimit.Rule{Name: "login", Limit: cfg.LoginRateLimit, Window: cfg.LoginRateWindow},
		ResetRule: ratelimit.Rule{Name: "password_reset", Limit: cfg.ResetRateLimit, Window: cfg.ResetRateWindow},
		ClientIPs: proxies,
		Health:    infra.Ping,
	})
	return &App{Handler: handler, Users: users, Auth: sessions}, nil
}

// Close releases the redis client and the database pool, in that order.
func (a *App) Close() error {
	var errs []error
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
