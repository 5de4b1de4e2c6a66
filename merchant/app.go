package merchant

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/corepay/gestpay/gateway"
	"github.com/corepay/gestpay/internal/middleware"
	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

// App is the main application, it contains all the components of the
// merchant service and is responsible for starting and stopping them.
type App struct {
	srv    *http.Server
	wg     *sync.WaitGroup
	Addr   string
	logger *slog.Logger
	config *Config

	kafkaHook *KafkaHook
	rdb       *redis.Client
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "merchant"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")

	router := chi.NewRouter()
	router.Use(middleware.NewStructuredLogger(a.logger))

	// Choose repository backend: default to pg for runtime; allow mem only
	// when explicitly enabled for tests.
	var repository *Repository
	backend := getenv("REPO_BACKEND", "pg")
	allowMem := getenv("ALLOW_MEM_BACKEND_FOR_TESTS", "false") == "true"
	switch backend {
	case "pg":
		dsn := getenv("DB_DSN", "")
		if dsn == "" {
			return fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		repository = NewPGRepository(db)
	case "mem":
		if !allowMem {
			return fmt.Errorf("mem repository is disabled at runtime; set ALLOW_MEM_BACKEND_FOR_TESTS=true only in tests")
		}
		repository = NewRepository()
	default:
		return fmt.Errorf("unsupported REPO_BACKEND=%s", backend)
	}

	var transient TransientStore
	if addr := getenv("REDIS_ADDR", ""); addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: addr})
		if err := a.rdb.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		transient = NewRedisTransientStore(a.rdb)
	} else {
		transient = NewMemoryTransientStore()
	}

	var hooks []Hook
	if broker := getenv("KAFKA_BROKER", ""); broker != "" {
		topic := getenv("KAFKA_TOPIC", "gestpay.payments")
		a.kafkaHook = NewKafkaHook(broker, topic, a.logger)
		hooks = append(hooks, a.kafkaHook)
	}

	endpoints := a.config.Endpoints()
	crypt := gateway.NewClient(endpoints.CryptURL, nil, a.logger)
	s2s := gateway.NewS2SClient(endpoints.S2SURL, nil, a.logger)

	var extensions []ParamExtension
	if a.config.ConselMerchantID != "" {
		extensions = append(extensions, &ConselExtension{
			MerchantID:  a.config.ConselMerchantID,
			MerchantPro: a.config.ConselMerchantPro,
		})
	}

	builder := NewParamsBuilder(a.config, repository, a.logger, extensions...)
	reconciler := NewReconciler(a.config, crypt, s2s, repository, repository, transient, a.logger, hooks...)
	checkout := NewCheckout(a.config, builder, crypt, s2s, repository, repository, transient, reconciler, a.logger)
	vault := NewVault(a.config, repository, s2s, a.logger)

	api := NewAPI(checkout, reconciler, vault)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: router,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	a.srv.Shutdown(context.Background())

	if a.kafkaHook != nil {
		if err := a.kafkaHook.Close(); err != nil {
			a.logger.Error("closing kafka hook", "err", err)
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("closing redis client", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
