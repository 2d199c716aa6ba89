// a stupid package name...
package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"

	"github.com/queued-dl/queued/server/archive"
	"github.com/queued-dl/queued/server/config"
	"github.com/queued-dl/queued/server/internal/eventbus"
	"github.com/queued-dl/queued/server/internal/manager"
	"github.com/queued-dl/queued/server/internal/parser"
	"github.com/queued-dl/queued/server/internal/store"
	"github.com/queued-dl/queued/server/logging"
	"github.com/queued-dl/queued/server/metadata"
	middlewares "github.com/queued-dl/queued/server/middleware"
	"github.com/queued-dl/queued/server/openid"
	"github.com/queued-dl/queued/server/rest"
	"github.com/queued-dl/queued/server/status"
	"github.com/queued-dl/queued/server/templates"
	"github.com/queued-dl/queued/server/updater"
	"github.com/queued-dl/queued/server/user"
	"github.com/queued-dl/queued/server/ws"

	bolt "go.etcd.io/bbolt"
	_ "modernc.org/sqlite"
)

type serverConfig struct {
	bus       *eventbus.Bus
	manager   *manager.Manager
	archive   *archive.Service
	templates *templates.Store
}

func Run(ctx context.Context) error {
	conf := config.Instance()

	// ---- LOGGING ---------------------------------------------------
	logWriters := []io.Writer{os.Stdout}

	if conf.Logging.EnableFileLogging {
		logger, err := logging.NewRotableLogger(conf.Logging.LogPath)
		if err != nil {
			return err
		}

		defer logger.Close()

		go func() {
			for {
				time.Sleep(time.Hour * 24)
				logger.Rotate()
			}
		}()

		logWriters = append(logWriters, logger)
	}

	logger := slog.New(slog.NewTextHandler(io.MultiWriter(logWriters...), &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	slog.SetDefault(logger)
	// ----------------------------------------------------------------

	boltdb, err := bolt.Open(
		filepath.Join(conf.Paths.LocalDatabasePath, "bolt.db"), 0600, nil,
	)
	if err != nil {
		return err
	}

	sqldb, err := sql.Open("sqlite",
		filepath.Join(conf.Paths.LocalDatabasePath, "archive.db"),
	)
	if err != nil {
		return err
	}

	archiveService, err := archive.New(sqldb)
	if err != nil {
		return err
	}

	templateStore, err := templates.NewStore(boltdb)
	if err != nil {
		return err
	}

	bus := eventbus.New()

	jobs := store.New()

	dm := manager.New(manager.Config{
		Concurrency:    conf.Downloads.Concurrency,
		MaxRetries:     conf.Downloads.MaxRetries,
		AutoRetry:      conf.Downloads.AutoRetry,
		DownloaderPath: conf.Paths.DownloaderPath,
		StopGrace:      conf.StopGrace(),
		Classifier:     parser.DefaultClassifier(),
	}, jobs, bus)

	if conf.Downloads.AutoStart {
		dm.Start()
	}

	if conf.Downloads.ArchiveCompleted {
		archive.Attach(archiveService, bus, dm)
	}

	scfg := serverConfig{
		bus:       bus,
		manager:   dm,
		archive:   archiveService,
		templates: templateStore,
	}

	srv := newServer(scfg)

	var (
		network = "tcp"
		address = fmt.Sprintf("%s:%d", conf.Server.Host, conf.Server.Port)
	)

	// support unix sockets
	if strings.HasPrefix(conf.Server.Host, "/") {
		network = "unix"
		address = conf.Server.Host
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		slog.Error("failed to listen", slog.String("err", err.Error()))
		return err
	}

	slog.Info("queued started", slog.String("address", address))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		dm.Stop()
		bus.Close()
		boltdb.Close()
		sqldb.Close()

		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func newServer(c serverConfig) *http.Server {
	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	r.Use(corsMiddleware.Handler)

	// Authentication routes
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", user.Login)
		r.Get("/logout", user.Logout)

		r.Route("/openid", func(r chi.Router) {
			r.Get("/login", openid.Login)
			r.Get("/signin", openid.SingIn)
			r.Get("/logout", openid.Logout)
		})
	})

	// REST API handlers
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewares.ApplyAuthenticationByConfig)
		r.Group(rest.ApplyRouter(&rest.ContainerArgs{
			Manager: c.manager,
			Bus:     c.bus,
		}))
		r.Route("/templates", templates.ApplyRouter(c.templates))
		r.Route("/metadata", metadata.ApplyRouter())
		r.Route("/downloader", updater.ApplyRouter())
	})

	// Event feed
	r.Get("/ws", ws.EventFeed(c.bus))

	// Archive routes
	r.Route("/archive", func(r chi.Router) {
		r.Use(middlewares.ApplyAuthenticationByConfig)
		r.Group(archive.ApplyRouter(c.archive))
	})

	// Status
	r.Route("/status", status.ApplyRouter(c.manager))

	return &http.Server{Handler: r}
}
