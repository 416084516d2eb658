// Package app wires every component package into one running process:
// database, cache, the HTTP federation API, the SSH operator console, and
// the delivery worker pool. Grounded on gnp-x-stegodon/app/app.go's
// New/Initialize/Start/Shutdown lifecycle and signal handling.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"

	"github.com/deemkeen/stegodon-federate/internal/cache"
	"github.com/deemkeen/stegodon-federate/internal/config"
	"github.com/deemkeen/stegodon-federate/internal/db"
	"github.com/deemkeen/stegodon-federate/internal/deliver"
	"github.com/deemkeen/stegodon-federate/internal/fetch"
	"github.com/deemkeen/stegodon-federate/internal/follow"
	"github.com/deemkeen/stegodon-federate/internal/httpapi"
	"github.com/deemkeen/stegodon-federate/internal/inbox"
	"github.com/deemkeen/stegodon-federate/internal/note"
	"github.com/deemkeen/stegodon-federate/internal/notify"
	"github.com/deemkeen/stegodon-federate/internal/operator"
	"github.com/deemkeen/stegodon-federate/internal/outbox"
	"github.com/deemkeen/stegodon-federate/internal/resolve"
	"github.com/deemkeen/stegodon-federate/internal/store"
)

// App holds every long-lived component and the servers that expose them.
type App struct {
	cfg *config.Config

	database *db.DB
	st       *store.Store
	broker   *outbox.Broker
	worker   *deliver.Worker

	httpServer *http.Server
	sshServer  *ssh.Server

	sweepCancel context.CancelFunc
	done        chan os.Signal
}

// New builds an App from cfg without opening any connections yet.
func New(cfg *config.Config) *App {
	return &App{cfg: cfg, done: make(chan os.Signal, 1)}
}

// Initialize opens the database, runs migrations, and wires every
// component package together. It does not start accepting connections.
func (a *App) Initialize() error {
	database, err := db.Open(a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("app: open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	a.database = database

	var c cache.Cache
	if a.cfg.RedisURL != "" {
		redisCache, err := cache.NewRedis(a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("app: connect redis: %w", err)
		}
		c = redisCache
	} else {
		c = cache.NewMemory(5 * time.Minute)
	}
	a.st = store.New(database, c)

	notifySvc, err := notify.New(a.st, a.cfg.WebpushKeyPath, "mailto:admin@"+a.cfg.Domain())
	if err != nil {
		return fmt.Errorf("app: init notify: %w", err)
	}

	fetcher := fetch.New(a.cfg.WebfingerTimeout, c)
	resolver := resolve.New(a.st, fetcher, a.cfg.Domain(), a.cfg.ActorFreshnessWindow, a.cfg.ReplyRecursionDepth)
	followManager := follow.New(a.st, notifySvc, a.cfg.BaseURL, a.cfg.Domain())
	inboxHandler := inbox.New(a.st, resolver, followManager, notifySvc, a.cfg.Domain())
	noteManager := note.New(a.st, notifySvc, a.cfg.BaseURL, a.cfg.Domain(), a.cfg.MaxNoteContentBytes)

	if a.cfg.WithAP {
		broker, err := outbox.Dial(a.cfg.BrokerURL)
		if err != nil {
			return fmt.Errorf("app: dial broker: %w", err)
		}
		a.broker = broker
		a.worker = deliver.New(a.st, http.DefaultClient, broker, a.cfg.DeliveryMaxRetries)
	}

	apiServer := httpapi.New(a.cfg, a.st, inboxHandler)
	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.HTTPPort),
		Handler: apiServer.Engine(),
	}

	sshKeyPath := ".ssh/stegodon-federate-hostkey"
	sshServer, err := wish.NewServer(
		wish.WithAddress(fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.SSHPort)),
		wish.WithHostKeyPath(sshKeyPath),
		wish.WithPublicKeyAuth(func(ssh.Context, ssh.PublicKey) bool { return true }),
		wish.WithMiddleware(
			operator.Middleware(a.st, notifySvc, noteManager),
			logging.MiddlewareWithLogger(log.Default()),
		),
	)
	if err != nil {
		return fmt.Errorf("app: create ssh server: %w", err)
	}
	a.sshServer = sshServer

	return nil
}

// Start runs every server and blocks until a shutdown signal arrives.
func (a *App) Start() error {
	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	if a.cfg.WithAP && a.worker != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.sweepCancel = cancel
		go a.worker.Sweep(ctx, 30*time.Second, 50)
		go func() {
			if err := a.worker.Run(ctx, "stegodon-federate-deliver"); err != nil {
				log.Printf("delivery worker stopped: %v", err)
			}
		}()
		go func() {
			if err := a.worker.DrainDeadLetters(ctx, "stegodon-federate-retry"); err != nil {
				log.Printf("dead-letter drain stopped: %v", err)
			}
		}()
	}

	log.Printf("starting HTTP server on %s", a.httpServer.Addr)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	log.Printf("starting SSH operator console on %s", a.sshServer.Addr)
	go func() {
		if err := a.sshServer.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
			log.Fatalf("ssh server error: %v", err)
		}
	}()

	<-a.done
	log.Println("shutdown signal received")
	return a.Shutdown()
}

// Shutdown gracefully stops every server within a 30 second budget.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error

	if a.sweepCancel != nil {
		a.sweepCancel()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			log.Printf("broker close error: %v", err)
			shutdownErr = err
		}
	}
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown error: %v", err)
		shutdownErr = err
	}
	if err := a.sshServer.Shutdown(ctx); err != nil {
		log.Printf("ssh server shutdown error: %v", err)
		if shutdownErr == nil {
			shutdownErr = err
		}
	}
	return shutdownErr
}
