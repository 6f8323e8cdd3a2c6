// Package web exposes the HTTP JSON API: item CRUD and search, the calendar
// feed (recurrence expansion), digest preview/trigger and a status endpoint.
// It is the only mutation path into the item store; every mutation publishes
// an item-changed event that drives the reminder reconcile.
package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/eventbus"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/remind"
	"github.com/destiny-kaplan/private-discord-reminder-bot/internal/storage"
	logx "github.com/destiny-kaplan/private-discord-reminder-bot/pkg/logx"
)

type Config struct {
	Addr string
}

type Server struct {
	cfg   Config
	log   logx.Logger
	store storage.Store
	svc   *remind.Service
	port  remind.Port
	res   remind.Resolver
	bus   eventbus.Bus

	srv     *http.Server
	started time.Time

	// recent keeps the last few bus events for /status.
	recentMu sync.Mutex
	recent   []eventbus.Event
	unsub    func()
}

const recentEventCap = 20

func New(cfg Config, store storage.Store, svc *remind.Service, port remind.Port, res remind.Resolver, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:   cfg,
		log:   log,
		store: store,
		svc:   svc,
		port:  port,
		res:   res,
		bus:   bus,
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())
	s.routes(r)
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/status", s.handleStatus)

	api := r.Group("/api")
	api.GET("/items", s.handleListItems)
	api.POST("/items", s.handleCreateItem)
	api.GET("/items/:id", s.handleGetItem)
	api.PUT("/items/:id", s.handleUpdateItem)
	api.DELETE("/items/:id", s.handleDeleteItem)
	api.POST("/items/:id/complete", s.handleCompleteItem)
	api.GET("/calendar", s.handleCalendar)
	api.GET("/digest", s.handleDigestPreview)
	api.POST("/digest/send", s.handleDigestSend)
}

func (s *Server) Start(ctx context.Context) error {
	s.started = time.Now()

	if s.bus != nil {
		ch, unsub := s.bus.Subscribe(16)
		s.unsub = unsub
		go func() {
			for ev := range ch {
				s.recentMu.Lock()
				s.recent = append(s.recent, ev)
				if len(s.recent) > recentEventCap {
					s.recent = s.recent[len(s.recent)-recentEventCap:]
				}
				s.recentMu.Unlock()
			}
		}()
	}

	ln := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ln <- err
		}
	}()
	// Surface immediate bind errors to the caller; after that the server
	// runs until Stop().
	select {
	case err := <-ln:
		return err
	case <-time.After(200 * time.Millisecond):
	}
	s.log.Info("http server started", logx.String("addr", s.cfg.Addr))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	if s.unsub != nil {
		s.unsub()
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
}
