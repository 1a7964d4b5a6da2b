package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/mboyle/zonehub/internal/api"
	"github.com/mboyle/zonehub/internal/auth"
	"github.com/mboyle/zonehub/internal/config"
	"github.com/mboyle/zonehub/internal/discovery"
	"github.com/mboyle/zonehub/internal/gena"
	"github.com/mboyle/zonehub/internal/history"
	"github.com/mboyle/zonehub/internal/hub"
	"github.com/mboyle/zonehub/internal/player"
	"github.com/mboyle/zonehub/internal/soap"
	"github.com/mboyle/zonehub/internal/store"
	"github.com/mboyle/zonehub/internal/topology"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// DisableDiscovery skips SSDP and the GENA listener, for tests.
	DisableDiscovery bool
}

// Server owns the long-lived subsystems behind the HTTP surface.
type Server struct {
	cfg config.Config

	events   *hub.Hub
	registry *discovery.Registry
	topo     *topology.Manager
	ctrl     *player.Controller
	sub      *gena.Subscriber
	scanner  *discovery.Scanner

	historyDB *history.DB
	journal   *history.Journal
	notifier  *hub.WebhookNotifier
	stations  *store.StationCache
	backoff   *store.Backoff
	cron      *cron.Cron

	startedAt time.Time
}

// NewHandler wires the subsystems, starts the background tasks, and
// returns the HTTP handler plus a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	s, err := newServer(cfg, options)
	if err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg.JWTSecret))
	s.registerRoutes(router)

	return router, s.shutdown, nil
}

// newServer builds the subsystem graph and starts the background tasks.
func newServer(cfg config.Config, options Options) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		events:    hub.New(),
		registry:  discovery.NewRegistry(),
		startedAt: time.Now(),
	}

	historyDB, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return nil, err
	}
	s.historyDB = historyDB
	s.journal = history.NewJournal(historyDB, s.events)
	s.journal.Start()

	s.topo = topology.NewManager(func(id string) (string, bool) {
		p, ok := s.registry.ByID(id)
		if !ok {
			return "", false
		}
		return p.RoomName, true
	}, func(previous, current []topology.Zone) {
		s.events.Publish(hub.Event{
			Type: hub.TypeTopology,
			Data: hub.TopologyChange{Previous: previous, Current: current},
		})
		go s.routePairSubscriptions()
	})

	soapClient := soap.NewClient(time.Duration(cfg.SoapTimeoutMs) * time.Millisecond)
	s.ctrl = player.NewController(soapClient, s.registry, s.topo, s.events)

	s.sub = gena.NewSubscriber(gena.Config{
		Port:          cfg.CallbackPort,
		LocalIP:       cfg.CallbackIP,
		SubscribeSecs: cfg.SubscribeTimeoutSec,
	}, s.ctrl.HandleEvent)

	s.scanner = discovery.NewScanner(discovery.Config{
		Passes:       cfg.SSDPPasses,
		PassInterval: time.Duration(cfg.SSDPPassIntervalMs) * time.Millisecond,
		ResponseWait: time.Duration(cfg.SSDPResponseWaitMs) * time.Millisecond,
		StaticIPs:    cfg.StaticDeviceIPs,
	}, s.registry, s.onPlayerFound)

	s.stations = store.NewStationCache(cfg.DataDir + "/stations.json")
	s.backoff = store.NewBackoff(cfg.DataDir + "/backoff.json")

	webhooks, err := config.LoadWebhooks(cfg.WebhooksPath)
	if err != nil {
		historyDB.Close()
		return nil, err
	}
	s.notifier = hub.NewWebhookNotifier(s.events, 5*time.Second)
	s.notifier.Start(webhooks)

	if !options.DisableDiscovery {
		if err := s.sub.Start(); err != nil {
			s.notifier.Stop()
			historyDB.Close()
			return nil, err
		}
		go s.initialScan()
	}

	s.cron = cron.New()
	s.startJobs(options)
	s.cron.Start()

	return s, nil
}

func (s *Server) startJobs(options Options) {
	if !options.DisableDiscovery {
		if _, err := s.cron.AddFunc(s.cfg.SSDPRescanSpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if added, err := s.scanner.Scan(ctx); err != nil {
				log.Printf("SSDP: rescan failed: %v", err)
			} else if added > 0 {
				log.Printf("SSDP: rescan found %d new players", added)
			}
		}); err != nil {
			log.Printf("SSDP: bad rescan cron spec %q: %v", s.cfg.SSDPRescanSpec, err)
		}
	}

	s.cron.AddFunc("@hourly", func() {
		if removed, err := s.stations.Prune(); err != nil {
			log.Printf("HUB: station cache prune failed: %v", err)
		} else if removed {
			log.Printf("HUB: pruned expired station cache")
		}
	})

	s.cron.AddFunc("@daily", func() {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.HistoryRetentionDays)
		if deleted, err := s.historyDB.Prune(cutoff); err != nil {
			log.Printf("HUB: history prune failed: %v", err)
		} else if deleted > 0 {
			log.Printf("HUB: pruned %d history rows", deleted)
		}
	})
}

func (s *Server) initialScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	added, err := s.scanner.Scan(ctx)
	if err != nil {
		log.Printf("SSDP: initial scan failed: %v", err)
		return
	}
	log.Printf("SSDP: initial scan found %d players", added)
}

// onPlayerFound attaches event subscriptions and primes the state cache for
// a newly discovered player.
func (s *Server) onPlayerFound(p *discovery.Player) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.subscribePlayer(ctx, p)
		if _, err := s.ctrl.UpdateState(ctx, p.ID); err != nil {
			log.Printf("UPNP: initial state poll failed for %s: %v", p.ID, err)
		}
	}()
}

var subscribedServices = []soap.Service{
	soap.ServiceAVTransport,
	soap.ServiceRenderingControl,
	soap.ServiceZoneGroupTopology,
}

// subscribePlayer subscribes the eventing services for a player. For a
// stereo pair the subscriptions target the pair primary; the secondary
// does not emit independent transport events.
func (s *Server) subscribePlayer(ctx context.Context, p *discovery.Player) {
	target := p
	if primaryID, ok := s.topo.PairPrimary(p.RoomName); ok && primaryID != p.ID {
		if primary, found := s.registry.ByID(primaryID); found {
			target = primary
		}
	}
	for _, svc := range subscribedServices {
		if _, err := s.sub.Subscribe(ctx, target.ID, target.BaseURL, string(svc), target.EventPath(svc)); err != nil {
			log.Printf("GENA: subscribe %s failed for %s: %v", svc, target.ID, err)
		}
	}
}

// routePairSubscriptions re-evaluates subscription targets after a
// topology change: pair secondaries are dropped, primaries subscribed.
func (s *Server) routePairSubscriptions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, p := range s.registry.All() {
		if primaryID, ok := s.topo.PairPrimary(p.RoomName); ok && primaryID != p.ID {
			s.sub.DropPlayer(p.ID)
			continue
		}
		s.subscribePlayer(ctx, p)
	}
}

// shutdown stops the subsystems in dependency order: no new scans, then no
// more inbound events, then the fan-out, then storage.
func (s *Server) shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.cron.Stop()
	if err := s.sub.Stop(ctx); err != nil {
		log.Printf("GENA: stop: %v", err)
	}
	s.notifier.Stop()
	s.journal.Stop()
	s.events.Close()
	return s.historyDB.Close()
}
