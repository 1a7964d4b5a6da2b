package gena

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventHandler receives the raw body of each NOTIFY delivered for a
// subscription. It runs on the player's worker goroutine after the NOTIFY
// has been acknowledged: bodies from one player arrive in NOTIFY order,
// and a slow handler never blocks the device.
type EventHandler func(playerID, service string, body []byte)

// Config controls the subscriber's listener and subscription requests.
type Config struct {
	// Port is the NOTIFY listener port. Zero picks an ephemeral port.
	Port int
	// LocalIP is the host used in callback URLs. Discovered when empty.
	LocalIP string
	// RequestTimeout bounds each SUBSCRIBE/UNSUBSCRIBE request.
	RequestTimeout time.Duration
	// SubscribeSecs is the TIMEOUT value requested from devices.
	SubscribeSecs int
}

type subscription struct {
	id        string
	playerID  string
	baseURL   string
	service   string
	eventPath string
	sid       string
	granted   int
	timer     *time.Timer
}

// Subscriber manages GENA event subscriptions against players. It runs its
// own HTTP listener for NOTIFY callbacks rather than sharing the API
// server's mux, so event delivery survives API reconfiguration.
type Subscriber struct {
	cfg     Config
	handler EventHandler
	client  *http.Client

	mu      sync.Mutex
	subs    map[string]*subscription
	queues  map[string]chan notifyDelivery
	stopped bool
	workers sync.WaitGroup

	listener net.Listener
	server   *http.Server
	localIP  string
	port     int
}

// NewSubscriber creates a subscriber delivering NOTIFY bodies to handler.
func NewSubscriber(cfg Config, handler EventHandler) *Subscriber {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.SubscribeSecs <= 0 {
		cfg.SubscribeSecs = 600
	}
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		subs:    make(map[string]*subscription),
		queues:  make(map[string]chan notifyDelivery),
	}
}

// Start binds the NOTIFY listener and begins serving callbacks.
func (s *Subscriber) Start() error {
	if s.cfg.LocalIP != "" {
		s.localIP = s.cfg.LocalIP
	} else {
		ip, err := discoverLocalIP()
		if err != nil {
			return fmt.Errorf("discover local IP: %w", err)
		}
		s.localIP = ip
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("notify listener: %w", err)
	}
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	// No ServeMux: it would clean the "//" inside escaped subscription ids.
	s.server = &http.Server{Handler: http.HandlerFunc(s.handleNotify)}
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("GENA: notify listener: %v", err)
		}
	}()

	log.Printf("GENA: listening for NOTIFY on %s:%d", s.localIP, s.port)
	return nil
}

// Port returns the bound NOTIFY listener port.
func (s *Subscriber) Port() int {
	return s.port
}

// SubscriptionID is the deterministic id of a subscription: the player base
// URL joined with the service name. The same pair always yields the same id,
// which makes Subscribe idempotent across rediscoveries.
func SubscriptionID(baseURL, service string) string {
	return baseURL + "/" + service
}

// Subscribe registers for events from one service on one player and returns
// the subscription id. Calling it again for the same player and service is a
// no-op returning the existing id.
func (s *Subscriber) Subscribe(ctx context.Context, playerID, baseURL, service, eventPath string) (string, error) {
	id := SubscriptionID(baseURL, service)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", fmt.Errorf("subscriber stopped")
	}
	if _, ok := s.subs[id]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	sid, granted, err := s.subscribe(ctx, baseURL, eventPath, s.callbackURL(id))
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", id, err)
	}

	s.mu.Lock()
	if _, ok := s.subs[id]; ok {
		// Lost a race with a concurrent Subscribe. Drop the duplicate
		// device-side subscription and keep the winner.
		s.mu.Unlock()
		s.sendUnsubscribe(context.Background(), baseURL, eventPath, sid)
		return id, nil
	}
	sub := &subscription{
		id:        id,
		playerID:  playerID,
		baseURL:   baseURL,
		service:   service,
		eventPath: eventPath,
		sid:       sid,
		granted:   granted,
	}
	s.subs[id] = sub
	s.scheduleRenewalLocked(sub)
	s.mu.Unlock()

	log.Printf("GENA: subscribed %s (SID %s, timeout %ds)", id, sid, granted)
	return id, nil
}

// Unsubscribe cancels a subscription. The device-side UNSUBSCRIBE is best
// effort; the local record is removed regardless.
func (s *Subscriber) Unsubscribe(ctx context.Context, id string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	if ok {
		if sub.timer != nil {
			sub.timer.Stop()
		}
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.sendUnsubscribe(ctx, sub.baseURL, sub.eventPath, sub.sid)
	log.Printf("GENA: unsubscribed %s", id)
}

// Active returns the ids of all live subscriptions, sorted.
func (s *Subscriber) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DropPlayer removes all subscriptions for one player without contacting
// it. Used when a player disappears from the network.
func (s *Subscriber) DropPlayer(playerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.playerID != playerID {
			continue
		}
		if sub.timer != nil {
			sub.timer.Stop()
		}
		delete(s.subs, id)
	}
}

// Stop unsubscribes everything and closes the NOTIFY listener. After Stop
// the subscriber accepts no new subscriptions.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if sub.timer != nil {
			sub.timer.Stop()
		}
		subs = append(subs, sub)
	}
	s.subs = make(map[string]*subscription)
	queues := s.queues
	s.queues = make(map[string]chan notifyDelivery)
	s.mu.Unlock()

	for _, sub := range subs {
		s.sendUnsubscribe(ctx, sub.baseURL, sub.eventPath, sub.sid)
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.server.Close()
		}
	}
	for _, q := range queues {
		close(q)
	}
	s.workers.Wait()
	log.Printf("GENA: subscriber stopped")
	return nil
}

func (s *Subscriber) callbackURL(id string) string {
	return fmt.Sprintf("http://%s:%d/notify/%s", s.localIP, s.port, url.PathEscape(id))
}

// handleNotify acknowledges every NOTIFY immediately and queues the body on
// the player's worker. Devices retry or drop subscriptions when the ack is
// slow, so nothing user-supplied runs before the 200.
func (s *Subscriber) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/" {
		// Port probe, answered so reachability checks see the listener.
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "OK\n")
		return
	}
	if r.Method != "NOTIFY" {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !strings.HasPrefix(r.URL.Path, "/notify/") {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/notify/")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	sub, ok := s.subs[id]
	s.mu.Unlock()

	// Unknown ids still get a 200 so a stale device stops retrying.
	w.WriteHeader(http.StatusOK)
	if !ok {
		log.Printf("GENA: NOTIFY for unknown subscription: %s", id)
		return
	}

	s.dispatch(sub.playerID, sub.service, body)
}

type notifyDelivery struct {
	playerID string
	service  string
	body     []byte
}

// notifyQueueDepth bounds the per-player backlog. A wedged handler sheds
// the oldest unprocessed window instead of stalling the listener.
const notifyQueueDepth = 64

// dispatch hands a NOTIFY body to the player's worker goroutine. One worker
// per player keeps bodies in arrival order across services; the send stays
// inside the lock so Stop never closes a queue mid-send.
func (s *Subscriber) dispatch(playerID, service string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	q, ok := s.queues[playerID]
	if !ok {
		q = make(chan notifyDelivery, notifyQueueDepth)
		s.queues[playerID] = q
		s.workers.Add(1)
		go s.drainNotifies(q)
	}
	select {
	case q <- notifyDelivery{playerID: playerID, service: service, body: body}:
	default:
		log.Printf("GENA: notify queue full for %s, dropping %s event", playerID, service)
	}
}

func (s *Subscriber) drainNotifies(q <-chan notifyDelivery) {
	defer s.workers.Done()
	for d := range q {
		s.handler(d.playerID, d.service, d.body)
	}
}

func (s *Subscriber) scheduleRenewalLocked(sub *subscription) {
	delay := time.Duration(sub.granted-30) * time.Second
	if delay < time.Second {
		delay = time.Second
	}
	sub.timer = time.AfterFunc(delay, func() { s.renew(sub.id) })
}

// renew refreshes a subscription 30 seconds before the granted timeout
// elapses. The refresh is a fresh SUBSCRIBE with the callback rather than a
// SID renewal, so a device that silently dropped the subscription accepts it
// the same way. On failure the subscription is removed; rediscovery
// re-subscribes when the player comes back.
func (s *Subscriber) renew(id string) {
	s.mu.Lock()
	sub, ok := s.subs[id]
	stopped := s.stopped
	s.mu.Unlock()
	if !ok || stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	sid, granted, err := s.subscribe(ctx, sub.baseURL, sub.eventPath, s.callbackURL(id))
	if err != nil {
		log.Printf("GENA: renewal failed for %s, dropping: %v", id, err)
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if cur, ok := s.subs[id]; ok {
		cur.sid = sid
		cur.granted = granted
		s.scheduleRenewalLocked(cur)
	}
	s.mu.Unlock()
}

func (s *Subscriber) subscribe(ctx context.Context, baseURL, eventPath, callback string) (sid string, granted int, err error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", baseURL+eventPath, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("CALLBACK", "<"+callback+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", s.cfg.SubscribeSecs))

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("subscribe failed: %s", resp.Status)
	}

	sid = resp.Header.Get("SID")
	if sid == "" {
		return "", 0, fmt.Errorf("no SID in response")
	}
	return sid, ParseTimeout(resp.Header.Get("TIMEOUT")), nil
}

func (s *Subscriber) sendUnsubscribe(ctx context.Context, baseURL, eventPath, sid string) {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", baseURL+eventPath, nil)
	if err != nil {
		return
	}
	req.Header.Set("SID", sid)

	resp, err := s.client.Do(req)
	if err != nil {
		// Device may already be offline.
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}

// discoverLocalIP finds the outbound interface address for callback URLs.
// The dial never sends a packet.
func discoverLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
