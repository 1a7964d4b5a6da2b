package discovery

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/mboyle/zonehub/internal/didl"
)

// Config tunes a scan pass.
type Config struct {
	Passes       int
	PassInterval time.Duration
	ResponseWait time.Duration
	ProbeTimeout time.Duration
	// StaticIPs are probed directly when SSDP does not find them. Useful
	// on networks that filter multicast.
	StaticIPs []string
}

// Scanner discovers players and feeds the registry. A scan is SSDP
// multicast first, then direct probes of configured static IPs that did not
// answer.
type Scanner struct {
	cfg        Config
	registry   *Registry
	httpClient *http.Client
	onFound    func(*Player)
	now        func() time.Time
}

// NewScanner creates a scanner. onFound runs once per newly seen UUID; it
// is where event subscriptions get attached.
func NewScanner(cfg Config, registry *Registry, onFound func(*Player)) *Scanner {
	if cfg.Passes <= 0 {
		cfg.Passes = 3
	}
	if cfg.PassInterval <= 0 {
		cfg.PassInterval = time.Second
	}
	if cfg.ResponseWait <= 0 {
		cfg.ResponseWait = 3 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Scanner{
		cfg:      cfg,
		registry: registry,
		httpClient: &http.Client{
			Timeout: cfg.ProbeTimeout,
			Transport: &http.Transport{
				DialContext:     (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		onFound: onFound,
		now:     time.Now,
	}
}

// Scan runs one discovery pass and returns the number of newly registered
// players. SSDP failures are not fatal when static IPs are configured.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	responses, err := search(ctx, s.cfg.Passes, s.cfg.PassInterval, s.cfg.ResponseWait)
	if err != nil && len(responses) == 0 && len(s.cfg.StaticIPs) == 0 {
		return 0, fmt.Errorf("ssdp search: %w", err)
	}
	if err != nil {
		log.Printf("SSDP: search error, continuing with %d responses: %v", len(responses), err)
	}

	added := 0
	seenHosts := make(map[string]struct{})
	for _, resp := range responses {
		host := hostOf(resp.Location)
		if host == "" {
			continue
		}
		seenHosts[host] = struct{}{}
		if _, isNew, err := s.Adopt(ctx, resp.Location); err != nil {
			log.Printf("SSDP: probe failed for %s: %v", resp.Location, err)
		} else if isNew {
			added++
		}
	}

	for _, ip := range s.cfg.StaticIPs {
		if _, ok := seenHosts[ip]; ok {
			continue
		}
		location := "http://" + ip + ":1400/xml/device_description.xml"
		if _, isNew, err := s.Adopt(ctx, location); err != nil {
			log.Printf("SSDP: static probe failed for %s: %v", ip, err)
		} else if isNew {
			added++
		}
	}

	log.Printf("SSDP: scan complete, %d players known (%d new)", s.registry.Len(), added)
	return added, nil
}

// Adopt fetches one device description and registers the player. It returns
// the player and whether the UUID was new to the registry.
func (s *Scanner) Adopt(ctx context.Context, location string) (*Player, bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, location, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("device description: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}

	desc, err := didl.ParseDeviceDescription(body)
	if err != nil {
		return nil, false, err
	}
	if desc.UDN == "" {
		return nil, false, fmt.Errorf("device description has no UDN")
	}

	base, err := baseOf(location)
	if err != nil {
		return nil, false, err
	}

	player := &Player{
		ID:          desc.UDN,
		RoomName:    desc.RoomName,
		ModelName:   desc.ModelName,
		ModelNumber: desc.ModelNumber,
		BaseURL:     base,
		Location:    location,
		Services:    desc.Services,
		LastSeenAt:  s.now(),
	}

	isNew := s.registry.Upsert(player)
	if isNew {
		log.Printf("SSDP: found %s (%s) at %s", player.RoomName, player.ID, player.BaseURL)
		if s.onFound != nil {
			s.onFound(player)
		}
	}
	return player, isNew, nil
}

func hostOf(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func baseOf(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("bad location %q", location)
	}
	return u.Scheme + "://" + u.Host, nil
}
