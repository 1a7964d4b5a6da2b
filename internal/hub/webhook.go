package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"
)

// Webhook is one outbound event target.
type Webhook struct {
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Types   []Type            `yaml:"types,omitempty" json:"types,omitempty"`
}

// WebhookNotifier POSTs events to configured webhooks. Each webhook gets
// its own hub subscription and goroutine, so one slow endpoint only loses
// its own events.
type WebhookNotifier struct {
	hub    *Hub
	client *http.Client

	mu   sync.Mutex
	subs []string
	wg   sync.WaitGroup
}

func NewWebhookNotifier(h *Hub, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		hub:    h,
		client: &http.Client{Timeout: timeout},
	}
}

// Start attaches one subscription per webhook and begins delivering.
func (n *WebhookNotifier) Start(webhooks []Webhook) {
	for _, wh := range webhooks {
		id, ch := n.hub.Subscribe(128, wh.Types...)
		n.mu.Lock()
		n.subs = append(n.subs, id)
		n.mu.Unlock()

		n.wg.Add(1)
		go n.deliver(wh, ch)
		log.Printf("HUB: webhook registered: %s", wh.URL)
	}
}

// Stop detaches all webhook subscriptions and waits for in-flight posts.
func (n *WebhookNotifier) Stop() {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()
	for _, id := range subs {
		n.hub.Unsubscribe(id)
	}
	n.wg.Wait()
}

func (n *WebhookNotifier) deliver(wh Webhook, ch <-chan Event) {
	defer n.wg.Done()
	for evt := range ch {
		n.post(wh, evt)
	}
}

func (n *WebhookNotifier) post(wh Webhook, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wh.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("HUB: webhook %s: %v", wh.URL, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("HUB: webhook %s: %s", wh.URL, resp.Status)
	}
}
