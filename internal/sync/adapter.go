package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pulseguard/backend/internal/config"
	"github.com/pulseguard/backend/internal/db/models"
	"github.com/pulseguard/backend/internal/utils"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the adapter's connection state, surfaced to the caller on every
// transition.
type State string

const (
	// StateConnecting means the adapter is dialing the feed endpoint.
	StateConnecting State = "connecting"
	// StateLive means events arrive over the websocket feed.
	StateLive State = "live"
	// StatePolling means the feed is down and the adapter falls back to
	// periodic REST polling.
	StatePolling State = "polling"
	// StateDisconnected is terminal: polling failed too many times in a
	// row and the adapter gave up.
	StateDisconnected State = "disconnected"
)

// Event is one frame from the live feed
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Snapshot is the result of one polling cycle
type Snapshot struct {
	Alerts   []models.Alert   `json:"alerts"`
	Readings []models.Reading `json:"readings"`
}

// EventHandler receives live feed events
type EventHandler func(event Event)

// SnapshotHandler receives polling results while degraded
type SnapshotHandler func(snapshot Snapshot)

// StateHandler receives connection state transitions
type StateHandler func(state State)

// Options configures the adapter
type Options struct {
	// BaseURL is the engine's HTTP root, e.g. https://host:8080.
	BaseURL string
	// Token is the bearer token used for both transports.
	Token string
	// PollInterval is the degraded-mode polling period. Default 5s.
	PollInterval time.Duration
	// MaxPollFailures bounds consecutive poll failures before the adapter
	// goes disconnected. Default 10.
	MaxPollFailures int
	Logger          *utils.Logger
}

// OptionsFromConfig seeds adapter options from the engine's sync section.
// BaseURL and Token still need to be filled by the caller.
func OptionsFromConfig(cfg *config.SyncConfig) Options {
	return Options{
		PollInterval:    cfg.PollInterval(),
		MaxPollFailures: cfg.MaxPollFailures,
	}
}

// Adapter keeps a consumer process in sync with the engine. It prefers the
// websocket feed and degrades to REST polling when the feed is
// unreachable, reporting every state change to the caller.
type Adapter struct {
	opts       Options
	logger     *utils.Logger
	httpClient *http.Client

	mu         sync.Mutex
	state      State
	onEvent    EventHandler
	onSnapshot SnapshotHandler
	onState    StateHandler

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdapter creates a sync adapter. Start must be called to begin.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = 10
	}
	if opts.Logger == nil {
		logger, err := utils.NewDefaultLogger()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		opts.Logger = logger
	}

	return &Adapter{
		opts:       opts,
		logger:     opts.Logger.Named("sync_adapter"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		state:      StateConnecting,
		done:       make(chan struct{}),
	}, nil
}

// OnEvent registers the live event handler
func (a *Adapter) OnEvent(handler EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEvent = handler
}

// OnSnapshot registers the polling snapshot handler
func (a *Adapter) OnSnapshot(handler SnapshotHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSnapshot = handler
}

// OnStateChange registers the state transition handler
func (a *Adapter) OnStateChange(handler StateHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onState = handler
}

// State returns the current connection state
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start launches the sync loop. The loop runs until Stop is called, the
// context is canceled, or the adapter goes disconnected.
func (a *Adapter) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go a.run(ctx)
}

// Stop terminates the sync loop and waits for it to exit
func (a *Adapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	<-a.done
}

func (a *Adapter) run(ctx context.Context) {
	defer close(a.done)

	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		a.setState(StateConnecting)

		conn, err := a.dial(ctx)
		if err == nil {
			backoff = time.Second
			a.setState(StateLive)
			a.readLoop(ctx, conn)
			if ctx.Err() != nil {
				return
			}
			// Feed dropped; fall through to degraded polling until the
			// next dial attempt.
		} else {
			a.logger.Warn("Feed dial failed", zap.Error(err))
		}

		if !a.pollUntil(ctx, backoff) {
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// dial connects to the websocket feed endpoint
func (a *Adapter) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := a.opts.BaseURL
	switch {
	case strings.HasPrefix(wsURL, "https"):
		wsURL = "wss" + wsURL[5:]
	case strings.HasPrefix(wsURL, "http"):
		wsURL = "ws" + wsURL[4:]
	}
	wsURL += "/api/v1/ws/feed"

	header := http.Header{}
	if a.opts.Token != "" {
		header.Add("Authorization", "Bearer "+a.opts.Token)
	}

	a.logger.Debug("Dialing feed", zap.String("url", wsURL))

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial feed: %w", err)
	}

	return conn, nil
}

// readLoop consumes feed frames until the connection drops. The hub may
// batch several frames into one message separated by newlines.
func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("Feed connection lost", zap.Error(err))
			}
			return
		}

		for _, frame := range strings.Split(string(message), "\n") {
			if frame == "" {
				continue
			}

			var event Event
			if err := json.Unmarshal([]byte(frame), &event); err != nil {
				a.logger.Warn("Malformed feed frame", zap.Error(err))
				continue
			}

			a.mu.Lock()
			handler := a.onEvent
			a.mu.Unlock()

			if handler != nil {
				handler(event)
			}
		}
	}
}

// pollUntil runs degraded polling for at least the reconnect backoff, then
// returns true so the caller retries the websocket. Returns false when the
// context is done or the consecutive-failure bound is exceeded.
func (a *Adapter) pollUntil(ctx context.Context, reconnectAfter time.Duration) bool {
	a.setState(StatePolling)

	failures := 0
	deadline := time.Now().Add(reconnectAfter)

	for {
		if ctx.Err() != nil {
			return false
		}

		snapshot, err := a.poll(ctx)
		if err != nil {
			failures++
			a.logger.Warn("Poll failed",
				zap.Int("consecutive_failures", failures),
				zap.Error(err))

			if failures >= a.opts.MaxPollFailures {
				a.logger.Error("Poll failure bound exceeded, giving up",
					zap.Int("failures", failures))
				a.setState(StateDisconnected)
				return false
			}
		} else {
			failures = 0

			a.mu.Lock()
			handler := a.onSnapshot
			a.mu.Unlock()

			if handler != nil {
				handler(*snapshot)
			}
		}

		if time.Now().After(deadline) {
			return true
		}

		// Jitter spreads reconnecting clients after an engine restart.
		interval := a.opts.PollInterval + time.Duration(rand.Int63n(int64(a.opts.PollInterval/5)+1))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// poll fetches the active alerts and recent readings in one cycle
func (a *Adapter) poll(ctx context.Context) (*Snapshot, error) {
	var snapshot Snapshot

	var alertsPage struct {
		Alerts []models.Alert `json:"alerts"`
	}
	if err := a.get(ctx, "/api/v1/alerts/active", &alertsPage); err != nil {
		return nil, err
	}
	snapshot.Alerts = alertsPage.Alerts

	var readingsPage struct {
		Readings []models.Reading `json:"readings"`
	}
	if err := a.get(ctx, "/api/v1/readings/recent", &readingsPage); err != nil {
		return nil, err
	}
	snapshot.Readings = readingsPage.Readings

	return &snapshot, nil
}

func (a *Adapter) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.opts.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if a.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.opts.Token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (a *Adapter) setState(state State) {
	a.mu.Lock()
	if a.state == state {
		a.mu.Unlock()
		return
	}
	a.state = state
	handler := a.onState
	a.mu.Unlock()

	a.logger.Info("Sync state changed", zap.String("state", string(state)))

	if handler != nil {
		handler(state)
	}
}
