package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kjannette/trahn-sim/internal/ethereum"
	"github.com/kjannette/trahn-sim/internal/metrics"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/kjannette/trahn-sim/internal/randutil"
	"github.com/sirupsen/logrus"
)

var ErrNoAssets = errors.New("market: asset catalog is empty")

// Handler receives every event emitted while its user is subscribed.
type Handler func(ev *models.MarketEvent)

type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration

	// Event notional, in native coin units.
	MinValue float64
	MaxValue float64

	// Observed gas price, in gwei.
	MinGas float64
	MaxGas float64

	// Probability that an event is a swap rather than a plain transfer.
	SwapRatio float64
	// Share of non-swap events that are unclassifiable contract calls.
	UnknownRatio float64

	Native string
	// Ledger currency per native coin, used to size the non-native leg.
	NativePrice float64
}

func (c *Config) applyDefaults() {
	if c.MinDelay <= 0 {
		c.MinDelay = 5 * time.Second
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay + 10*time.Second
	}
	if c.MaxValue <= 0 {
		c.MinValue, c.MaxValue = 0.05, 5
	}
	if c.MaxGas <= 0 {
		c.MinGas, c.MaxGas = 0.5, 3
	}
	if c.SwapRatio <= 0 || c.SwapRatio > 1 {
		c.SwapRatio = 0.9
	}
	if c.UnknownRatio < 0 || c.UnknownRatio > 1 {
		c.UnknownRatio = 0
	}
	if c.Native == "" {
		c.Native = "ETH"
	}
	if c.NativePrice <= 0 {
		c.NativePrice = 1
	}
}

// Generator emits synthetic market events to every subscribed user. Its
// clock runs only while at least one user is subscribed.
type Generator struct {
	cfg     Config
	catalog *Catalog
	src     randutil.Source
	log     *logrus.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	running  bool
	stopCh   chan struct{}
	emitted  uint64
}

func NewGenerator(cfg Config, catalog *Catalog, src randutil.Source, log *logrus.Logger) (*Generator, error) {
	if catalog == nil || catalog.Len() == 0 {
		return nil, ErrNoAssets
	}
	cfg.applyDefaults()
	if src == nil {
		src = randutil.NewEntropy()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{
		cfg:      cfg,
		catalog:  catalog,
		src:      src,
		log:      log,
		handlers: make(map[string]Handler),
	}, nil
}

func (g *Generator) Config() Config { return g.cfg }

// Subscribe registers h for userID, replacing any previous handler, and
// starts a fresh schedule if the generator was idle.
func (g *Generator) Subscribe(userID string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.handlers[userID] = h
	metrics.Subscribers.Set(float64(len(g.handlers)))

	if g.running {
		return
	}
	g.running = true
	g.stopCh = make(chan struct{})
	go g.loop(g.stopCh)

	g.log.WithField("user", userID).Info("Event generator started")
}

// Unsubscribe removes userID. The clock stops when the last user leaves.
func (g *Generator) Unsubscribe(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.handlers[userID]; !ok {
		return
	}
	delete(g.handlers, userID)
	metrics.Subscribers.Set(float64(len(g.handlers)))

	if len(g.handlers) == 0 {
		g.stopLocked()
		g.log.Info("Event generator idle, no subscribers")
	}
}

// Stop drops every subscriber and halts the clock.
func (g *Generator) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = make(map[string]Handler)
	metrics.Subscribers.Set(0)
	g.stopLocked()
}

func (g *Generator) stopLocked() {
	if !g.running {
		return
	}
	close(g.stopCh)
	g.running = false
}

func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

func (g *Generator) Subscribed(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.handlers[userID]
	return ok
}

// Subscribers returns the subscribed user ids in sorted order.
func (g *Generator) Subscribers() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subscribersLocked()
}

func (g *Generator) subscribersLocked() []string {
	ids := make([]string, 0, len(g.handlers))
	for id := range g.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Generator) loop(stop <-chan struct{}) {
	for {
		delay := randutil.Duration(g.src, g.cfg.MinDelay, g.cfg.MaxDelay)
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		select {
		case <-stop:
			return
		default:
		}

		g.dispatch(g.Next())
	}
}

// dispatch delivers ev to each subscriber in turn. A user who unsubscribes
// while an earlier handler is running is skipped.
func (g *Generator) dispatch(ev *models.MarketEvent) {
	g.mu.Lock()
	ids := g.subscribersLocked()
	g.mu.Unlock()

	for _, id := range ids {
		g.mu.Lock()
		h, ok := g.handlers[id]
		g.mu.Unlock()
		if !ok {
			continue
		}
		g.deliver(id, h, ev)
	}
}

func (g *Generator) deliver(userID string, h Handler, ev *models.MarketEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.Inc()
			g.log.WithFields(logrus.Fields{
				"user":  userID,
				"event": ev.ID,
			}).Errorf("Event handler panicked: %v", r)
		}
	}()
	evCopy := *ev
	h(&evCopy)
}

// Next synthesizes one event: a coin-flip buy or sell of a random asset.
func (g *Generator) Next() *models.MarketEvent {
	now := time.Now()
	asset := g.catalog.At(randutil.Intn(g.src, g.catalog.Len()))
	value := randutil.Uniform(g.src, g.cfg.MinValue, g.cfg.MaxValue)
	gas := randutil.Uniform(g.src, g.cfg.MinGas, g.cfg.MaxGas)
	buy := randutil.Chance(g.src, 0.5)
	swap := randutil.Chance(g.src, g.cfg.SwapRatio)

	ev := &models.MarketEvent{
		ID:        ethereum.NewTxHash(now).Hex(),
		From:      ethereum.RandomAddress().Hex(),
		To:        ethereum.RandomAddress().Hex(),
		Value:     value,
		GasPrice:  gas,
		Timestamp: now,
		Native:    g.cfg.Native,
	}

	assetAmount := value * g.cfg.NativePrice / asset.Price
	switch {
	case !swap && g.cfg.UnknownRatio > 0 && randutil.Chance(g.src, g.cfg.UnknownRatio):
		ev.Kind = models.KindUnknown
		ev.SourceSymbol, ev.SourceAmount = g.cfg.Native, value
	case !swap:
		ev.Kind = models.KindTransfer
		ev.SourceSymbol, ev.DestSymbol = g.cfg.Native, g.cfg.Native
		ev.SourceAmount, ev.DestAmount = value, value
	case buy:
		ev.Kind = models.KindSwap
		ev.SourceSymbol, ev.SourceAmount = g.cfg.Native, value
		ev.DestSymbol, ev.DestAmount, ev.DestAsset = asset.Symbol, assetAmount, asset.ID
	default:
		ev.Kind = models.KindSwap
		ev.SourceSymbol, ev.SourceAmount, ev.SourceAsset = asset.Symbol, assetAmount, asset.ID
		ev.DestSymbol, ev.DestAmount = g.cfg.Native, value
	}

	g.mu.Lock()
	g.emitted++
	g.mu.Unlock()
	metrics.EventsGenerated.WithLabelValues(string(ev.Kind)).Inc()

	g.log.WithFields(logrus.Fields{
		"event": ethereum.ShortHex(ev.ID),
		"kind":  ev.Kind,
		"pair":  fmt.Sprintf("%s->%s", ev.SourceSymbol, ev.DestSymbol),
		"value": fmt.Sprintf("%.4f", ev.Value),
		"gas":   fmt.Sprintf("%.2f", ev.GasPrice),
	}).Debug("Market event")

	return ev
}

// Emitted counts events synthesized since construction.
func (g *Generator) Emitted() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.emitted
}
