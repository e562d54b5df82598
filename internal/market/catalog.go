package market

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kjannette/trahn-sim/internal/ethereum"
	"github.com/kjannette/trahn-sim/internal/models"
)

// Catalog is the set of tradeable assets and their current reference
// prices in the ledger currency.
type Catalog struct {
	mu     sync.RWMutex
	order  []string
	assets map[string]models.Asset
}

func NewCatalog(assets []models.Asset) *Catalog {
	c := &Catalog{assets: make(map[string]models.Asset, len(assets))}
	for _, a := range assets {
		if a.ID == "" {
			a.ID = ethereum.AssetAddress(a.Symbol).Hex()
		}
		if _, dup := c.assets[a.ID]; !dup {
			c.order = append(c.order, a.ID)
		}
		c.assets[a.ID] = a
	}
	return c
}

// ParseAssets reads "SYMBOL:price,SYMBOL:price" into assets with derived ids.
func ParseAssets(list string) ([]models.Asset, error) {
	var out []models.Asset
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("asset %q: expected SYMBOL:price", part)
		}
		sym = strings.ToUpper(strings.TrimSpace(sym))
		price, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
		if err != nil || price <= 0 {
			return nil, fmt.Errorf("asset %q: invalid price %q", sym, priceStr)
		}
		out = append(out, models.Asset{
			ID:     ethereum.AssetAddress(sym).Hex(),
			Symbol: sym,
			Price:  price,
		})
	}
	return out, nil
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func (c *Catalog) Asset(id string) (models.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[id]
	return a, ok
}

func (c *Catalog) BySymbol(symbol string) (models.Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		if a := c.assets[id]; strings.EqualFold(a.Symbol, symbol) {
			return a, true
		}
	}
	return models.Asset{}, false
}

// At returns the i-th asset in configuration order.
func (c *Catalog) At(i int) models.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assets[c.order[i]]
}

// All returns the assets sorted by symbol.
func (c *Catalog) All() []models.Asset {
	c.mu.RLock()
	out := make([]models.Asset, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.assets[id])
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (c *Catalog) SetPrice(id string, price float64) bool {
	if price <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assets[id]
	if !ok {
		return false
	}
	a.Price = price
	c.assets[id] = a
	return true
}
