package lending

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PriceOracle is the capability the ledger consumes: one price read per
// asset per operation. Implementations wrap a live feed or return fixed
// values for testing; the ledger treats the reading as untrusted input and
// only checks staleness here.
type PriceOracle interface {
	// GetPrice returns the current quote for asset. It fails with
	// ErrUnknownAsset if the feed has never published the asset and with
	// ErrStalePrice if the newest quote is older than maxAge.
	GetPrice(asset AssetID, maxAge time.Duration) (PriceQuote, error)
}

// StaticOracle serves quotes set by hand. It backs tests and dev mode, and
// doubles as the cache layer in front of a feed subscription.
type StaticOracle struct {
	quotes map[AssetID]PriceQuote
	now    func() time.Time
	mu     sync.RWMutex
}

// NewStaticOracle creates an empty static oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		quotes: make(map[AssetID]PriceQuote),
		now:    time.Now,
	}
}

// SetPrice publishes a quote timestamped now with full confidence.
func (o *StaticOracle) SetPrice(asset AssetID, price decimal.Decimal) {
	o.SetQuote(PriceQuote{
		Asset:      asset,
		Price:      price,
		Confidence: one,
		Timestamp:  o.clock()(),
	})
}

// SetQuote publishes a complete quote, timestamp included.
func (o *StaticOracle) SetQuote(q PriceQuote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[q.Asset] = q
}

// SetClock overrides the time source used for quote timestamps and staleness
// checks.
func (o *StaticOracle) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

func (o *StaticOracle) clock() func() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.now
}

// GetPrice implements PriceOracle.
func (o *StaticOracle) GetPrice(asset AssetID, maxAge time.Duration) (PriceQuote, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	q, ok := o.quotes[asset]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	if maxAge > 0 && o.now().Sub(q.Timestamp) > maxAge {
		return PriceQuote{}, fmt.Errorf("%w: %s quote is %s old", ErrStalePrice, asset, o.now().Sub(q.Timestamp))
	}
	return q, nil
}
