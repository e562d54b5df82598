package costs

import (
	"github.com/kjannette/trahn-sim/internal/ethereum"
	"github.com/kjannette/trahn-sim/internal/randutil"
)

// Rates converts native coin amounts into the ledger currency in two
// stages: native -> reference (USD) -> ledger.
type Rates struct {
	NativeToReference float64
	ReferenceToLedger float64
}

func (r Rates) ToReference(native float64) float64 {
	return native * r.NativeToReference
}

func (r Rates) ToLedger(native float64) float64 {
	return r.ToReference(native) * r.ReferenceToLedger
}

// NativePrice is one native coin expressed in the ledger currency.
func (r Rates) NativePrice() float64 {
	return r.ToLedger(1)
}

// FromLedger converts a ledger currency amount back to native units.
func (r Rates) FromLedger(amount float64) float64 {
	p := r.NativePrice()
	if p == 0 {
		return 0
	}
	return amount / p
}

// ComputeFee is gasUnits * gasPrice, returned in native coin.
func ComputeFee(gasUnits uint64, gasPriceGwei float64) float64 {
	return ethereum.WeiToEther(ethereum.GasCost(gasUnits, ethereum.GweiToWei(gasPriceGwei)))
}

// PriorityFee prices the tip paid above the observed gas price.
func PriorityFee(gasUnits uint64, tipGwei float64) float64 {
	return ComputeFee(gasUnits, tipGwei)
}

// ApplySlippage reduces notional linearly by fraction.
func ApplySlippage(notional, fraction float64) float64 {
	return notional * (1 - fraction)
}

// PlatformFee charges bps basis points on notional.
func PlatformFee(notional, bps float64) float64 {
	if bps <= 0 || notional <= 0 {
		return 0
	}
	return notional * bps / 10_000
}

// ImpactRange returns the price impact band, in bps, for a trade of
// sizeNative native units. Larger trades move the pool more.
func ImpactRange(sizeNative float64) (lo, hi float64) {
	switch {
	case sizeNative < 0.1:
		return 1, 5
	case sizeNative < 0.5:
		return 5, 15
	case sizeNative < 1:
		return 15, 30
	case sizeNative < 5:
		return 30, 60
	default:
		return 60, 100
	}
}

// PriceImpact draws a bps value inside the tier for sizeNative.
func PriceImpact(src randutil.Source, sizeNative float64) float64 {
	lo, hi := ImpactRange(sizeNative)
	return randutil.Uniform(src, lo, hi)
}

// Breakdown is a fee estimate in the ledger currency.
type Breakdown struct {
	NetworkFee  float64 `json:"networkFee"`
	PriorityFee float64 `json:"priorityFee"`
	PlatformFee float64 `json:"platformFee"`
	Total       float64 `json:"total"`
}

// Quote describes one trade for Estimate.
type Quote struct {
	GasUnits       uint64
	GasPriceGwei   float64
	TipGwei        float64
	Notional       float64
	PlatformFeeBps float64
}

// Estimate prices the network fee at the observed gas price, the tip on
// top of it, and the platform fee on notional.
func Estimate(q Quote, rates Rates) Breakdown {
	b := Breakdown{
		NetworkFee:  rates.ToLedger(ComputeFee(q.GasUnits, q.GasPriceGwei)),
		PriorityFee: rates.ToLedger(PriorityFee(q.GasUnits, q.TipGwei)),
		PlatformFee: PlatformFee(q.Notional, q.PlatformFeeBps),
	}
	b.Total = b.NetworkFee + b.PriorityFee + b.PlatformFee
	return b
}
