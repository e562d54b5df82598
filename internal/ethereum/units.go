package ethereum

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// GweiToWei converts a gwei amount to wei, truncating sub-wei precision.
func GweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return new(big.Int)
	}
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(params.GWei))
	i, _ := f.Int(nil)
	return i
}

// EtherToWei converts a native coin amount to wei.
func EtherToWei(eth float64) *big.Int {
	if eth <= 0 {
		return new(big.Int)
	}
	f := new(big.Float).Mul(big.NewFloat(eth), big.NewFloat(params.Ether))
	i, _ := f.Int(nil)
	return i
}

// WeiToEther converts wei back to a float native coin amount.
func WeiToEther(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether)).Float64()
	return f
}

// GasCost is gasUnits * gasPrice in wei.
func GasCost(gasUnits uint64, gasPriceWei *big.Int) *big.Int {
	return new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasUnits))
}
