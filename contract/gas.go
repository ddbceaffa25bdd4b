package contract

// Gas schedule. Costs are fixed so estimation against committed state matches
// execution unless the state changed in between.
const (
	GasTxBase       uint64 = 21000
	GasPerByte      uint64 = 16
	GasNewProduct   uint64 = 40000
	GasIndexWrite   uint64 = 20000
	GasHistoryWrite uint64 = 20000
	GasOwnerUpdate  uint64 = 5000
)

// GasMarginPercent is added on top of an estimate before submission
const GasMarginPercent = 20

// IntrinsicGas is what a tx costs before touching state
func IntrinsicGas(txBytes int) uint64 {
	return GasTxBase + uint64(txBytes)*GasPerByte
}

// WithMargin applies GasMarginPercent, rounding down
func WithMargin(estimate uint64) uint64 {
	return estimate + estimate*GasMarginPercent/100
}
