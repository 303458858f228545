package domain

// Stock bounds. A single adjustment moves at most MaxAdjustmentQuantity units
// and no product holds more than MaxStockLevel, which keeps stock inside a
// postgres INTEGER column.
const (
	MaxAdjustmentQuantity = 1_000_000
	MaxStockLevel         = 1_000_000_000
)

const (
	AdjustmentAddition         = "Addition"
	AdjustmentReturnToStock    = "Return to Stock"
	AdjustmentCorrectionAdd    = "Inventory Correction (Add)"
	AdjustmentRemoval          = "Removal"
	AdjustmentDamage           = "Damage"
	AdjustmentTheft            = "Theft"
	AdjustmentCorrectionRemove = "Inventory Correction (Remove)"
)

var adjustmentSigns = map[string]int{
	AdjustmentAddition:         1,
	AdjustmentReturnToStock:    1,
	AdjustmentCorrectionAdd:    1,
	AdjustmentRemoval:          -1,
	AdjustmentDamage:           -1,
	AdjustmentTheft:            -1,
	AdjustmentCorrectionRemove: -1,
}

// AdjustmentDelta turns an unsigned quantity into a signed stock change.
// ok is false for unknown adjustment types.
func AdjustmentDelta(adjustmentType string, quantity int) (delta int, ok bool) {
	sign, ok := adjustmentSigns[adjustmentType]
	if !ok {
		return 0, false
	}
	return sign * quantity, true
}
