package strategy

// PercentChange returns (new-old)/old*100.
//
// A zero baseline yields 0: it satisfies neither a negative
// price_change_below nor a positive price_change_above, so no order is ever
// triggered against a missing baseline.
func PercentChange(old, new float64) float64 {
	if old == 0 {
		return 0
	}
	return (new - old) / old * 100
}
