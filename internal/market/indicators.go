package market

// SMA returns the simple moving average over the last period values, or 0
// when the series is too short.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// RSI computes an unsmoothed Relative Strength Index over the last period
// changes. Too little history yields 0, which callers treat as "no signal".
func RSI(values []float64, period int) float64 {
	if period <= 0 || len(values) < period+1 {
		return 0
	}

	gain := 0.0
	loss := 0.0
	for i := len(values) - period; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}

	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - (100 / (1 + rs))
}

// Series returns a copy of the stored observations for a symbol, oldest first.
func (t *MomentumTracker) Series(symbol string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]float64, len(t.obs[symbol]))
	copy(out, t.obs[symbol])
	return out
}
