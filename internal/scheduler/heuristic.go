package scheduler

// HeuristicConcurrency picks a concurrency ceiling from the number of CPU
// cores. It is a tuning knob only; any value >= 1 is correct.
func HeuristicConcurrency(cores int) int {
	switch {
	case cores >= 8:
		return 17
	case cores >= 4:
		return 12
	default:
		return 8
	}
}
