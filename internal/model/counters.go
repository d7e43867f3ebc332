package model

// Counters are always derived from the item table, never mutated on their own.
type Counters struct {
	Total           int `json:"total_items"`
	Pending         int `json:"pending"`
	InProgress      int `json:"in_progress"`
	Succeeded       int `json:"succeeded"`
	FailedRetryable int `json:"failed_retryable"`
	FailedPermanent int `json:"failed_permanent"`
}

func RecomputeCounters(items []Item) Counters {
	c := Counters{Total: len(items)}
	for _, it := range items {
		c.add(it.Status)
	}
	return c
}

func (c *Counters) add(status Status) {
	switch status {
	case StatusPending:
		c.Pending++
	case StatusInProgress:
		c.InProgress++
	case StatusSucceeded:
		c.Succeeded++
	case StatusFailedRetryable:
		c.FailedRetryable++
	case StatusFailedPermanent:
		c.FailedPermanent++
	}
}

// Sum returns the number of items accounted for by the per-status counters.
func (c Counters) Sum() int {
	return c.Pending + c.InProgress + c.Succeeded + c.FailedRetryable + c.FailedPermanent
}

// Done reports whether every item reached a status no worker will pick up again.
func (c Counters) Done() int {
	return c.Succeeded + c.FailedPermanent + c.FailedRetryable
}
