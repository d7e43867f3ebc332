package model

import "fmt"

type Status string

const (
	StatusPending         Status = "pending"
	StatusInProgress      Status = "in_progress"
	StatusSucceeded       Status = "succeeded"
	StatusFailedRetryable Status = "failed_retryable"
	StatusFailedPermanent Status = "failed_permanent"
)

var allowedTransitions = map[Status]map[Status]bool{
	"": {
		StatusPending: true,
	},
	StatusPending: {
		StatusPending:    true,
		StatusInProgress: true,
	},
	StatusInProgress: {
		StatusSucceeded:       true,
		StatusFailedRetryable: true,
		StatusFailedPermanent: true,
		StatusPending:         true, // interrupted run, rewound on load
	},
	StatusSucceeded: {
		StatusSucceeded: true,
	},
	StatusFailedRetryable: {
		StatusFailedRetryable: true,
		StatusPending:         true, // requeue
	},
	StatusFailedPermanent: {
		StatusFailedPermanent: true,
	},
}

func IsKnownStatus(status Status) bool {
	if status == "" {
		return false
	}
	_, ok := allowedTransitions[status]
	return ok
}

// IsTerminal reports whether no further processing will happen for the status.
func IsTerminal(status Status) bool {
	return status == StatusSucceeded || status == StatusFailedPermanent
}

// IsRunnable reports whether a session resume should schedule an item in this status.
func IsRunnable(status Status) bool {
	return status == StatusPending || status == StatusFailedRetryable
}

func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

func TransitionItem(item *Item, to Status, detail string) error {
	from := item.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid item status transition: %q -> %q (item=%s)", from, to, item.ID)
	}
	item.Status = to
	item.Detail = detail
	return nil
}
