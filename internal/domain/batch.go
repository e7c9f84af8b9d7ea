package domain

import "time"

type BatchEntry struct {
	SubscriptionID string `json:"subscription_id"`
	Kind           string `json:"kind"`
	Reason         string `json:"reason"`
}

// BatchSummary reports one fulfillment run. Per-subscription failures land in
// Failed instead of aborting the run.
type BatchSummary struct {
	RunDate         string       `json:"run_date"`
	Activated       int          `json:"activated"`
	Expired         int          `json:"expired"`
	Candidates      int          `json:"candidates"`
	Generated       int          `json:"generated"`
	GeneratedOrders []string     `json:"generated_orders"`
	Skipped         []BatchEntry `json:"skipped"`
	Failed          []BatchEntry `json:"failed"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}

func (b BatchSummary) HasFailures() bool {
	return len(b.Failed) > 0
}
