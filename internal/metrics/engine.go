package metrics

// EngineMetrics holds the check engine's metrics.
type EngineMetrics struct {
	Registry *Registry

	// ChecksTotal counts completed check attempts, successful or not.
	ChecksTotal *Counter

	// CheckFailuresTotal counts terminally failed checks.
	CheckFailuresTotal *Counter

	// RetriesTotal counts transient failures that were slept through and
	// retried.
	RetriesTotal *Counter

	// SelfCheckFailuresTotal counts recorded self-check failures, one per
	// escalation step.
	SelfCheckFailuresTotal *Counter

	// SelfCheckState mirrors the persisted self-check state's raw value;
	// zero means no state is recorded.
	SelfCheckState *Gauge

	// EnrolledAccounts is the number of accounts with a verification blob.
	EnrolledAccounts *Gauge

	// CheckDuration observes wall time per completed check, retries
	// included.
	CheckDuration *Histogram
}

// NewEngineMetrics registers the check engine's metrics on a fresh registry.
func NewEngineMetrics() *EngineMetrics {
	r := NewRegistry("transparencyd")
	return &EngineMetrics{
		Registry: r,
		ChecksTotal: r.Counter("checks_total",
			"Completed transparency check attempts."),
		CheckFailuresTotal: r.Counter("check_failures_total",
			"Transparency checks that failed terminally."),
		RetriesTotal: r.Counter("check_retries_total",
			"Transient check failures that were retried."),
		SelfCheckFailuresTotal: r.Counter("self_check_failures_total",
			"Recorded self-check failures."),
		SelfCheckState: r.Gauge("self_check_state",
			"Raw persisted self-check state; 0 when absent."),
		EnrolledAccounts: r.Gauge("enrolled_accounts",
			"Accounts with stored verification data."),
		CheckDuration: r.Histogram("check_duration_seconds",
			"Wall time per completed check, retries included.", DurationBuckets),
	}
}
