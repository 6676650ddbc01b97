package settings

// DB config keys and defaults for runtime policy.
const (
	// AdmissionLimitKey is the number of admissions allowed per window and token.
	AdmissionLimitKey = "ADMISSION_LIMIT"
	// AdmissionWindowSecondsKey is the sliding admission window length.
	AdmissionWindowSecondsKey = "ADMISSION_WINDOW_SECONDS"
	// TokenTTLHoursKey is the lifetime of a freshly purchased token.
	TokenTTLHoursKey = "TOKEN_TTL_HOURS"
	// MaxBatchRequestsKey caps the number of JSONL lines in one submission.
	MaxBatchRequestsKey = "MAX_BATCH_REQUESTS"
	// MaxBatchSizeMBKey caps the payload size of one submission.
	MaxBatchSizeMBKey = "MAX_BATCH_SIZE_MB"
	// FinalCostPolicyKey selects how the terminal adjustment is computed.
	FinalCostPolicyKey = "FINAL_COST_POLICY"
	// ReconcileMaxAttemptsKey bounds provider status attempts per reconciliation.
	ReconcileMaxAttemptsKey = "RECONCILE_MAX_ATTEMPTS"
	// ReconcileIntervalSecondsKey is the background reconciliation cadence.
	ReconcileIntervalSecondsKey = "RECONCILE_INTERVAL_SECONDS"
	// ReconcileMaxConcurrencyKey bounds parallel background reconciliations.
	ReconcileMaxConcurrencyKey = "RECONCILE_MAX_CONCURRENCY"
	// TelemetryRetentionDaysKey is how long telemetry samples are kept; 0 keeps them forever.
	TelemetryRetentionDaysKey = "TELEMETRY_RETENTION_DAYS"

	DefaultAdmissionLimit           = 5
	DefaultAdmissionWindowSeconds   = 60
	DefaultTokenTTLHours            = 24
	DefaultMaxBatchRequests         = 50000
	DefaultMaxBatchSizeMB           = 100
	DefaultFinalCostPolicy          = "completed"
	DefaultReconcileMaxAttempts     = 4
	DefaultReconcileIntervalSeconds = 60
	DefaultReconcileMaxConcurrency  = 4
	DefaultTelemetryRetentionDays   = 30
)
