package payroll

const (
	StatusCalculated = "calculated"
	StatusError      = "error"

	ErrorCodeInvalidConfiguration = "invalid_configuration"
	ErrorCodeInvalidInput         = "invalid_input"

	RunStatusProcessing = "processing"
	RunStatusCompleted  = "completed"
	RunStatusApproved   = "approved"
	RunStatusRejected   = "rejected"
	RunStatusFailed     = "failed"

	JobCalculateRun = "payroll_run"

	WarningMissingBank = "missing_bank_account"
	WarningNegativeNet = "negative_net"
	WarningNetVariance = "net_variance"

	ExportFormatCSV  = "csv"
	ExportFormatXLSX = "xlsx"

	// net change versus the last approved run that raises a warning
	netVarianceThreshold = 0.5
)
