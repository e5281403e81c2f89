package credits

const (
	operationGrant  = "grant"
	operationSpend  = "spend"
	operationRefund = "refund"
	operationAdjust = "adjust"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	businessNoDelimiter    = ":"
	businessNoSuffixRefund = "refund"

	defaultHistoryPageSize = 10
	maxHistoryPageSize     = 100
)
