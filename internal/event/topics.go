package event

// Logical channel names. Payloads are always the envelope produced by
// Marshal.
const (
	TopicPaymentRequests      = "payment-requests"
	TopicPaymentResponses     = "payment-responses"
	TopicPaymentCompensations = "payment-compensations"
	TopicOrderStatus          = "order-status"

	// Dead-letter channels, one per guarded consumption point. Messages
	// placed here never re-enter the primary channels.
	TopicSagaOperationsDLQ   = "saga-operations-dlq"
	TopicPaymentResponsesDLQ = "payment-responses-dlq"
	TopicERPResponsesDLQ     = "erp-responses-dlq"
	TopicSagaStartDLQ        = "saga-start-dlq"
)
