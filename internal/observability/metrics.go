package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MProcessorRequests       MetricKey = "processor_requests_total"
	MProcessorRequestLatency MetricKey = "processor_request_duration_seconds"
	MPayoutEvents            MetricKey = "payout_events_total"
	MPoisonMessages          MetricKey = "poison_messages_total"
	MEventPublishFailures    MetricKey = "event_publish_failed_total"
	MDeadLetteredEvents      MetricKey = "dead_lettered_events_total"
)
