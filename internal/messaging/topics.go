package messaging

// Topic constants for the proxy messaging system
const (
	// Core dispatch workflow topics
	TopicDispatches = "pool.dispatches" // dispatchd → archiver
	TopicSolutions  = "pool.solutions"  // dispatchd → archiver, payout processor (HOT PATH)
	TopicAlerts     = "pool.alerts"     // dispatchd/workgen → admin sinks
)
