package events

// Topic constants for cart lifecycle events.
const (
	TopicCartPlaced    = "cart.placed"
	TopicCartFulfilled = "cart.fulfilled"
	TopicCartReopened  = "cart.reopened"
	TopicCartAbandoned = "cart.abandoned"
)

// DefaultTopics returns the canonical list of cart lifecycle topics.
func DefaultTopics() []string {
	return []string{
		TopicCartPlaced,
		TopicCartFulfilled,
		TopicCartReopened,
		TopicCartAbandoned,
	}
}
