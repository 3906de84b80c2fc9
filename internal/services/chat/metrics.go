package chat

// Metrics - счётчики ядра чата. Реализация на prometheus лежит в internal/metrics.
type Metrics interface {
	MessageSent(channel string)
	DeliveryAdvanced(channel, status string)
	MergedPublished(channel string)
	StreamOpened(channel string)
	StreamClosed(channel string)
}

type nopMetrics struct{}

func (nopMetrics) MessageSent(string)              {}
func (nopMetrics) DeliveryAdvanced(string, string) {}
func (nopMetrics) MergedPublished(string)          {}
func (nopMetrics) StreamOpened(string)             {}
func (nopMetrics) StreamClosed(string)             {}
