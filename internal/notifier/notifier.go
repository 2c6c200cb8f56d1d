package notifier

// TextNotifier is the minimal one-way notification surface. Components
// depend on it rather than on a concrete transport.
type TextNotifier interface {
	SendText(text string) error
}

// Noop discards all notifications, used when no channel is configured.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
