package notify

// SetDesktop replaces the desktop notification hook.
func (n *Notifier) SetDesktop(fn func(title, msg string) error) {
	n.desktop = fn
}
