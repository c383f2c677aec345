package transport

import "context"

// Noop is the transport of an empty selection. It never connects.
type Noop struct {
	*Lifecycle
}

func NewNoop() *Noop {
	return &Noop{Lifecycle: NewLifecycle(NameNone)}
}

func (n *Noop) Init(ctx context.Context) error    { return n.Initialized() }
func (n *Noop) Connect(ctx context.Context) error { return nil }
func (n *Noop) Disconnect() error                 { n.Stop(); return nil }
func (n *Noop) Dispose() error                    { n.Lifecycle.Dispose(); return nil }
func (n *Noop) Write(p []byte) (int, error)       { return 0, ErrNotConnected }
