package services

import (
	"context"

	"github.com/mbocsi/devlink/link"
)

// TransportServiceImpl implements TransportService
type TransportServiceImpl struct {
	link *link.Coordinator
}

func NewTransportService(c *link.Coordinator) TransportService {
	return &TransportServiceImpl{link: c}
}

// ListTransports returns every registered transport, marking the selected one
func (ts *TransportServiceImpl) ListTransports() ([]TransportInfo, error) {
	selected := ts.link.Selection().Get()
	names := ts.link.Transports()
	result := make([]TransportInfo, 0, len(names))
	for _, name := range names {
		result = append(result, TransportInfo{Name: name, Selected: name == selected})
	}
	return result, nil
}

func (ts *TransportServiceImpl) Select(ctx context.Context, name string) error {
	return mapError(ts.link.Select(ctx, name))
}

func (ts *TransportServiceImpl) Disconnect(ctx context.Context) error {
	return mapError(ts.link.Disconnect(ctx))
}

func (ts *TransportServiceImpl) Status() link.Status {
	return ts.link.Status()
}
