package services

import (
	"time"

	"github.com/mbocsi/devlink/link"
)

const DefaultQueryTimeout = 5 * time.Second

// NewServiceContainer wires every service to one coordinator
func NewServiceContainer(c *link.Coordinator) *ServiceContainer {
	return &ServiceContainer{
		Transport: NewTransportService(c),
		Device:    NewDeviceService(c, NewQueryTracker(c, DefaultQueryTimeout)),
	}
}
