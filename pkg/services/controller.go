package services

// Controller is the registry's handle on an installed service.
type Controller struct {
	reg  *Registry
	desc Descriptor

	mode    Mode
	state   State
	value   any
	failure error

	// restartPending asks the reconciler to stop the service and start it
	// again once it is down.
	restartPending bool

	// restartRequired is set by MarkRestartRequired and consumed by
	// ApplyRestarts or Restart.
	restartRequired bool

	// cancel aborts an in-flight start.
	cancel func()

	removals []*Removal
}

// Name returns the service name.
func (c *Controller) Name() Name { return c.desc.Name }

// Description returns the descriptor's free-form description.
func (c *Controller) Description() string { return c.desc.Description }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.state
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.mode
}

// Value returns the live instance while the service is up.
func (c *Controller) Value() (any, bool) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.state != StateUp {
		return nil, false
	}
	return c.value, true
}

// Failure returns the error of the last failed start.
func (c *Controller) Failure() error {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.failure
}

// Dependencies returns the declared dependencies.
func (c *Controller) Dependencies() []Dependency {
	return append([]Dependency(nil), c.desc.Dependencies...)
}

// RestartRequired reports whether the service was flagged for restart.
func (c *Controller) RestartRequired() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.restartRequired
}

func (c *Controller) dependsOn(n Name) (Dependency, bool) {
	for _, d := range c.desc.Dependencies {
		if d.Name == n {
			return d, true
		}
	}
	return Dependency{}, false
}
