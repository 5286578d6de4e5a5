package services

import (
	"context"
	"fmt"
)

// reconcileLocked starts, stops and removes services until no further
// transition can be initiated. Callbacks are dispatched to goroutines, so
// each pass only changes bookkeeping.
func (r *Registry) reconcileLocked() {
	for {
		progressed := false
		demand := r.demandLocked()
		memo := make(map[Name]bool)

		for _, n := range r.sortedNamesLocked() {
			c, ok := r.controllers[n]
			if !ok {
				continue
			}
			want := r.shouldBeUpLocked(c, demand, memo, map[Name]bool{})

			switch c.state {
			case StateDown, StateStartFailed:
				if c.mode == ModeRemove && !r.hasActiveDependentsLocked(c) {
					r.dropLocked(c)
					progressed = true
					continue
				}
				if c.state == StateDown && c.restartPending {
					c.restartPending = false
					progressed = true
					continue
				}
				if c.state == StateDown && want && r.dependenciesUpLocked(c) {
					r.startLocked(c)
					progressed = true
				}
			case StateUp:
				if (!want || c.restartPending) && !r.hasActiveDependentsLocked(c) {
					r.stopLocked(c)
					progressed = true
				}
			case StateStarting:
				if !want && c.cancel != nil {
					c.cancel()
				}
			}
		}

		if !progressed {
			return
		}
	}
}

// demandLocked returns the ON_DEMAND services reachable from an ACTIVE one.
func (r *Registry) demandLocked() map[Name]bool {
	demand := make(map[Name]bool)
	var visit func(c *Controller)
	visit = func(c *Controller) {
		for _, d := range c.desc.Dependencies {
			dc, ok := r.controllers[d.Name]
			if !ok || dc.mode != ModeOnDemand || demand[d.Name] {
				continue
			}
			demand[d.Name] = true
			visit(dc)
		}
	}
	for _, c := range r.controllers {
		if c.mode == ModeActive {
			visit(c)
		}
	}
	return demand
}

func (r *Registry) wantsUpLocked(c *Controller, demand map[Name]bool) bool {
	if r.shuttingDown {
		return false
	}
	switch c.mode {
	case ModeActive:
		return true
	case ModeOnDemand:
		return demand[c.desc.Name]
	}
	return false
}

// shouldBeUpLocked reports whether the service should be running: it wants
// to be, it is not waiting on a restart, and every installed or required
// dependency should be running too.
func (r *Registry) shouldBeUpLocked(c *Controller, demand, memo, visiting map[Name]bool) bool {
	name := c.desc.Name
	if v, ok := memo[name]; ok {
		return v
	}
	if visiting[name] {
		return false
	}
	visiting[name] = true
	defer delete(visiting, name)

	result := c.state != StateStartFailed && !c.restartPending && r.wantsUpLocked(c, demand)
	if result {
		for _, d := range c.desc.Dependencies {
			dc, ok := r.controllers[d.Name]
			if !ok {
				if d.Optional {
					continue
				}
				result = false
				break
			}
			if !r.shouldBeUpLocked(dc, demand, memo, visiting) {
				result = false
				break
			}
		}
	}
	memo[name] = result
	return result
}

func (r *Registry) dependenciesUpLocked(c *Controller) bool {
	for _, d := range c.desc.Dependencies {
		dc, ok := r.controllers[d.Name]
		if !ok {
			if d.Optional {
				continue
			}
			return false
		}
		if dc.state != StateUp {
			return false
		}
	}
	return true
}

func (r *Registry) hasActiveDependentsLocked(c *Controller) bool {
	for _, other := range r.controllers {
		if other == c || !other.state.IsActive() {
			continue
		}
		if _, ok := other.dependsOn(c.desc.Name); ok {
			return true
		}
	}
	return false
}

func (r *Registry) dropLocked(c *Controller) {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	r.setStateLocked(c, StateRemoved, nil)
	delete(r.controllers, c.desc.Name)
	for _, rem := range c.removals {
		rem.record(c.desc.Name)
	}
	c.removals = nil
	r.logger.Debug().Str("service", c.desc.Name.String()).Msg("Service removed")
}

func (r *Registry) startLocked(c *Controller) {
	values := make(map[Name]any, len(c.desc.Dependencies))
	for _, d := range c.desc.Dependencies {
		if dc, ok := r.controllers[d.Name]; ok {
			values[d.Name] = dc.value
		}
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	c.cancel = cancel
	c.failure = nil
	r.setStateLocked(c, StateStarting, nil)

	r.wg.Add(1)
	go r.runStart(ctx, cancel, c, values)
}

func (r *Registry) runStart(ctx context.Context, cancel context.CancelFunc, c *Controller, values map[Name]any) {
	defer r.wg.Done()
	defer cancel()

	var value any
	var err error
	if ctx.Err() != nil {
		err = ctx.Err()
	} else {
		value, err = r.invokeStart(ctx, c, values)
	}
	aborted := err != nil && ctx.Err() != nil

	r.mu.Lock()
	c.cancel = nil
	switch {
	case aborted:
		uninjectAll(c)
		r.setStateLocked(c, StateDown, nil)
		r.logger.Debug().Str("service", c.desc.Name.String()).Msg("Service start aborted")
	case err != nil:
		uninjectAll(c)
		c.failure = err
		r.setStateLocked(c, StateStartFailed, err)
	default:
		c.value = value
		r.setStateLocked(c, StateUp, nil)
	}
	r.reconcileLocked()
	r.unlock()
}

func (r *Registry) invokeStart(ctx context.Context, c *Controller, values map[Name]any) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("start of %s panicked: %v", c.desc.Name, p)
		}
	}()

	for _, d := range c.desc.Dependencies {
		v, ok := values[d.Name]
		if !ok || d.Injector == nil {
			continue
		}
		if err := d.Injector.Inject(v); err != nil {
			return nil, fmt.Errorf("inject %s: %w", d.Name, err)
		}
	}
	if c.desc.Start == nil {
		return nil, nil
	}
	return c.desc.Start(&StartContext{Context: ctx, Name: c.desc.Name, values: values})
}

func (r *Registry) stopLocked(c *Controller) {
	value := c.value
	r.setStateLocked(c, StateStopping, nil)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		var err error
		if c.desc.Stop != nil {
			err = r.invokeStop(c, value)
		}

		r.mu.Lock()
		uninjectAll(c)
		c.value = nil
		c.restartPending = false
		r.setStateLocked(c, StateDown, err)
		r.reconcileLocked()
		r.unlock()
	}()
}

func (r *Registry) invokeStop(c *Controller, value any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stop of %s panicked: %v", c.desc.Name, p)
		}
	}()
	return c.desc.Stop(context.WithoutCancel(r.baseCtx), value)
}

func uninjectAll(c *Controller) {
	for _, d := range c.desc.Dependencies {
		if d.Injector != nil {
			d.Injector.Uninject()
		}
	}
}
