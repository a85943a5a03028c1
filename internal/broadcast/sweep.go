package broadcast

import "time"

// Sweep disconnects connections idle past the idle timeout or whose socket
// already reports closed, then runs the OnSweep hook. It returns the number
// of connections removed.
func (e *Engine) Sweep() int {
	now := e.now()

	e.mu.RLock()
	var stale []string
	for id, c := range e.conns {
		if c.socket.Closed() || now.Sub(c.lastActivity) > e.idleTimeout {
			stale = append(stale, id)
		}
	}
	e.mu.RUnlock()

	for _, id := range stale {
		e.Disconnect(id)
	}
	if len(stale) > 0 {
		e.logger.Info("broadcast: swept stale connections", "count", len(stale))
	}
	if e.onSweep != nil {
		e.onSweep()
	}
	return len(stale)
}

// Start launches the background sweeper. Call Stop to shut it down.
func (e *Engine) Start() {
	if e.sweepStop != nil {
		return
	}
	e.sweepStop = make(chan struct{})
	e.sweepDone = make(chan struct{})
	go e.sweepLoop()
	e.logger.Info("broadcast: sweeper started",
		"interval", e.sweepInterval,
		"idle_timeout", e.idleTimeout)
}

// Stop shuts down the sweeper goroutine.
func (e *Engine) Stop() {
	if e.sweepStop != nil {
		close(e.sweepStop)
		<-e.sweepDone
		e.sweepStop = nil
		e.sweepDone = nil
	}
}

func (e *Engine) sweepLoop() {
	defer close(e.sweepDone)

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.sweepStop:
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}
