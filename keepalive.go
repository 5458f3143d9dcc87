package ftpcore

import "time"

// startKeepAliveLocked starts the NOOP loop if NoopInterval is set. The
// loop sends NOOP whenever the control connection has been idle for the
// configured interval, so servers do not drop the session during long
// pauses between operations. It stays silent while a data channel is
// open (the next control reply belongs to the transfer) and while the
// session is disconnected; a dead stream is left for the next Execute
// to rebuild.
func (s *Session) startKeepAliveLocked() {
	interval := s.cfg.NoopInterval
	if interval <= 0 || s.noopQuit != nil {
		return
	}

	quit := make(chan struct{})
	s.noopQuit = quit

	// Tick at half the interval so idleness is detected promptly.
	tick := interval / 2
	if tick <= 0 {
		tick = interval
	}
	ticker := time.NewTicker(tick)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if s.connected && s.conn != nil && s.openChannels == 0 &&
					time.Since(s.conn.lastActivity) >= interval {
					// Errors are ignored; the connection may be closing.
					_, _ = s.sendCommandLocked("NOOP")
				}
				s.mu.Unlock()
			case <-quit:
				return
			}
		}
	}()
}

// stopKeepAliveLocked stops the NOOP loop if it is running.
func (s *Session) stopKeepAliveLocked() {
	if s.noopQuit != nil {
		close(s.noopQuit)
		s.noopQuit = nil
	}
}
