package ftpcore

// Clone produces a disconnected sibling session sharing this session's
// configuration. Higher layers use clones to run transfers in parallel
// without interleaving commands on one socket.
//
// The clone inherits the capability registry, the negotiated text
// encoding, and the passive/active fallback memos, so its Connect skips
// FEAT and goes straight to the data-channel mode that already worked.
// Its validation bus carries TrustedHostPolicy: the original session
// already accepted this host's certificate, and a sibling connection to
// the same host must not re-prompt.
//
// The clone owns its own socket and is disposed independently; the
// original retains no ownership. A data channel opened on a clone
// disposes the clone when the channel is closed.
func (s *Session) Clone() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := *s.cfg
	cfg.ActivePorts = append([]int(nil), s.cfg.ActivePorts...)

	clone := NewSession(&cfg)
	clone.isClone = true
	clone.feats = s.feats
	clone.enc = s.enc
	clone.encName = s.encName
	clone.system = s.system
	clone.epsvDisabled = s.epsvDisabled
	clone.eprtDisabled = s.eprtDisabled

	clone.bus.Clear()
	clone.bus.Subscribe(TrustedHostPolicy)

	s.logger.Debug("cloned session", "clone", clone.id[:8])
	return clone
}
