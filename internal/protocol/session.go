package protocol

import "sync"

// Session is the process-wide, single-entry handshake state described
// in spec.md §3. It is mutated only by initialize/initialized and read
// by every other dispatch.
type Session struct {
	mu          sync.RWMutex
	initialized bool
	clientName  string
	clientVer   string
}

// NewSession returns a fresh, un-initialized session.
func NewSession() *Session {
	return &Session{}
}

// Initialized reports whether the initialized notification has landed.
func (s *Session) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SetClientInfo records the client's handshake identity. Written once,
// at initialize; later calls simply overwrite, mirroring the reference
// behavior of a single-session process.
func (s *Session) SetClientInfo(name, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientName = name
	s.clientVer = version
}

// MarkInitialized flips the session flag set by the `initialized`
// notification.
func (s *Session) MarkInitialized() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
}

// ClientInfo returns the recorded client name/version.
func (s *Session) ClientInfo() (name, version string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientName, s.clientVer
}
