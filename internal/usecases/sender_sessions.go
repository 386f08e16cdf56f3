package usecases

import "sync"

// senderSessions serializes handling per sender so replies to one customer go
// out in the order their messages arrived. Different senders never wait on
// each other.
type senderSessions struct {
	mu       sync.Mutex
	sessions map[string]*senderSession
}

type senderSession struct {
	mu      sync.Mutex
	holders int
}

func newSenderSessions() *senderSessions {
	return &senderSessions{sessions: make(map[string]*senderSession)}
}

// acquire blocks until sender is free and returns the release func. The
// session is dropped once nobody holds or waits on it.
func (s *senderSessions) acquire(sender string) func() {
	s.mu.Lock()
	session, ok := s.sessions[sender]
	if !ok {
		session = &senderSession{}
		s.sessions[sender] = session
	}
	session.holders++
	s.mu.Unlock()

	session.mu.Lock()
	return func() {
		session.mu.Unlock()

		s.mu.Lock()
		session.holders--
		if session.holders == 0 {
			delete(s.sessions, sender)
		}
		s.mu.Unlock()
	}
}
