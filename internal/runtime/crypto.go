package runtime

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// cryptoState holds the context's entropy-derived instance nonce. The nonce
// distinguishes restarts of the same daemon in logs and on the wire.
type cryptoState struct {
	mu     sync.Mutex
	seeded bool
	nonce  [16]byte
}

func (s *cryptoState) init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return nil
	}
	if _, err := rand.Read(s.nonce[:]); err != nil {
		return fmt.Errorf("seed instance nonce: %w", err)
	}
	s.seeded = true
	return nil
}

func (s *cryptoState) shutdown() {
	s.mu.Lock()
	for i := range s.nonce {
		s.nonce[i] = 0
	}
	s.seeded = false
	s.mu.Unlock()
}

func (s *cryptoState) hexNonce() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeded {
		return ""
	}
	return hex.EncodeToString(s.nonce[:])
}

// Nonce returns the hex instance nonce, or empty before Finish.
func (c *Context) Nonce() string {
	return c.crypto.hexNonce()
}
