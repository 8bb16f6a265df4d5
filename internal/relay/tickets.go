package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberpanel/emberpanel/internal/console"
)

// DefaultTicketTTL is how long an issued ticket stays redeemable.
const DefaultTicketTTL = 30 * time.Second

// Ticket redemption failures. All of them refuse the websocket upgrade.
var (
	ErrTicketUnknown = errors.New("unknown or already used ticket")
	ErrTicketExpired = errors.New("ticket expired")
	ErrTicketScope   = errors.New("ticket scope mismatch")
)

type issuedTicket struct {
	scope   console.TicketScope
	expires time.Time
}

// TicketStore issues and redeems single-use connection tickets. A ticket
// is deleted on its first redemption attempt, successful or not, so a
// replayed value can never open a second socket.
type TicketStore struct {
	ttl time.Duration

	mu      sync.Mutex
	tickets map[string]issuedTicket
	now     func() time.Time
}

// NewTicketStore creates a store issuing tickets valid for ttl.
// ttl <= 0 uses DefaultTicketTTL.
func NewTicketStore(ttl time.Duration) *TicketStore {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &TicketStore{
		ttl:     ttl,
		tickets: make(map[string]issuedTicket),
		now:     time.Now,
	}
}

// Issue mints a ticket bound to the scope.
func (s *TicketStore) Issue(scope console.TicketScope) string {
	value := uuid.NewString()
	s.mu.Lock()
	s.tickets[value] = issuedTicket{scope: scope, expires: s.now().Add(s.ttl)}
	s.sweepLocked()
	s.mu.Unlock()
	return value
}

// Redeem consumes the ticket. It succeeds at most once per issued value
// and only for the scope the ticket was bound to.
func (s *TicketStore) Redeem(value string, scope console.TicketScope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[value]
	if !ok {
		return ErrTicketUnknown
	}
	delete(s.tickets, value)

	if s.now().After(t.expires) {
		return ErrTicketExpired
	}
	if t.scope != scope {
		return ErrTicketScope
	}
	return nil
}

// sweepLocked drops expired tickets so abandoned issuances don't pile up.
func (s *TicketStore) sweepLocked() {
	now := s.now()
	for v, t := range s.tickets {
		if now.After(t.expires) {
			delete(s.tickets, v)
		}
	}
}
