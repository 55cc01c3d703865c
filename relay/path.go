package relay

import (
	"log"
	"sync"
)

// Path is one slot table per initiator key: slot 0x01 for the
// initiator, slots 0x02-0xfe for responders. It enforces slot
// assignment and eviction.
//
// Invariant: a Client referenced by a Path is always Authenticated or
// Dropped; a Restricted Client is never installed. Invariant: slot 0x01
// is unique. A Path owns weak references to its Clients: a Client can
// be removed from a Path without forcing connection teardown, and a
// Client's own close teardown must remove itself from its Path.
type Path struct {
	ID  PathId
	log *log.Logger

	mu         sync.Mutex
	initiator  *Client
	responders map[ResponderAddress]*Client
}

// NewPath creates an empty Path for the given initiator key.
func NewPath(id PathId, logger *log.Logger) *Path {
	if logger == nil {
		logger = log.Default()
	}
	return &Path{
		ID:         id,
		log:        logger,
		responders: make(map[ResponderAddress]*Client),
	}
}

// Empty reports whether the path holds no initiator and no responders.
func (p *Path) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initiator == nil && len(p.responders) == 0
}

// ResponderCount returns the number of attached responders.
func (p *Path) ResponderCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responders)
}

// HasClient reports whether client is still the occupant of its
// assigned slot (a client whose slot was later reassigned to someone
// else reports false).
func (p *Path) HasClient(client *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := client.Address()
	if id == InitiatorAddress {
		return p.initiator == client
	}
	addr, ok := responderAddress(int(id))
	if !ok {
		return false
	}
	return p.responders[addr] == client
}

// GetInitiator returns the path's initiator, or false if none is
// attached.
func (p *Path) GetInitiator() (*Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initiator == nil {
		return nil, false
	}
	return p.initiator, true
}

// GetResponder returns the responder attached at addr, or false.
func (p *Path) GetResponder(addr ResponderAddress) (*Client, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.responders[addr]
	return c, ok
}

// ResponderIDs returns the slot addresses of all attached responders.
func (p *Path) ResponderIDs() []ResponderAddress {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]ResponderAddress, 0, len(p.responders))
	for addr := range p.responders {
		ids = append(ids, addr)
	}
	return ids
}

// SetInitiator unconditionally installs client at slot 0x01,
// authenticates it, and returns the previously installed initiator if
// any. The caller is responsible for dropping the returned client with
// CloseDroppedByInitiator; this ordering ensures the displacement is
// observable to the old initiator only after the new one is installed.
func (p *Path) SetInitiator(client *Client) (previous *Client, err error) {
	p.mu.Lock()
	previous = p.initiator
	p.initiator = client
	p.mu.Unlock()

	if err := client.authenticate(InitiatorAddress, InitiatorType); err != nil {
		return nil, err
	}
	p.log.Printf("set initiator %s", client)
	return previous, nil
}

// AddResponder finds the smallest unused slot in 0x02..0xfe, installs
// client there, and authenticates it. Fails with SlotsFullError if all
// 253 slots are taken.
func (p *Path) AddResponder(client *Client) (ResponderAddress, error) {
	p.mu.Lock()
	slot := int(ResponderAddressMin)
	for {
		addr, ok := responderAddress(slot)
		if !ok {
			p.mu.Unlock()
			return 0, &SlotsFullError{}
		}
		if _, taken := p.responders[addr]; !taken {
			p.responders[addr] = client
			p.mu.Unlock()
			if err := client.authenticate(Address(addr), ResponderType); err != nil {
				return 0, err
			}
			p.log.Printf("added responder %s at 0x%02x", client, byte(addr))
			return addr, nil
		}
		slot++
	}
}

// RemoveClient removes client (initiator or responder) from the path.
// It is a no-op if client was never authenticated. For the initiator,
// removal only happens if client is still the current occupant
// (otherwise a later displacement already replaced it, which is fine).
// For a responder, removal is by its assigned address. Safe to call
// more than once for the same client.
func (p *Path) RemoveClient(client *Client) {
	if client.State() == Restricted {
		return
	}
	id := client.Address()
	p.mu.Lock()
	defer p.mu.Unlock()
	if id == InitiatorAddress {
		if p.initiator != client {
			return
		}
		p.initiator = nil
		p.log.Printf("removed initiator")
		return
	}
	addr, ok := responderAddress(int(id))
	if !ok {
		return
	}
	if p.responders[addr] != client {
		return
	}
	delete(p.responders, addr)
	p.log.Printf("removed responder at 0x%02x", byte(addr))
}
