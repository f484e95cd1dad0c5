package reactor

// Identity tags a registration, and is the correlation value returned by the
// kernel with each event. Identities are unique among the live registrations
// of one System.
type Identity uint64

// slot is an entry in the identity table. Vacant slots form an intrusive,
// singly-linked free list, via next.
type slot struct {
	next   int
	vacant bool
}

// identities is a free-list slot allocator, handing out dense identities.
// It is owned by a single System, and is not safe for concurrent use.
type identities struct {
	slots []slot
	// next is the head of the free list, or len(slots) if it is empty
	next  int
	inUse int
}

func newIdentities(capacity int) *identities {
	if capacity < 0 {
		capacity = 0
	}
	return &identities{slots: make([]slot, 0, capacity)}
}

// reserve returns the head of the free list, growing only if there is no
// vacant slot.
func (x *identities) reserve() Identity {
	id := x.next
	if id == len(x.slots) {
		x.slots = append(x.slots, slot{})
		x.next = len(x.slots)
	} else {
		s := &x.slots[id]
		if !s.vacant {
			// the free list is corrupt, which free guards against
			panic("reactor: identity free list points at an occupied slot")
		}
		x.next = s.next
		*s = slot{}
	}
	x.inUse++
	return Identity(id)
}

// free makes id the new head of the free list. Freeing a vacant or unknown
// identity returns an error, and leaves the allocator untouched.
func (x *identities) free(id Identity) error {
	if id >= Identity(len(x.slots)) {
		return ErrIdentityUnknown
	}
	s := &x.slots[id]
	if s.vacant {
		return ErrIdentityVacant
	}
	*s = slot{vacant: true, next: x.next}
	x.next = int(id)
	x.inUse--
	return nil
}

// occupied reports whether id is currently reserved.
func (x *identities) occupied(id Identity) bool {
	return id < Identity(len(x.slots)) && !x.slots[id].vacant
}

// reserved returns the number of reserved identities.
func (x *identities) reserved() int { return x.inUse }

// size returns the number of slots, reserved or not.
func (x *identities) size() int { return len(x.slots) }
