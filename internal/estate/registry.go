package estate

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/goraet/goraet/internal/ordmap"
)

// ErrDuplicateEstate indicates addRemote found a colliding uid or name
// against the local estate or an existing remote.
var ErrDuplicateEstate = errors.New("duplicate estate uid or name")

// ErrUnknownRemote indicates an operation referenced a uid not present in
// the registry.
var ErrUnknownRemote = errors.New("unknown remote uid")

// Registry is the stack's remote/uid index: an insertion-ordered uid→Estate
// mapping plus a name→uid secondary index, matching the original's
// odict-based remotes/uids pair (original_source/raet/stacking.py).
type Registry struct {
	Local   *Estate
	remotes *ordmap.Map[uint32, *Estate]
	uids    map[string]uint32
	neid    uint32
}

// NewRegistry returns a Registry seeded with the local estate.
func NewRegistry(local *Estate) *Registry {
	return &Registry{
		Local:   local,
		remotes: ordmap.New[uint32, *Estate](),
		uids:    make(map[string]uint32),
	}
}

// NextEid returns the next free 32-bit estate id, wrapping from
// 0xffffffff back to 1 (0 is reserved), grounded on
// original_source/raet/road/stacking.py::nextEid.
func (r *Registry) NextEid() uint32 {
	r.neid++
	if r.neid == 0 {
		r.neid = 1
	}

	return r.neid
}

// AddRemote inserts r, failing with ErrDuplicateEstate if r.UID or r.Name
// collides with the local estate or any existing remote. uid=0
// is the reserved bootstrap value: at most one such pending
// remote may exist at a time, since a second insert at uid 0 would
// overwrite the first in the uid-keyed registry; callers must promptly
// assign a real uid via NextEid and MoveRemote.
func (r *Registry) AddRemote(re *Estate) error {
	if re.UID != 0 && (re.UID == r.Local.UID || r.remotes.Has(re.UID)) {
		return fmt.Errorf("uid %d on %q: %w", re.UID, r.Local.Name, ErrDuplicateEstate)
	}

	if re.Name == r.Local.Name {
		return fmt.Errorf("name %q on %q: %w", re.Name, r.Local.Name, ErrDuplicateEstate)
	}

	if existing, ok := r.uids[re.Name]; ok && existing != re.UID {
		return fmt.Errorf("name %q on %q: %w", re.Name, r.Local.Name, ErrDuplicateEstate)
	}

	r.remotes.Set(re.UID, re)
	r.uids[re.Name] = re.UID

	return nil
}

// RemoveRemote deletes uid from the registry. The caller (Stack) is
// responsible for nacking and removing the remote's bound transactions in
// the same step.
func (r *Registry) RemoveRemote(uid uint32) (*Estate, error) {
	re, ok := r.remotes.Get(uid)
	if !ok {
		return nil, fmt.Errorf("remove remote %d: %w", uid, ErrUnknownRemote)
	}

	r.remotes.Delete(uid)
	delete(r.uids, re.Name)

	return re, nil
}

// MoveRemote renames a remote's uid in place, preserving its ordinal
// position in the registry rather than a delete-and-reappend.
func (r *Registry) MoveRemote(oldUID, newUID uint32) error {
	re, ok := r.remotes.Get(oldUID)
	if !ok {
		return fmt.Errorf("move remote %d: %w", oldUID, ErrUnknownRemote)
	}

	if !r.remotes.Move(oldUID, newUID) {
		return fmt.Errorf("move remote %d to %d: %w", oldUID, newUID, ErrDuplicateEstate)
	}

	re.UID = newUID
	r.uids[re.Name] = newUID

	return nil
}

// RenameRemote renames a remote's name in place, preserving the uid→Estate
// entry's ordinal position and repositioning the name→uid index entry.
func (r *Registry) RenameRemote(oldName, newName string) error {
	uid, ok := r.uids[oldName]
	if !ok {
		return fmt.Errorf("rename remote %q: %w", oldName, ErrUnknownRemote)
	}

	if _, collide := r.uids[newName]; collide {
		return fmt.Errorf("rename remote %q to %q: %w", oldName, newName, ErrDuplicateEstate)
	}

	re, _ := r.remotes.Get(uid)
	re.Name = newName
	delete(r.uids, oldName)
	r.uids[newName] = uid

	return nil
}

// FetchByName returns the remote named name, if any.
func (r *Registry) FetchByName(name string) (*Estate, bool) {
	uid, ok := r.uids[name]
	if !ok {
		return nil, false
	}

	return r.remotes.Get(uid)
}

// FetchByUID returns the remote with the given uid, if any.
func (r *Registry) FetchByUID(uid uint32) (*Estate, bool) {
	return r.remotes.Get(uid)
}

// FetchByHa returns the first remote whose host-address equals ha.
func (r *Registry) FetchByHa(ha netip.AddrPort) (*Estate, bool) {
	var found *Estate

	r.remotes.Range(func(_ uint32, re *Estate) bool {
		if re.HA == ha {
			found = re
			return false
		}

		return true
	})

	return found, found != nil
}

// FetchByHostPort is an alias of FetchByHa kept for parity with the
// original's fetchRemoteByHostPort, which differs only in accepting a
// (host, port) pair rather than a combined address — both resolve to the
// same netip.AddrPort comparison in this build.
func (r *Registry) FetchByHostPort(host netip.Addr, port uint16) (*Estate, bool) {
	return r.FetchByHa(netip.AddrPortFrom(host, port))
}

// FetchByKeys returns the first remote whose sign-public/box-public key
// pair matches the given hex-equivalent raw key bytes.
func (r *Registry) FetchByKeys(signPub, boxPub *[32]byte) (*Estate, bool) {
	var found *Estate

	r.remotes.Range(func(_ uint32, re *Estate) bool {
		if re.SignPublic != nil && re.BoxPublic != nil &&
			*re.SignPublic == *signPub && *re.BoxPublic == *boxPub {
			found = re
			return false
		}

		return true
	})

	return found, found != nil
}

// First returns the first remote in registry order, used by transmit's
// default-destination rule.
func (r *Registry) First() (*Estate, bool) {
	_, re, ok := r.remotes.First()
	return re, ok
}

// Len reports the number of remotes.
func (r *Registry) Len() int { return r.remotes.Len() }

// Range iterates remotes in registry order.
func (r *Registry) Range(fn func(*Estate) bool) {
	r.remotes.Range(func(_ uint32, re *Estate) bool { return fn(re) })
}

// Values returns a snapshot of remotes in registry order, safe to iterate
// while the caller may mutate the registry (e.g. removing a remote whose
// transactions just expired).
func (r *Registry) Values() []*Estate {
	return r.remotes.Values()
}

// DefaultPort returns the bootstrap port used by retrieveRemote when no
// address is supplied, differing between main (rendezvous) and non-main
// roles, grounded on original_source/raet/road/stacking.py::retrieveRemote's
// RAET_PORT vs RAET_TEST_PORT distinction.
func DefaultPort(main bool) uint16 {
	if main {
		return 7530
	}

	return 7531
}

// RetrieveRemote resolves an outbound target: if duid is known and
// nonzero, returns it; otherwise, if no remotes exist yet, synthesises one
// at ha (or the default loopback address for the local role) and adds it.
func (r *Registry) RetrieveRemote(duid uint32, ha netip.AddrPort, main bool) (*Estate, error) {
	if duid != 0 {
		re, ok := r.FetchByUID(duid)
		if !ok {
			return nil, fmt.Errorf("retrieve remote %d: %w", duid, ErrUnknownRemote)
		}

		return re, nil
	}

	if r.remotes.Len() > 0 {
		re, _ := r.First()
		return re, nil
	}

	if !ha.IsValid() {
		ha = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), DefaultPort(main))
	}

	re := New(0, fmt.Sprintf("remote-%s", ha.String()), ha)
	if err := r.AddRemote(re); err != nil {
		return nil, err
	}

	return re, nil
}
