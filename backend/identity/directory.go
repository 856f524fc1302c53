// Package identity keeps display names exclusive to a single connection.
package identity

import (
	"sort"
	"sync"
)

const (
	MaxNameLength = 32
	DefaultName   = "Guest"
)

// Holder is a connection that may claim a display name.
type Holder interface {
	ID() string
	Name() string
}

// Directory maps display names to the connection currently using them.
//
// Lock serializes operations per name. Callers that need a claim or a
// release to be atomic with other state hold the name lock around it.
type Directory struct {
	mx    *sync.Mutex
	names map[string]Holder
	locks *keyedLocks
}

func NewDirectory() *Directory {
	return &Directory{
		mx:    &sync.Mutex{},
		names: make(map[string]Holder),
		locks: newKeyedLocks(),
	}
}

// NormalizeName defaults an empty name and truncates long ones.
// Names are case-sensitive.
func NormalizeName(raw string) string {
	if raw == "" {
		return DefaultName
	}
	if runes := []rune(raw); len(runes) > MaxNameLength {
		return string(runes[:MaxNameLength])
	}
	return raw
}

// Lock acquires the locks of the given names in a fixed order and returns the release func.
// Empty names are ignored.
func (d *Directory) Lock(names ...string) func() {
	keys := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		keys = append(keys, name)
	}
	sort.Strings(keys)

	for _, key := range keys {
		d.locks.lock(key)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			d.locks.unlock(keys[i])
		}
	}
}

// Holder returns the current holder of name or nil.
func (d *Directory) Holder(name string) Holder {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.names[name]
}

// Claim binds name to h. When name is held by another connection, evict is
// called with the previous holder before the binding changes.
func (d *Directory) Claim(name string, h Holder, evict func(prev Holder)) {
	prev := d.Holder(name)
	if prev != nil && prev.ID() == h.ID() {
		return
	}
	if prev != nil && evict != nil {
		evict(prev)
	}

	d.mx.Lock()
	d.names[name] = h
	d.mx.Unlock()
}

// Release clears the claim of h if h still holds its own name.
func (d *Directory) Release(h Holder) bool {
	name := h.Name()
	if name == "" {
		return false
	}

	d.mx.Lock()
	defer d.mx.Unlock()

	cur, ok := d.names[name]
	if !ok || cur.ID() != h.ID() {
		return false
	}
	delete(d.names, name)
	return true
}

// Len returns the number of claimed names.
func (d *Directory) Len() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return len(d.names)
}

// Names returns claimed names in sorted order.
func (d *Directory) Names() []string {
	d.mx.Lock()
	names := make([]string, 0, len(d.names))
	for name := range d.names {
		names = append(names, name)
	}
	d.mx.Unlock()

	sort.Strings(names)
	return names
}

type keyedLocks struct {
	mx *sync.Mutex
	m  map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{
		mx: &sync.Mutex{},
		m:  make(map[string]*refLock),
	}
}

func (k *keyedLocks) lock(key string) {
	k.mx.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &refLock{}
		k.m[key] = l
	}
	l.refs++
	k.mx.Unlock()

	l.Lock()
}

func (k *keyedLocks) unlock(key string) {
	k.mx.Lock()
	defer k.mx.Unlock()

	l := k.m[key]
	l.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.m, key)
	}
}
