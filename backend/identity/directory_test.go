package identity

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
)

type holder struct {
	id   string
	name string
}

func (h *holder) ID() string   { return h.id }
func (h *holder) Name() string { return h.name }

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "empty defaults", raw: "", want: DefaultName},
		{name: "kept as is", raw: "Ann", want: "Ann"},
		{name: "case sensitive", raw: "ann", want: "ann"},
		{name: "truncated", raw: strings.Repeat("x", 40), want: strings.Repeat("x", MaxNameLength)},
		{name: "truncated by runes", raw: strings.Repeat("ж", 33), want: strings.Repeat("ж", MaxNameLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeName(tt.raw); got != tt.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClaimEvictsPreviousHolder(t *testing.T) {
	d := NewDirectory()
	first := &holder{id: "1", name: "Ann"}
	second := &holder{id: "2"}

	d.Claim("Ann", first, nil)

	var evicted []Holder
	d.Claim("Ann", second, func(prev Holder) {
		evicted = append(evicted, prev)
		if !d.Release(prev) {
			t.Errorf("release of previous holder failed")
		}
	})
	second.name = "Ann"

	if len(evicted) != 1 || evicted[0].ID() != "1" {
		t.Fatalf("unexpected evictions: %s", spew.Sdump(evicted))
	}
	if h := d.Holder("Ann"); h == nil || h.ID() != "2" {
		t.Fatalf("expected second holder, got %s", spew.Sdump(h))
	}
}

func TestClaimBySameHolderIsNoop(t *testing.T) {
	d := NewDirectory()
	h := &holder{id: "1", name: "Ann"}
	d.Claim("Ann", h, nil)
	d.Claim("Ann", h, func(Holder) {
		t.Fatalf("evict must not be called for the same holder")
	})
	if d.Len() != 1 {
		t.Fatalf("expected one claim, got %v", d.Names())
	}
}

func TestReleaseOnlyByCurrentHolder(t *testing.T) {
	d := NewDirectory()
	stale := &holder{id: "1", name: "Ann"}
	current := &holder{id: "2", name: "Ann"}
	d.Claim("Ann", current, nil)

	if d.Release(stale) {
		t.Fatalf("stale holder must not release a reclaimed name")
	}
	if h := d.Holder("Ann"); h == nil || h.ID() != "2" {
		t.Fatalf("name lost after stale release")
	}
	if !d.Release(current) {
		t.Fatalf("current holder release failed")
	}
	if d.Release(current) {
		t.Fatalf("second release must report false")
	}
	if d.Holder("Ann") != nil {
		t.Fatalf("name still claimed")
	}
}

func TestLockSerializesSameName(t *testing.T) {
	d := NewDirectory()
	unlock := d.Lock("Ann", "Bob")

	acquired := make(chan struct{})
	go func() {
		u := d.Lock("Bob")
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatalf("lock on Bob acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	other := make(chan struct{})
	go func() {
		u := d.Lock("Cid", "")
		close(other)
		u()
	}()
	select {
	case <-other:
	case <-time.After(time.Second):
		t.Fatalf("unrelated name must not contend")
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("lock on Bob not acquired after release")
	}
}

func TestLockReleasesKeys(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := d.Lock("Ann", "Ann", "Bob")
			unlock()
		}()
	}
	wg.Wait()

	d.locks.mx.Lock()
	defer d.locks.mx.Unlock()
	if len(d.locks.m) != 0 {
		t.Fatalf("leaked name locks: %s", spew.Sdump(d.locks.m))
	}
}
