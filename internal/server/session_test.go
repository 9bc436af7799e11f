package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// TestSessionRegistryUniqueness verifies that a name can be registered only
// once until it is removed.
func TestSessionRegistryUniqueness(t *testing.T) {
	reg := NewSessionRegistry()

	first := NewSession("alice", &fakeConn{})
	if !reg.Add(first) {
		t.Fatal("First Add for alice failed")
	}
	if reg.Add(NewSession("alice", &fakeConn{})) {
		t.Error("Second Add for alice succeeded")
	}

	if removed := reg.Remove("alice"); removed != first {
		t.Errorf("Remove returned %v, expected the registered session", removed)
	}
	if !reg.Add(NewSession("alice", &fakeConn{})) {
		t.Error("Add after Remove failed; name was not released")
	}
}

// TestSessionRegistryConcurrentAdd verifies that concurrent logins with the
// same name admit exactly one session.
func TestSessionRegistryConcurrentAdd(t *testing.T) {
	reg := NewSessionRegistry()

	const attempts = 32
	var admitted atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Add(NewSession("alice", &fakeConn{})) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 1 {
		t.Errorf("Expected exactly 1 admitted session, got %d", admitted.Load())
	}
	if reg.Len() != 1 {
		t.Errorf("Expected registry size 1, got %d", reg.Len())
	}
}

// TestSessionRegistryNamesOrder verifies newest-first listing with the
// caller excluded.
func TestSessionRegistryNamesOrder(t *testing.T) {
	reg := NewSessionRegistry()
	for _, name := range []string{"alice", "bob", "carol"} {
		if !reg.Add(NewSession(name, &fakeConn{})) {
			t.Fatalf("Add %q failed", name)
		}
	}

	names := reg.Names("bob")
	if len(names) != 2 || names[0] != "carol" || names[1] != "alice" {
		t.Errorf("Expected [carol alice], got %v", names)
	}

	if got := reg.Names(""); len(got) != 3 || got[0] != "carol" {
		t.Errorf("Expected 3 names newest first, got %v", got)
	}
}

// TestSessionRegistryDeliver verifies locked delivery and the not-found
// error.
func TestSessionRegistryDeliver(t *testing.T) {
	reg := NewSessionRegistry()
	target := NewSession("bob", &fakeConn{})
	if !reg.Add(target) {
		t.Fatal("Add bob failed")
	}

	var delivered *Session
	if err := reg.Deliver("bob", func(sess *Session) { delivered = sess }); err != nil {
		t.Fatalf("Deliver to bob failed: %v", err)
	}
	if delivered != target {
		t.Error("Deliver ran against the wrong session")
	}

	err := reg.Deliver("mallory", func(*Session) { t.Error("Callback ran for a missing user") })
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

// TestSessionBeginLogout verifies that only the first logout attempt wins.
func TestSessionBeginLogout(t *testing.T) {
	sess := NewSession("alice", &fakeConn{})

	if !sess.beginLogout() {
		t.Fatal("First beginLogout returned false")
	}
	if sess.beginLogout() {
		t.Error("Second beginLogout returned true")
	}
}

// TestSessionConnID verifies that sessions get distinct connection IDs.
func TestSessionConnID(t *testing.T) {
	a := NewSession("alice", &fakeConn{})
	b := NewSession("bob", &fakeConn{})

	if a.ConnID() == "" || b.ConnID() == "" {
		t.Fatal("Expected non-empty connection IDs")
	}
	if a.ConnID() == b.ConnID() {
		t.Error("Expected distinct connection IDs")
	}
}
