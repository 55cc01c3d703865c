package relay

import "testing"

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	reg := NewRegistry(testLogger())
	var id PathId
	id[0] = 7

	first := reg.GetOrCreate(id)
	second := reg.GetOrCreate(id)
	if first != second {
		t.Fatal("GetOrCreate should return the same Path for the same id")
	}
	if reg.PathCount() != 1 {
		t.Fatalf("got %d paths, want 1", reg.PathCount())
	}
}

func TestRegistryDropIfEmpty(t *testing.T) {
	reg := NewRegistry(testLogger())
	var id PathId
	id[0] = 9
	path := reg.GetOrCreate(id)

	client, _ := newTestClient()
	path.SetInitiator(client)

	reg.DropIfEmpty(path)
	if reg.PathCount() != 1 {
		t.Fatal("a non-empty path should not be dropped")
	}

	path.RemoveClient(client)
	reg.DropIfEmpty(path)
	if reg.PathCount() != 0 {
		t.Fatal("an empty path should be dropped")
	}

	// A later attach for the same id must create a fresh Path.
	fresh := reg.GetOrCreate(id)
	if fresh == path {
		t.Fatal("GetOrCreate after a drop should not return the stale Path")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	reg := NewRegistry(testLogger())
	var id PathId
	id[0] = 3
	path := reg.GetOrCreate(id)
	initiator, _ := newTestClient()
	responder, _ := newTestClient()
	path.SetInitiator(initiator)
	path.AddResponder(responder)

	snap := reg.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("got %d entries, want 1", len(snap))
	}
	if !snap[0].HasInitiator || snap[0].Responders != 1 {
		t.Fatalf("got %+v, want HasInitiator=true Responders=1", snap[0])
	}
}
