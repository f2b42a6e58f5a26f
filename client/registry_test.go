package client

import (
	"testing"
)

func TestServiceRegistry_AddAndLookup(t *testing.T) {
	r := NewServiceRegistry()
	s := NewDeviceSession("ws://h:5846/xfs4iot/v1.0/CardReader", testOptions())

	entry, added := r.Add(s, []Interface{NewCardReader(s)})
	if !added {
		t.Fatal("Expected entry to be added")
	}
	if len(entry.ID) != 8 {
		t.Errorf("Expected 8 character id, got %q", entry.ID)
	}

	byURI, ok := r.Get(s.URI)
	if !ok || byURI != entry {
		t.Error("Expected lookup by uri to return the entry")
	}
	byID, ok := r.GetByID(entry.ID)
	if !ok || byID != entry {
		t.Error("Expected lookup by id to return the entry")
	}
	if cr, ok := entry.CardReader(); !ok || cr.Session() != s {
		t.Error("Expected CardReader handle bound to the session")
	}
}

func TestServiceRegistry_AddDuplicateKeepsExisting(t *testing.T) {
	r := NewServiceRegistry()
	uri := "ws://h:5846/xfs4iot/v1.0/CardReader"
	first, _ := r.Add(NewDeviceSession(uri, testOptions()), nil)

	second, added := r.Add(NewDeviceSession(uri, testOptions()), nil)
	if added {
		t.Error("Expected duplicate uri to be refused")
	}
	if second != first {
		t.Error("Expected existing entry to be returned")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Len())
	}
}

func TestServiceRegistry_RemoveClosesSession(t *testing.T) {
	r := NewServiceRegistry()
	s, _ := startSession(t, ackOnly, testOptions())
	entry, _ := r.Add(s, nil)

	if !r.Remove(s.URI) {
		t.Fatal("Expected remove to succeed")
	}
	if r.Remove(s.URI) {
		t.Error("Expected second remove to report false")
	}
	if _, ok := r.GetByID(entry.ID); ok {
		t.Error("Expected id index to be cleared")
	}
	if s.Connected() {
		t.Error("Expected session to be closed")
	}
}

func TestServiceRegistry_ListSorted(t *testing.T) {
	r := NewServiceRegistry()
	for _, uri := range []string{"ws://h:1/c", "ws://h:1/a", "ws://h:1/b"} {
		r.Add(NewDeviceSession(uri, testOptions()), nil)
	}

	list := r.List()
	for i, want := range []string{"ws://h:1/a", "ws://h:1/b", "ws://h:1/c"} {
		if list[i].URI != want {
			t.Errorf("Expected %s at %d, got %s", want, i, list[i].URI)
		}
	}

	r.Close()
	if r.Len() != 0 {
		t.Errorf("Expected empty registry after Close, got %d", r.Len())
	}
}

func TestInterfaceRegistry_BuildSkipsUnknown(t *testing.T) {
	r := DefaultInterfaces()
	s := NewDeviceSession("ws://h:1/x", testOptions())

	ifaces := r.Build(s, []string{"printer", CardReaderInterface})
	if len(ifaces) != 1 || ifaces[0].Name() != CardReaderInterface {
		t.Errorf("Expected only cardReader, got %v", ifaces)
	}
	if names := r.Names(); len(names) != 1 || names[0] != CardReaderInterface {
		t.Errorf("Unexpected names %v", names)
	}
}
