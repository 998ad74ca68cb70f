package realtime

import (
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu         sync.Mutex
	events     []Event
	failWrites bool
	closed     bool
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errors.New("broken pipe")
	}
	ev, ok := v.(Event)
	if !ok {
		return errors.New("unexpected payload type")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func staticResolver(members map[int][]int) LabResolver {
	return func(supervisorID int) ([]int, error) {
		ids, ok := members[supervisorID]
		if !ok {
			return nil, errors.New("no such lab")
		}
		return ids, nil
	}
}

func TestSendToUserDeliversToAllConnections(t *testing.T) {
	hub := NewHub(staticResolver(nil))
	first := &fakeConn{}
	second := &fakeConn{}
	hub.Register(7, first)
	hub.Register(7, second)

	hub.SendToUser(7, NewEvent("research_log_submitted", nil))

	if first.eventCount() != 1 || second.eventCount() != 1 {
		t.Fatalf("expected both connections to receive the event, got %d and %d",
			first.eventCount(), second.eventCount())
	}
	if hub.ConnectionCount(7) != 2 {
		t.Fatalf("expected 2 connections, got %d", hub.ConnectionCount(7))
	}
}

func TestSendToUserWithoutConnectionsIsNoop(t *testing.T) {
	hub := NewHub(staticResolver(nil))
	hub.SendToUser(42, NewEvent("research_log_submitted", nil))
}

func TestFailedWritePrunesConnection(t *testing.T) {
	hub := NewHub(staticResolver(nil))
	stale := &fakeConn{failWrites: true}
	live := &fakeConn{}
	hub.Register(7, stale)
	hub.Register(7, live)

	hub.SendToUser(7, NewEvent("research_log_returned", nil))

	if !stale.closed {
		t.Fatal("expected stale connection to be closed")
	}
	if hub.ConnectionCount(7) != 1 {
		t.Fatalf("expected stale connection to be pruned, got %d connections", hub.ConnectionCount(7))
	}
	if live.eventCount() != 1 {
		t.Fatalf("expected live connection to still receive events, got %d", live.eventCount())
	}

	// A second send must not touch the pruned connection again.
	hub.SendToUser(7, NewEvent("research_log_accepted", nil))
	if stale.eventCount() != 0 {
		t.Fatal("pruned connection received an event")
	}
	if live.eventCount() != 2 {
		t.Fatalf("expected live connection to receive the second event, got %d", live.eventCount())
	}
}

func TestSendToLabResolvesMembers(t *testing.T) {
	hub := NewHub(staticResolver(map[int][]int{20: {10, 11, 20}}))
	student := &fakeConn{}
	supervisor := &fakeConn{}
	outsider := &fakeConn{}
	hub.Register(10, student)
	hub.Register(20, supervisor)
	hub.Register(30, outsider)

	hub.SendToLab(20, NewEvent("research_log_accepted", nil))

	if student.eventCount() != 1 || supervisor.eventCount() != 1 {
		t.Fatalf("expected lab members to receive the event, got %d and %d",
			student.eventCount(), supervisor.eventCount())
	}
	if outsider.eventCount() != 0 {
		t.Fatal("outsider received a lab event")
	}
}

func TestSendToLabSwallowsResolverError(t *testing.T) {
	hub := NewHub(staticResolver(nil))
	conn := &fakeConn{}
	hub.Register(10, conn)

	hub.SendToLab(99, NewEvent("research_log_returned", nil))

	if conn.eventCount() != 0 {
		t.Fatal("unexpected delivery after resolver failure")
	}
}

func TestBroadcastReachesEveryUser(t *testing.T) {
	hub := NewHub(staticResolver(nil))
	conns := []*fakeConn{{}, {}, {}}
	for i, conn := range conns {
		hub.Register(i+1, conn)
	}

	hub.Broadcast(NewEvent("announcement", "maintenance window"))

	for i, conn := range conns {
		if conn.eventCount() != 1 {
			t.Fatalf("user %d did not receive the broadcast", i+1)
		}
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(staticResolver(nil))
	conn := &fakeConn{}
	client := hub.Register(5, conn)

	hub.Unregister(client)
	hub.Unregister(client)

	if hub.ConnectionCount(5) != 0 {
		t.Fatalf("expected no connections, got %d", hub.ConnectionCount(5))
	}
}

func TestCloseShutsDownAllConnections(t *testing.T) {
	hub := NewHub(staticResolver(nil))
	first := &fakeConn{}
	second := &fakeConn{}
	hub.Register(1, first)
	hub.Register(2, second)

	hub.Close()

	if !first.closed || !second.closed {
		t.Fatal("expected all connections to be closed")
	}
	if hub.ConnectionCount(1) != 0 || hub.ConnectionCount(2) != 0 {
		t.Fatal("expected registry to be empty after Close")
	}
}
