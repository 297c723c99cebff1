package bridge

import (
	"context"
	"errors"
	"testing"
)

func newTestDoc(name string) *FakeDocument {
	return &FakeDocument{
		DisplayName: name,
		Sheets:      []string{"Sheet1"},
		FirstRows:   map[string][]string{"Sheet1": {"Name", "Date"}},
		Extents:     map[string]string{"Sheet1": "A1:B10"},
		Names:       map[string]string{},
	}
}

func TestConnectLaunchesFreshInstance(t *testing.T) {
	fake := NewFake()
	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "", ConnectOptions{}); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if session.State() != StateLive {
		t.Fatalf("expected live state, got %s", session.State())
	}
	if session.AttachedExisting() {
		t.Fatalf("expected a fresh instance, not an attached one")
	}
	handle, err := session.Validate(context.Background())
	if err != nil {
		t.Fatalf("expected validate to succeed, got %v", err)
	}
	sheets, err := fake.ListSheets(context.Background(), handle)
	if err != nil || len(sheets) == 0 {
		t.Fatalf("expected at least one sheet, got %v (%v)", sheets, err)
	}
}

func TestConnectAttachesToOpenDocument(t *testing.T) {
	fake := NewFake()
	inst := fake.StartInstance()
	doc := newTestDoc("budget.xlsx")
	doc.Path = "/work/budget.xlsx"
	handle := fake.OpenDocument(inst, doc)

	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/budget.xlsx", ConnectOptions{AttachExisting: true}); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if !session.AttachedExisting() {
		t.Fatalf("expected attached_existing to be set")
	}
	got, err := session.Validate(context.Background())
	if err != nil {
		t.Fatalf("expected validate to succeed, got %v", err)
	}
	if got != handle {
		t.Fatalf("expected to bind the already-open document, got %s", got)
	}
}

func TestConnectOpensExistingFile(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/work/report.xlsx", newTestDoc("report.xlsx"))

	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/report.xlsx", ConnectOptions{}); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if session.Identity().Path != "/work/report.xlsx" {
		t.Fatalf("expected identity path from opened file, got %q", session.Identity().Path)
	}
}

func TestConnectCreatesAndSavesNewDocument(t *testing.T) {
	fake := NewFake()
	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/new.xlsx", ConnectOptions{}); err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if fake.PersistedFile("/work/new.xlsx") == nil {
		t.Fatalf("expected new document to be saved to the target path")
	}
}

func TestConnectSaveFailureIsNotFatal(t *testing.T) {
	fake := NewFake()
	fake.SetFail("PersistToFile", errors.New("disk full"))
	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/new.xlsx", ConnectOptions{}); err != nil {
		t.Fatalf("expected connect to survive a failed save, got %v", err)
	}
	if session.State() != StateLive {
		t.Fatalf("expected live state, got %s", session.State())
	}
}

func TestConnectSingleDocumentClosesOthers(t *testing.T) {
	fake := NewFake()
	inst := fake.StartInstance()
	managed := newTestDoc("managed.xlsx")
	managed.Path = "/work/managed.xlsx"
	managedHandle := fake.OpenDocument(inst, managed)
	otherHandle := fake.OpenDocument(inst, newTestDoc("scratch.xlsx"))

	session := NewSession(fake, nil)
	err := session.Connect(context.Background(), "/work/managed.xlsx", ConnectOptions{AttachExisting: true, SingleDocument: true})
	if err != nil {
		t.Fatalf("expected connect to succeed, got %v", err)
	}
	if fake.Document(otherHandle) != nil {
		t.Fatalf("expected the other document to be closed")
	}
	if fake.Document(managedHandle) == nil {
		t.Fatalf("expected the managed document to survive the cleanup")
	}
}

func TestValidateReconnectsOnce(t *testing.T) {
	fake := NewFake()
	fake.AddFile("/work/report.xlsx", newTestDoc("report.xlsx"))
	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/report.xlsx", ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	handle, _ := session.Validate(context.Background())

	// Drop the handle but keep an equivalent document open elsewhere.
	inst := fake.StartInstance()
	reopened := newTestDoc("report.xlsx")
	reopened.Path = "/work/report.xlsx"
	fake.OpenDocument(inst, reopened)
	fake.InvalidateHandle(handle)

	got, err := session.Validate(context.Background())
	if err != nil {
		t.Fatalf("expected validate to reconnect, got %v", err)
	}
	if got == handle {
		t.Fatalf("expected a rebound handle, got the stale one")
	}
	if session.State() != StateLive {
		t.Fatalf("expected live state after reconnect, got %s", session.State())
	}
}

func TestValidateFailsWhenReconnectExhausted(t *testing.T) {
	fake := NewFake()
	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "", ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	handle, _ := session.Validate(context.Background())
	fake.InvalidateHandle(handle)

	if _, err := session.Validate(context.Background()); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if session.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", session.State())
	}
}

func TestReconnectPrefersPathMatch(t *testing.T) {
	fake := NewFake()
	inst := fake.StartInstance()
	original := newTestDoc("report.xlsx")
	original.Path = "/work/report.xlsx"
	originalHandle := fake.OpenDocument(inst, original)

	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/report.xlsx", ConnectOptions{AttachExisting: true}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fake.InvalidateHandle(originalHandle)

	// Two candidates share the display name; only one matches the path.
	decoy := newTestDoc("report.xlsx")
	decoy.Path = "/elsewhere/report.xlsx"
	fake.OpenDocument(inst, decoy)
	restored := newTestDoc("report.xlsx")
	restored.Path = "/work/report.xlsx"
	restoredHandle := fake.OpenDocument(inst, restored)

	if !session.Reconnect(context.Background()) {
		t.Fatalf("expected reconnect to succeed")
	}
	got, err := session.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate after reconnect: %v", err)
	}
	if got != restoredHandle {
		t.Fatalf("expected rebind to the path match, got %s", got)
	}
}

func TestReconnectFallsBackToDisplayName(t *testing.T) {
	fake := NewFake()
	inst := fake.StartInstance()
	original := newTestDoc("report.xlsx")
	original.Path = "/work/report.xlsx"
	originalHandle := fake.OpenDocument(inst, original)

	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/report.xlsx", ConnectOptions{AttachExisting: true}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	fake.InvalidateHandle(originalHandle)

	moved := newTestDoc("report.xlsx")
	moved.Path = "/moved/report.xlsx"
	movedHandle := fake.OpenDocument(inst, moved)

	if !session.Reconnect(context.Background()) {
		t.Fatalf("expected display-name reconnect to succeed")
	}
	got, err := session.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate after reconnect: %v", err)
	}
	if got != movedHandle {
		t.Fatalf("expected rebind by display name, got %s", got)
	}
	if session.Identity().Path != "/moved/report.xlsx" {
		t.Fatalf("expected identity updated after rebind, got %q", session.Identity().Path)
	}
}

func TestCloseTerminatesOwnEmptyInstance(t *testing.T) {
	fake := NewFake()
	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "", ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	session.Close(context.Background())
	if session.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %s", session.State())
	}
	instances, _ := fake.ListInstances(context.Background())
	if len(instances) != 0 {
		t.Fatalf("expected the launched instance to be terminated, %d remain", len(instances))
	}
}

func TestCloseLeavesAttachedInstanceRunning(t *testing.T) {
	fake := NewFake()
	inst := fake.StartInstance()
	doc := newTestDoc("shared.xlsx")
	doc.Path = "/work/shared.xlsx"
	fake.OpenDocument(inst, doc)
	fake.OpenDocument(inst, newTestDoc("other.xlsx"))

	session := NewSession(fake, nil)
	if err := session.Connect(context.Background(), "/work/shared.xlsx", ConnectOptions{AttachExisting: true}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	session.Close(context.Background())
	instances, _ := fake.ListInstances(context.Background())
	if len(instances) != 1 {
		t.Fatalf("expected the attached instance to keep running")
	}
}
