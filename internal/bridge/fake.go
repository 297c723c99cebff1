package bridge

import (
	"context"
	"fmt"
)

// FakeDocument is the in-memory document state used by the fake driver.
type FakeDocument struct {
	Path        string
	DisplayName string
	Sheets      []string
	FirstRows   map[string][]string
	Extents     map[string]string
	Names       map[string]string
}

func (d *FakeDocument) clone() *FakeDocument {
	c := &FakeDocument{
		Path:        d.Path,
		DisplayName: d.DisplayName,
		Sheets:      append([]string(nil), d.Sheets...),
		FirstRows:   map[string][]string{},
		Extents:     map[string]string{},
		Names:       map[string]string{},
	}
	for k, v := range d.FirstRows {
		c.FirstRows[k] = append([]string(nil), v...)
	}
	for k, v := range d.Extents {
		c.Extents[k] = v
	}
	for k, v := range d.Names {
		c.Names[k] = v
	}
	return c
}

type fakeInstance struct {
	docs  map[DocumentHandle]*FakeDocument
	order []DocumentHandle
}

// Fake is an in-memory Driver for tests. Persisted files live in a map
// rather than on disk, so snapshot round trips need no filesystem.
type Fake struct {
	instances map[InstanceID]*fakeInstance
	order     []InstanceID
	files     map[string]*FakeDocument
	fail      map[string]error
	nextID    int
}

func NewFake() *Fake {
	return &Fake{
		instances: map[InstanceID]*fakeInstance{},
		files:     map[string]*FakeDocument{},
		fail:      map[string]error{},
	}
}

// SetFail makes every subsequent call to the named method return err.
// Pass nil to clear.
func (f *Fake) SetFail(method string, err error) {
	if err == nil {
		delete(f.fail, method)
		return
	}
	f.fail[method] = err
}

// AddFile seeds the fake file store so OpenFile and Connect can find path.
func (f *Fake) AddFile(path string, doc *FakeDocument) {
	doc.Path = path
	f.files[path] = doc.clone()
}

// StartInstance simulates an already-running host instance.
func (f *Fake) StartInstance() InstanceID {
	f.nextID++
	id := InstanceID(fmt.Sprintf("inst-%d", f.nextID))
	f.instances[id] = &fakeInstance{docs: map[DocumentHandle]*FakeDocument{}}
	f.order = append(f.order, id)
	return id
}

// OpenDocument places a document inside an instance without going through
// the driver surface, for seeding test scenarios.
func (f *Fake) OpenDocument(instance InstanceID, doc *FakeDocument) DocumentHandle {
	f.nextID++
	handle := DocumentHandle(fmt.Sprintf("doc-%d", f.nextID))
	inst := f.instances[instance]
	inst.docs[handle] = doc
	inst.order = append(inst.order, handle)
	return handle
}

// InvalidateHandle simulates the host dropping a document handle.
func (f *Fake) InvalidateHandle(handle DocumentHandle) {
	for _, inst := range f.instances {
		if _, ok := inst.docs[handle]; ok {
			delete(inst.docs, handle)
			inst.order = removeHandle(inst.order, handle)
			return
		}
	}
}

// Document returns the live document behind a handle, for assertions and
// for mutating document state mid-test.
func (f *Fake) Document(handle DocumentHandle) *FakeDocument {
	for _, inst := range f.instances {
		if doc, ok := inst.docs[handle]; ok {
			return doc
		}
	}
	return nil
}

// PersistedFile returns the side-store copy saved under path, or nil.
func (f *Fake) PersistedFile(path string) *FakeDocument {
	return f.files[path]
}

func (f *Fake) check(method string) error {
	if err, ok := f.fail[method]; ok {
		return err
	}
	return nil
}

func (f *Fake) ListInstances(_ context.Context) ([]InstanceID, error) {
	if err := f.check("ListInstances"); err != nil {
		return nil, err
	}
	return append([]InstanceID(nil), f.order...), nil
}

func (f *Fake) Launch(_ context.Context) (InstanceID, error) {
	if err := f.check("Launch"); err != nil {
		return "", err
	}
	return f.StartInstance(), nil
}

func (f *Fake) TerminateInstance(_ context.Context, instance InstanceID) error {
	if err := f.check("TerminateInstance"); err != nil {
		return err
	}
	delete(f.instances, instance)
	for i, id := range f.order {
		if id == instance {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *Fake) ListDocuments(_ context.Context, instance InstanceID) ([]DocumentRef, error) {
	if err := f.check("ListDocuments"); err != nil {
		return nil, err
	}
	inst, ok := f.instances[instance]
	if !ok {
		return nil, &DriverError{Op: "ListDocuments", Message: "no such instance"}
	}
	refs := make([]DocumentRef, 0, len(inst.order))
	for _, handle := range inst.order {
		doc := inst.docs[handle]
		refs = append(refs, DocumentRef{
			Handle:   handle,
			Identity: Identity{Path: doc.Path, DisplayName: doc.DisplayName},
		})
	}
	return refs, nil
}

func (f *Fake) OpenFile(_ context.Context, instance InstanceID, path string) (DocumentHandle, error) {
	if err := f.check("OpenFile"); err != nil {
		return "", err
	}
	stored, ok := f.files[path]
	if !ok {
		return "", ErrNoDocument
	}
	inst, ok := f.instances[instance]
	if !ok {
		return "", &DriverError{Op: "OpenFile", Message: "no such instance"}
	}
	doc := stored.clone()
	f.nextID++
	handle := DocumentHandle(fmt.Sprintf("doc-%d", f.nextID))
	inst.docs[handle] = doc
	inst.order = append(inst.order, handle)
	return handle, nil
}

func (f *Fake) NewDocument(_ context.Context, instance InstanceID) (DocumentHandle, error) {
	if err := f.check("NewDocument"); err != nil {
		return "", err
	}
	inst, ok := f.instances[instance]
	if !ok {
		return "", &DriverError{Op: "NewDocument", Message: "no such instance"}
	}
	f.nextID++
	handle := DocumentHandle(fmt.Sprintf("doc-%d", f.nextID))
	inst.docs[handle] = &FakeDocument{
		DisplayName: fmt.Sprintf("Book%d", f.nextID),
		Sheets:      []string{"Sheet1"},
		FirstRows:   map[string][]string{},
		Extents:     map[string]string{"Sheet1": "A1:A1"},
		Names:       map[string]string{},
	}
	inst.order = append(inst.order, handle)
	return handle, nil
}

func (f *Fake) CloseDocument(_ context.Context, handle DocumentHandle, _ bool) error {
	if err := f.check("CloseDocument"); err != nil {
		return err
	}
	for _, inst := range f.instances {
		if _, ok := inst.docs[handle]; ok {
			delete(inst.docs, handle)
			inst.order = removeHandle(inst.order, handle)
			return nil
		}
	}
	return ErrNoDocument
}

func (f *Fake) ActivateDocument(_ context.Context, handle DocumentHandle) error {
	if err := f.check("ActivateDocument"); err != nil {
		return err
	}
	if f.Document(handle) == nil {
		return ErrNoDocument
	}
	return nil
}

func (f *Fake) IsHandleValid(_ context.Context, handle DocumentHandle) bool {
	if _, ok := f.fail["IsHandleValid"]; ok {
		return false
	}
	return f.Document(handle) != nil
}

func (f *Fake) DocumentIdentity(_ context.Context, handle DocumentHandle) (Identity, error) {
	if err := f.check("DocumentIdentity"); err != nil {
		return Identity{}, err
	}
	doc := f.Document(handle)
	if doc == nil {
		return Identity{}, ErrNoDocument
	}
	return Identity{Path: doc.Path, DisplayName: doc.DisplayName}, nil
}

func (f *Fake) PersistToFile(_ context.Context, handle DocumentHandle, path string) error {
	if err := f.check("PersistToFile"); err != nil {
		return err
	}
	doc := f.Document(handle)
	if doc == nil {
		return ErrNoDocument
	}
	if doc.Path == "" {
		doc.Path = path
	}
	saved := doc.clone()
	saved.Path = path
	f.files[path] = saved
	return nil
}

func (f *Fake) ListSheets(_ context.Context, handle DocumentHandle) ([]string, error) {
	if err := f.check("ListSheets"); err != nil {
		return nil, err
	}
	doc := f.Document(handle)
	if doc == nil {
		return nil, ErrNoDocument
	}
	return append([]string(nil), doc.Sheets...), nil
}

func (f *Fake) AddSheet(_ context.Context, handle DocumentHandle, name string) error {
	if err := f.check("AddSheet"); err != nil {
		return err
	}
	doc := f.Document(handle)
	if doc == nil {
		return ErrNoDocument
	}
	doc.Sheets = append(doc.Sheets, name)
	if doc.Extents == nil {
		doc.Extents = map[string]string{}
	}
	doc.Extents[name] = "A1:A1"
	return nil
}

func (f *Fake) SheetExtent(_ context.Context, handle DocumentHandle, sheet string) (string, error) {
	if err := f.check("SheetExtent"); err != nil {
		return "", err
	}
	doc := f.Document(handle)
	if doc == nil {
		return "", ErrNoDocument
	}
	extent, ok := doc.Extents[sheet]
	if !ok {
		return "", &DriverError{Op: "SheetExtent", Message: "no such sheet: " + sheet}
	}
	return extent, nil
}

func (f *Fake) ReadFirstRow(_ context.Context, handle DocumentHandle, sheet string, maxCells int) ([]string, error) {
	if err := f.check("ReadFirstRow"); err != nil {
		return nil, err
	}
	doc := f.Document(handle)
	if doc == nil {
		return nil, ErrNoDocument
	}
	row := doc.FirstRows[sheet]
	if maxCells > 0 && len(row) > maxCells {
		row = row[:maxCells]
	}
	return append([]string(nil), row...), nil
}

func (f *Fake) ListNamedRanges(_ context.Context, handle DocumentHandle) (map[string]string, error) {
	if err := f.check("ListNamedRanges"); err != nil {
		return nil, err
	}
	doc := f.Document(handle)
	if doc == nil {
		return nil, ErrNoDocument
	}
	names := make(map[string]string, len(doc.Names))
	for k, v := range doc.Names {
		names[k] = v
	}
	return names, nil
}

func removeHandle(order []DocumentHandle, handle DocumentHandle) []DocumentHandle {
	for i, h := range order {
		if h == handle {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
