// Package bridge manages the connection to the spreadsheet automation host.
// A Driver abstracts the host process and its open documents behind opaque
// handles; a Session layers lifecycle state (connect, liveness, reconnect,
// close) on top so the rest of the engine never touches a stale handle.
package bridge

import "context"

type InstanceID string

type DocumentHandle string

// Identity names a document by its saved path and its window display name.
// Path is empty for documents that were never saved to disk.
type Identity struct {
	Path        string `json:"path,omitempty"`
	DisplayName string `json:"display_name"`
}

// DocumentRef pairs a live handle with the identity it had when listed.
type DocumentRef struct {
	Handle   DocumentHandle
	Identity Identity
}

// Driver is the minimal automation surface the engine needs from the host.
// Every call either succeeds or fails as a unit; the resilience logic above
// it never depends on why a call failed, only whether it did.
type Driver interface {
	ListInstances(ctx context.Context) ([]InstanceID, error)
	Launch(ctx context.Context) (InstanceID, error)
	TerminateInstance(ctx context.Context, instance InstanceID) error

	ListDocuments(ctx context.Context, instance InstanceID) ([]DocumentRef, error)
	OpenFile(ctx context.Context, instance InstanceID, path string) (DocumentHandle, error)
	NewDocument(ctx context.Context, instance InstanceID) (DocumentHandle, error)
	CloseDocument(ctx context.Context, handle DocumentHandle, discardChanges bool) error
	ActivateDocument(ctx context.Context, handle DocumentHandle) error
	IsHandleValid(ctx context.Context, handle DocumentHandle) bool
	DocumentIdentity(ctx context.Context, handle DocumentHandle) (Identity, error)
	PersistToFile(ctx context.Context, handle DocumentHandle, path string) error

	ListSheets(ctx context.Context, handle DocumentHandle) ([]string, error)
	AddSheet(ctx context.Context, handle DocumentHandle, name string) error
	SheetExtent(ctx context.Context, handle DocumentHandle, sheet string) (string, error)
	ReadFirstRow(ctx context.Context, handle DocumentHandle, sheet string, maxCells int) ([]string, error)
	ListNamedRanges(ctx context.Context, handle DocumentHandle) (map[string]string, error)
}
