package vault

import "fmt"

var (
	// ErrNotFound is returned for absent and soft-deleted documents alike;
	// callers cannot distinguish the two.
	ErrNotFound = fmt.Errorf("document not found")

	// ErrClosed is returned when the store has been closed
	ErrClosed = fmt.Errorf("store is closed")
)
