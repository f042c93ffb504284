package index

import "errors"

var (
	// ErrNotFound is returned by reads and updates before CreateIndex has run
	// or after DropIndex.
	ErrNotFound = errors.New("index does not exist")
	// ErrAlreadyExists is returned by CreateIndex unless DeleteIfExists is set.
	ErrAlreadyExists = errors.New("index already exists")
	// ErrDuplicateID is returned by InsertItem when the id is taken.
	ErrDuplicateID = errors.New("item already exists")
	// ErrUpdateInProgress is returned by BeginUpdate, CreateIndex and DropIndex
	// while another update is open.
	ErrUpdateInProgress = errors.New("update already in progress")
	// ErrNoUpdateInProgress is returned by EndUpdate without a matching BeginUpdate.
	ErrNoUpdateInProgress = errors.New("no update in progress")
	// ErrVectorRequired is returned when an item without a vector is added.
	ErrVectorRequired = errors.New("vector is required")
)
