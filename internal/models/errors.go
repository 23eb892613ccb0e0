package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMalformedMetadata indicates a metadata object whose shape does not
	// match its type tag, e.g. a standard contract without a fields list.
	ErrMalformedMetadata = errors.New("malformed metadata")

	// ErrUnresolvedPlaceholder is returned by strict substitution when a
	// template references a variable that has no value.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
)

// NotFoundError names the entity that was looked up. It matches ErrNotFound
// with errors.Is.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DocumentNotFound builds the error returned for a missing document id.
func DocumentNotFound(id string) error {
	return &NotFoundError{Kind: "document", ID: id}
}

func RoomNotFound(id string) error {
	return &NotFoundError{Kind: "room", ID: id}
}
