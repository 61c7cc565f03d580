// Package ledger records which health conditions have an outstanding,
// unresolved notification. A record's presence is the whole signal: there is
// no timestamp or retry counter in the contract.
package ledger

import (
	"context"
	"errors"
	"strings"
)

const (
	// ConditionDisk identifies the free disk space condition.
	ConditionDisk = "disk"
	// ConditionService identifies the process liveness condition.
	ConditionService = "service"
)

// ErrEmptyID is returned when an operation receives a blank condition id.
var ErrEmptyID = errors.New("ledger: condition id must not be empty")

// Ledger persists one boolean per condition id across agent invocations.
type Ledger interface {
	// Exists reports whether a record is currently persisted for id.
	Exists(ctx context.Context, id string) (bool, error)
	// Mark persists a record for id. Marking an existing record is a no-op.
	Mark(ctx context.Context, id string) error
	// Clear removes the record for id. Clearing an absent record is a no-op.
	Clear(ctx context.Context, id string) error
}

// Lister is implemented by ledgers able to enumerate active records.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// DiskID returns the condition id for free space on path.
func DiskID(path string) string {
	return ConditionDisk + ":" + path
}

// ServiceID returns the condition id for the liveness of service.
func ServiceID(service string) string {
	return ConditionService + ":" + service
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyID
	}
	return nil
}

// ConditionOf returns the condition kind encoded in id, or "" when id carries
// no recognised prefix.
func ConditionOf(id string) string {
	kind, _, ok := strings.Cut(id, ":")
	if !ok {
		return ""
	}
	switch kind {
	case ConditionDisk, ConditionService:
		return kind
	}
	return ""
}
