package coordinator

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// UploadResult reports how many copies an upload placed. Stored < Required
// is partial replication: a degraded success, not an error. Failed lists
// Active nodes that were tried but rejected the copy.
type UploadResult struct {
	Filename string
	Stored   int
	Required int
	Nodes    []string
	Failed   []string
}

func (r UploadResult) Partial() bool {
	return r.Stored < r.Required
}

type DownloadResult struct {
	Data  []byte
	Node  string
	Index int
}

// NodeTransition describes the outcome of FailNode or RecoverNode. Index is 1-based.
type NodeTransition struct {
	Index   int
	Name    string
	Active  bool
	Changed bool
}

// FileRepair records the copies one repair pass made for a file.
type FileRepair struct {
	Filename string
	Source   string
	Targets  []string
	Before   int
	After    int
}

// RepairReport summarises one repair pass. UnderReplicated, Unrecoverable
// and Failed are disjoint.
type RepairReport struct {
	ID              uuid.UUID
	StartedAt       time.Time
	Duration        time.Duration
	Repairs         []FileRepair
	UnderReplicated []string
	Unrecoverable   []string
	Failed          []RepairFailure
}

// Copies is the number of replicas the pass created.
func (r RepairReport) Copies() int {
	n := 0
	for _, repair := range r.Repairs {
		n += len(repair.Targets)
	}
	return n
}

// Err joins an UnrecoverableError per lost file and a RepairFailure per file
// whose source could not be read, or returns nil.
func (r RepairReport) Err() error {
	errs := make([]error, 0, len(r.Unrecoverable)+len(r.Failed))
	for _, filename := range r.Unrecoverable {
		errs = append(errs, &UnrecoverableError{Filename: filename})
	}
	for i := range r.Failed {
		errs = append(errs, &r.Failed[i])
	}
	return errors.Join(errs...)
}

// NodeListing is one node's row in ListFiles. Index is 1-based.
type NodeListing struct {
	Index  int
	Name   string
	Active bool
	Files  []string
}
