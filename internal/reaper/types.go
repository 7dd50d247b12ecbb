// Package reaper implements C7, the Entropy Reaper: a periodic scan that
// reclaims registry entities whose vitality tokens have gone stale, with a
// dry-run mode and a revivable archive. Grounded on
// internal/evidence/vault.go's record shape (EvidenceChain/EvidenceRecord's
// "append, index, never mutate in place" discipline carries over to the
// death manifest and archive entries here); manifests are not hash-linked
// to one another.
package reaper

import (
	"errors"
	"time"
)

// ErrManifestNotFound is returned by Resurrect when no archived manifest
// matches the given revival key.
var ErrManifestNotFound = errors.New("reaper: no manifest matches this revival key")

// Entity is one registry row the reaper tracks (spec §3/§4.7).
type Entity struct {
	ID                string
	Path              string
	Dependents        int
	LastVitalityCycle int64
}

// DeathReason is why an entity was marked for reclamation.
type DeathReason string

const (
	ReasonStale  DeathReason = "STALE"
	ReasonOrphan DeathReason = "ORPHAN"
)

// DeathRecord is one entry in a reap report's death list.
type DeathRecord struct {
	EntityID   string
	Path       string
	Reason     DeathReason
	Age        int64
	RevivalKey string
}

// Manifest is written alongside an archived artifact so resurrect() can
// find and restore it later.
type Manifest struct {
	EntityID     string
	OriginalPath string
	Reason       DeathReason
	Age          int64
	Snapshot     Entity
	RevivalKey   string
	ArchivedAtMs int64
	ArchivePath  string
}

// Report is reap()'s summary, per spec §4.7.
type Report struct {
	Scanned    int
	Marked     int
	Archived   int
	Preserved  int
	BytesSaved int64
	DeathList  []DeathRecord
}

// Event is emitted on cycle milestones and vitality rejections, mirroring
// the Dispatcher/Engine Event pattern used elsewhere in the core.
type Event struct {
	Kind      string
	EntityID  string
	Cycle     int64
	Timestamp time.Time
}

// DefaultStaleThreshold is STALE_THRESHOLD's default (spec §4.7).
const DefaultStaleThreshold = 10000

// PersistEveryTicks and MilestoneEveryTicks are advance_cycle's two
// periodic side effects (spec §4.7).
const (
	PersistEveryTicks   = 100
	MilestoneEveryTicks = 1000
)
