package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"github.com/ocx/aec/internal/clock"
	"github.com/ocx/aec/internal/randsrc"
	"github.com/ocx/aec/internal/store"
	"github.com/ocx/aec/internal/vitality"
)

// Reaper drives C7's registry scan-and-reclaim cycle.
type Reaper struct {
	mu sync.Mutex

	kv       store.KV
	clock    clock.Clock
	rand     randsrc.Source
	vitality *vitality.Service
	archive  Archiver
	onEvent  func(Event)

	registry          map[string]*Entity
	cycle             int64
	ticksSincePersist int

	staleThreshold    int64
	maxArchiveBytes   int64
	protectedPatterns []*regexp.Regexp
	dryRun            bool
}

// Config configures a Reaper.
type Config struct {
	Store             store.KV
	Clock             clock.Clock
	Random            randsrc.Source
	Vitality          *vitality.Service
	Archive           Archiver
	OnEvent           func(Event)
	StaleThreshold    int64
	MaxArchiveBytes   int64
	ProtectedPatterns []string
	DryRun            bool
}

// New constructs a Reaper, loading any previously persisted registry and
// cycle count from cfg.Store.
func New(ctx context.Context, cfg Config) (*Reaper, error) {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	rnd := cfg.Random
	if rnd == nil {
		rnd = randsrc.New()
	}
	threshold := cfg.StaleThreshold
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.ProtectedPatterns))
	for _, p := range cfg.ProtectedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("reaper: invalid protected pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	cycle, registry := int64(0), make(map[string]*Entity)
	if cfg.Store != nil {
		var err error
		cycle, registry, err = loadPersisted(ctx, cfg.Store)
		if err != nil {
			return nil, err
		}
	}

	return &Reaper{
		kv:                cfg.Store,
		clock:             c,
		rand:              rnd,
		vitality:          cfg.Vitality,
		archive:           cfg.Archive,
		onEvent:           cfg.OnEvent,
		registry:          registry,
		cycle:             cycle,
		staleThreshold:    threshold,
		maxArchiveBytes:   cfg.MaxArchiveBytes,
		protectedPatterns: patterns,
		dryRun:            cfg.DryRun,
	}, nil
}

// Register adds or updates entity's tracked metadata (path, dependent
// count) without touching its vitality cycle. Used when an entity first
// enters the registry, ahead of any RecordAccess/RegisterVitality call.
func (r *Reaper) Register(entity Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.registry[entity.ID]
	if ok {
		entity.LastVitalityCycle = existing.LastVitalityCycle
	} else {
		entity.LastVitalityCycle = r.cycle
	}
	r.registry[entity.ID] = &entity
}

// RecordAccess updates entityID's last_vitality_cycle to the current
// tick, per spec §4.7. Entities not yet tracked are created with no
// dependents and an empty path.
func (r *Reaper) RecordAccess(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch(entityID)
}

func (r *Reaper) touch(entityID string) {
	e, ok := r.registry[entityID]
	if !ok {
		e = &Entity{ID: entityID}
		r.registry[entityID] = e
	}
	e.LastVitalityCycle = r.cycle
}

// RegisterVitality verifies token via the Token Service and, on success,
// behaves as RecordAccess; on failure it emits vitality:rejected and
// leaves the registry untouched (spec §4.7). Implements
// workflow.VitalityRegistrar so C6 can hand off tokens directly.
func (r *Reaper) RegisterVitality(ctx context.Context, moduleID, token string) (bool, error) {
	if r.vitality == nil {
		return false, fmt.Errorf("reaper: no token service configured")
	}
	result := r.vitality.Verify(token, moduleID)
	if !result.OK {
		r.emit(Event{Kind: "vitality:rejected", EntityID: sanitizeClaimedID(moduleID), Cycle: r.currentCycle(), Timestamp: r.clock.Now()})
		return false, nil
	}
	r.mu.Lock()
	r.touch(moduleID)
	r.mu.Unlock()
	return true, nil
}

// nonPrintable matches any byte outside printable ASCII, the set spec §4.3
// step 2 requires stripped from a claimed module id before it reaches an
// error message or event, since a caller-supplied id on the mismatch path
// is otherwise unvalidated input.
var nonPrintable = regexp.MustCompile(`[^\x20-\x7e]`)

func sanitizeClaimedID(id string) string {
	return nonPrintable.ReplaceAllString(id, "")
}

func (r *Reaper) currentCycle() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle
}

// AdvanceCycle increments the monotonic cycle counter, persisting every
// PersistEveryTicks ticks and emitting a milestone event every
// MilestoneEveryTicks ticks (spec §4.7).
func (r *Reaper) AdvanceCycle(ctx context.Context) (int64, error) {
	r.mu.Lock()
	r.cycle++
	cycle := r.cycle
	r.ticksSincePersist++
	shouldPersist := r.ticksSincePersist >= PersistEveryTicks
	if shouldPersist {
		r.ticksSincePersist = 0
	}
	milestone := cycle%MilestoneEveryTicks == 0
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if shouldPersist && r.kv != nil {
		if err := savePersisted(ctx, r.kv, cycle, snapshot); err != nil {
			return cycle, err
		}
	}
	if milestone {
		r.emit(Event{Kind: "cycle:milestone", Cycle: cycle, Timestamp: r.clock.Now()})
	}
	return cycle, nil
}

func (r *Reaper) snapshotLocked() map[string]*Entity {
	snap := make(map[string]*Entity, len(r.registry))
	for id, e := range r.registry {
		copyEntity := *e
		snap[id] = &copyEntity
	}
	return snap
}

// isProtected reports whether path matches any configured protected
// pattern.
func (r *Reaper) isProtected(path string) bool {
	for _, re := range r.protectedPatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Reap scans the registry and reclaims stale or orphaned entities, per
// spec §4.7. File operations are best-effort: a failure to archive one
// entity does not abort the scan.
func (r *Reaper) Reap(ctx context.Context) Report {
	r.mu.Lock()
	entities := make([]Entity, 0, len(r.registry))
	for _, e := range r.registry {
		entities = append(entities, *e)
	}
	cycle := r.cycle
	r.mu.Unlock()

	report := Report{Scanned: len(entities)}

	for _, e := range entities {
		reason, dead := r.classify(&e, cycle)
		if !dead {
			report.Preserved++
			continue
		}
		report.Marked++

		age := cycle - e.LastVitalityCycle
		revivalKey, err := r.rand.Hex(16)
		if err != nil {
			slog.Warn("reaper: failed to generate revival key, skipping archive", "entity", e.ID, "error", err)
			continue
		}
		record := DeathRecord{EntityID: e.ID, Path: e.Path, Reason: reason, Age: age, RevivalKey: revivalKey}
		report.DeathList = append(report.DeathList, record)

		if r.dryRun || r.archive == nil {
			continue
		}

		bytesSaved, err := r.archiveEntity(e, reason, age, revivalKey)
		if err != nil {
			slog.Warn("reaper: failed to archive entity", "entity", e.ID, "error", err)
			continue
		}
		report.Archived++
		report.BytesSaved += bytesSaved

		r.mu.Lock()
		delete(r.registry, e.ID)
		r.mu.Unlock()
	}

	return report
}

func (r *Reaper) classify(e *Entity, cycle int64) (DeathReason, bool) {
	if r.isProtected(e.Path) || e.Dependents > 0 {
		return "", false
	}
	age := cycle - e.LastVitalityCycle
	if age >= r.staleThreshold {
		return ReasonStale, true
	}
	if age > r.staleThreshold/2 && e.Dependents == 0 {
		return ReasonOrphan, true
	}
	return "", false
}

func (r *Reaper) archiveEntity(e Entity, reason DeathReason, age int64, revivalKey string) (int64, error) {
	archivePath, bytesMoved, err := r.archive.Move(e.Path, e.ID)
	if err != nil {
		return 0, err
	}
	manifest := Manifest{
		EntityID:     e.ID,
		OriginalPath: e.Path,
		Reason:       reason,
		Age:          age,
		Snapshot:     e,
		RevivalKey:   revivalKey,
		ArchivedAtMs: r.clock.NowMillis(),
		ArchivePath:  archivePath,
	}
	if err := r.archive.WriteManifest(manifest); err != nil {
		return bytesMoved, fmt.Errorf("reaper: archived %s but failed to write its manifest: %w", e.ID, err)
	}
	return bytesMoved, nil
}

// Resurrect finds the manifest matching revivalKey, restores its artifact
// to its original path, re-registers the entity at the current cycle, and
// removes the archive entry.
func (r *Reaper) Resurrect(ctx context.Context, revivalKey string) (*Entity, error) {
	if r.archive == nil {
		return nil, fmt.Errorf("reaper: no archiver configured")
	}
	manifests, err := r.archive.Manifests()
	if err != nil {
		return nil, fmt.Errorf("reaper: list manifests: %w", err)
	}

	var found *Manifest
	for i := range manifests {
		if manifests[i].RevivalKey == revivalKey {
			found = &manifests[i]
			break
		}
	}
	if found == nil {
		return nil, ErrManifestNotFound
	}

	if err := r.archive.Restore(found.ArchivePath, found.OriginalPath); err != nil {
		return nil, err
	}

	r.mu.Lock()
	entity := found.Snapshot
	entity.LastVitalityCycle = r.cycle
	r.registry[entity.ID] = &entity
	r.mu.Unlock()

	if err := r.archive.Remove(found.ArchivePath); err != nil {
		slog.Warn("reaper: restored entity but failed to clear its archive entry", "entity", entity.ID, "error", err)
	}

	return &entity, nil
}

// CleanArchive deletes the oldest archive entries until total archive
// bytes fall at or below MAX_ARCHIVE_BYTES, per spec §4.7.
func (r *Reaper) CleanArchive(ctx context.Context) (int64, error) {
	if r.archive == nil || r.maxArchiveBytes <= 0 {
		return 0, nil
	}
	manifests, err := r.archive.Manifests()
	if err != nil {
		return 0, fmt.Errorf("reaper: list manifests: %w", err)
	}

	type sizedEntry struct {
		manifest Manifest
		size     int64
	}
	entries := make([]sizedEntry, 0, len(manifests))
	var total int64
	for _, m := range manifests {
		size, err := r.archive.Size(m.ArchivePath)
		if err != nil {
			slog.Warn("reaper: failed to stat archived artifact during cleanup", "entity", m.EntityID, "error", err)
			continue
		}
		entries = append(entries, sizedEntry{manifest: m, size: size})
		total += size
	}

	// entries is oldest-first, since Manifests() sorts by ArchivedAtMs.
	var freed int64
	for _, en := range entries {
		if total <= r.maxArchiveBytes {
			break
		}
		if err := r.archive.Remove(en.manifest.ArchivePath); err != nil {
			slog.Warn("reaper: failed to remove archive entry during cleanup", "entity", en.manifest.EntityID, "error", err)
			continue
		}
		total -= en.size
		freed += en.size
	}
	return freed, nil
}

// Snapshot returns a defensive copy of the registry, for diagnostics.
func (r *Reaper) Snapshot() map[string]Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Entity, len(r.registry))
	for id, e := range r.registry {
		out[id] = *e
	}
	return out
}

// Cycle returns the current tick count.
func (r *Reaper) Cycle() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycle
}

func (r *Reaper) emit(ev Event) {
	if r.onEvent != nil {
		r.onEvent(ev)
		return
	}
	slog.Debug("reaper event", "kind", ev.Kind, "entity", ev.EntityID, "cycle", ev.Cycle)
}
