// Package waitlist manages standing requests for earlier openings and the
// rules deciding which entries a vacated gap may be offered to.
package waitlist

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

const (
	// An entry stops receiving offers after this many unanswered notifies.
	maxNotifies = 3

	// Minimum spacing between two offers to the same entry.
	notifyCooldown = 2 * time.Hour
)

type Store interface {
	FindEntry(ctx context.Context, ownerID, clientID, serviceID string) (model.WaitlistEntry, error)
	InsertEntry(ctx context.Context, entry model.WaitlistEntry) error
	UpdateEntry(ctx context.Context, entry model.WaitlistEntry) error
	DeleteEntry(ctx context.Context, ownerID, entryID string) error
	EntriesForOwner(ctx context.Context, ownerID string) ([]model.WaitlistEntry, error)
}

type JoinRequest struct {
	OwnerID     string
	ClientID    string
	ServiceID   string
	WindowStart time.Time
	WindowEnd   time.Time
	Priority    int
}

type Manager struct {
	store Store
	now   func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Join adds the client to the owner's waitlist. A repeat join for the same
// client and service merges into the existing entry: the window widens to
// cover both requests and the higher priority wins, so rejoining never
// narrows what the client already asked for.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (model.WaitlistEntry, error) {
	if !req.WindowEnd.After(req.WindowStart) {
		return model.WaitlistEntry{}, fmt.Errorf("%w: window end must be after window start", model.ErrInvalidInput)
	}

	existing, err := m.store.FindEntry(ctx, req.OwnerID, req.ClientID, req.ServiceID)
	switch {
	case err == nil:
		if req.WindowStart.Before(existing.WindowStart) {
			existing.WindowStart = req.WindowStart
		}
		if req.WindowEnd.After(existing.WindowEnd) {
			existing.WindowEnd = req.WindowEnd
		}
		if req.Priority > existing.Priority {
			existing.Priority = req.Priority
		}
		if err := m.store.UpdateEntry(ctx, existing); err != nil {
			return model.WaitlistEntry{}, err
		}
		return existing, nil
	case err == model.ErrNotFound:
		entry := model.WaitlistEntry{
			ID:          uuid.NewString(),
			OwnerID:     req.OwnerID,
			ClientID:    req.ClientID,
			ServiceID:   req.ServiceID,
			WindowStart: req.WindowStart,
			WindowEnd:   req.WindowEnd,
			Priority:    req.Priority,
			CreatedAt:   m.now().UTC(),
		}
		if err := m.store.InsertEntry(ctx, entry); err != nil {
			return model.WaitlistEntry{}, err
		}
		return entry, nil
	default:
		return model.WaitlistEntry{}, err
	}
}

func (m *Manager) Leave(ctx context.Context, ownerID, entryID string) error {
	return m.store.DeleteEntry(ctx, ownerID, entryID)
}

func (m *Manager) Entries(ctx context.Context, ownerID string) ([]model.WaitlistEntry, error) {
	return m.store.EntriesForOwner(ctx, ownerID)
}

// Covers reports whether the entry's requested window fully contains the gap.
func Covers(e model.WaitlistEntry, gap model.Gap) bool {
	return !e.WindowStart.After(gap.Start) && !gap.End.After(e.WindowEnd)
}

// Eligible reports whether the entry may receive another offer at now. An
// entry that has been notified maxNotifies times, or within the cooldown, is
// skipped rather than spammed.
func Eligible(e model.WaitlistEntry, now time.Time) bool {
	if e.NotifyCount >= maxNotifies {
		return false
	}
	if e.LastNotifiedAt != nil && now.Sub(*e.LastNotifiedAt) < notifyCooldown {
		return false
	}
	return true
}

// Match selects up to limit entries for a gap: the entry's window must cover
// the gap and the entry must be eligible for another offer. Higher priority
// first; among equals, the longest-waiting entry wins.
func Match(entries []model.WaitlistEntry, gap model.Gap, now time.Time, limit int) []model.WaitlistEntry {
	var matched []model.WaitlistEntry
	for _, e := range entries {
		if Covers(e, gap) && Eligible(e, now) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}
