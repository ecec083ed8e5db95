// Package profile implements ProfileBuilder (§4.I): applies extractor-
// emitted profile patches to a per-(user_id, group_id) Profile under a
// last-writer-wins rule with a recency-window confidence exception, and
// maintains a bounded, versioned provenance log.
//
// Grounded on the teacher's evolving.go MemoryEditOp/ApplyEdits UPDATE_TAG
// case (attribute-scoped last-writer-wins patch application over a
// in-memory record), generalized here to the (attribute_path, confidence,
// timestamp) patch contract this engine needs.
package profile

import (
	"context"
	"time"

	"memoria/internal/config"
	"memoria/internal/merrors"
	"memoria/internal/model"
	"memoria/internal/ports"
)

// Builder applies ProfilePatch values to persisted Profile rows.
type Builder struct {
	cfg  config.ProfileConfig
	docs ports.DocStore
}

// New constructs a Builder.
func New(cfg config.ProfileConfig, docs ports.DocStore) *Builder {
	return &Builder{cfg: cfg, docs: docs}
}

func profileRecordID(userID, groupID string) string { return userID + "|" + groupID }

// ApplyPatch applies one patch to the (user_id, group_id) profile, per the
// last-writer-wins rule scoped by attribute_path (§4.I): the patch is
// skipped only when its confidence is strictly lower than the attribute's
// stored confidence AND the stored entry is within the recency window.
func (b *Builder) ApplyPatch(ctx context.Context, patch model.ProfilePatch) error {
	recordID := profileRecordID(patch.UserID, patch.GroupID)

	row, err := b.docs.Get(ctx, recordID)
	now := patch.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var prof model.Profile
	version := 0
	if err != nil {
		prof = model.Profile{
			Envelope:   model.Envelope{CreatedAt: now, Version: 0},
			UserID:     patch.UserID,
			GroupID:    patch.GroupID,
			Attributes: map[string]interface{}{},
		}
	} else {
		prof = decodeProfile(row)
		version = row.Version
	}

	if prior, ok := findProvenance(prof.Provenance, patch.AttributePath); ok {
		recencyWindow := b.cfg.RecencyWindow
		if recencyWindow <= 0 {
			recencyWindow = 30 * 24 * time.Hour
		}
		withinWindow := now.Sub(prior.Timestamp) < recencyWindow
		if patch.Confidence < prior.Confidence && withinWindow {
			return nil // skipped: lower-confidence patch within recency window
		}
	}

	if prof.Attributes == nil {
		prof.Attributes = map[string]interface{}{}
	}
	prof.Attributes[patch.AttributePath] = patch.Value
	prof.LastUpdated = now
	prof.Provenance = appendProvenance(prof.Provenance, model.ProvenanceEntry{
		AttributePath:      patch.AttributePath,
		ProvenanceMemoryID: patch.ProvenanceMemoryID,
		Confidence:         patch.Confidence,
		Timestamp:          now,
	}, b.maxProvenanceEntries())

	newRow := ports.DocRow{
		MemoryID:  recordID,
		Type:      model.MemoryTypeProfile,
		UserID:    patch.UserID,
		GroupID:   patch.GroupID,
		CreatedAt: prof.Envelope.CreatedAt,
		Version:   version + 1,
		Fields: map[string]interface{}{
			"user_id": prof.UserID, "group_id": prof.GroupID, "attributes": prof.Attributes,
			"last_updated": prof.LastUpdated, "provenance": prof.Provenance,
		},
	}
	if err := b.docs.Put(ctx, newRow); err != nil {
		return merrors.Transient("profile: put failed", err)
	}
	return nil
}

func (b *Builder) maxProvenanceEntries() int {
	if b.cfg.MaxProvenanceEntries <= 0 {
		return 200
	}
	return b.cfg.MaxProvenanceEntries
}

func findProvenance(entries []model.ProvenanceEntry, attributePath string) (model.ProvenanceEntry, bool) {
	var best model.ProvenanceEntry
	found := false
	for _, e := range entries {
		if e.AttributePath != attributePath {
			continue
		}
		if !found || e.Timestamp.After(best.Timestamp) {
			best = e
			found = true
		}
	}
	return best, found
}

func appendProvenance(entries []model.ProvenanceEntry, next model.ProvenanceEntry, max int) []model.ProvenanceEntry {
	entries = append(entries, next)
	if len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	return entries
}

// decodeProfile reconstructs a Profile from a DocRow's generic Fields map.
// Fields populated by this package's own Put calls always match these
// shapes; a production wiring would json round-trip instead.
func decodeProfile(row ports.DocRow) model.Profile {
	prof := model.Profile{
		Envelope: model.Envelope{CreatedAt: row.CreatedAt, Deleted: row.Deleted, Version: row.Version},
		UserID:   row.UserID,
		GroupID:  row.GroupID,
	}
	if attrs, ok := row.Fields["attributes"].(map[string]interface{}); ok {
		prof.Attributes = attrs
	} else {
		prof.Attributes = map[string]interface{}{}
	}
	if lu, ok := row.Fields["last_updated"].(time.Time); ok {
		prof.LastUpdated = lu
	}
	if prov, ok := row.Fields["provenance"].([]model.ProvenanceEntry); ok {
		prof.Provenance = prov
	}
	return prof
}

// Fetch reads the persisted profile for (user_id, group_id), if any.
func (b *Builder) Fetch(ctx context.Context, userID, groupID string) (model.Profile, bool, error) {
	row, err := b.docs.Get(ctx, profileRecordID(userID, groupID))
	if err != nil {
		return model.Profile{}, false, nil
	}
	return decodeProfile(row), true, nil
}
