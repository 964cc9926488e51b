package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ludari/ludari"
	"github.com/ludari/ludari/id"
	"github.com/ludari/ludari/storage"
)

// GetControl returns the Control singleton, or (nil, nil) if absent.
func (s *Store) GetControl(ctx context.Context) (*storage.Control, error) {
	m := new(controlModel)
	err := s.db.NewSelect().Model(m).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ludari/bun: get control: %w", err)
	}
	return fromControlModel(m)
}

// CreateControl persists the Control singleton. A second row is refused.
func (s *Store) CreateControl(ctx context.Context, c *storage.Control) (*storage.Control, error) {
	count, err := s.db.NewSelect().Model((*controlModel)(nil)).Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: count controls: %w", err)
	}
	if count > 0 {
		return nil, ludari.NewConflict("control already exists")
	}

	cp := c.Clone()
	if cp.Entity.CreatedAt.IsZero() {
		cp.Entity = ludari.NewEntity()
	}
	if _, err = s.db.NewInsert().Model(toControlModel(cp)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return nil, ludari.NewConflict("control already exists")
		}
		return nil, fmt.Errorf("ludari/bun: create control: %w", err)
	}
	return cp, nil
}

// UpdateControl applies a partial update. When the patch carries
// ExpectVersion, the update predicate enforces it atomically: zero rows
// affected against an existing row means the version moved underneath us.
func (s *Store) UpdateControl(ctx context.Context, controlID id.ControlID, patch storage.ControlPatch) (*storage.Control, error) {
	q := s.db.NewUpdate().Model((*controlModel)(nil)).
		Where("id = ?", controlID.String()).
		Set("updated_at = ?", time.Now().UTC())

	if patch.Enabled != nil {
		q = q.Set("enabled = ?", *patch.Enabled)
	}
	if patch.LogLevel != nil {
		q = q.Set("log_level = ?", string(*patch.LogLevel))
	}
	if patch.ReplicasSet {
		q = q.Set("replicas = ?", string(marshalStrings(patch.Replicas)))
	}
	if patch.StaleSet {
		q = q.Set("stale = ?", string(marshalStrings(patch.Stale)))
	}
	if patch.Version != nil {
		q = q.Set("version = ?", *patch.Version)
	}
	if patch.ExpectVersion != nil {
		q = q.Where("version = ?", *patch.ExpectVersion)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("ludari/bun: update control: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		exists, countErr := s.db.NewSelect().Model((*controlModel)(nil)).
			Where("id = ?", controlID.String()).
			Exists(ctx)
		if countErr != nil {
			return nil, fmt.Errorf("ludari/bun: update control recheck: %w", countErr)
		}
		if !exists {
			return nil, ludari.NewNotFound("control", controlID.String())
		}
		return nil, ludari.NewConflict("control version mismatch")
	}

	m := new(controlModel)
	if err = s.db.NewSelect().Model(m).Where("id = ?", controlID.String()).Scan(ctx); err != nil {
		return nil, fmt.Errorf("ludari/bun: reload control: %w", err)
	}
	return fromControlModel(m)
}
