package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/digkill/TGArtBot/internal/models"
)

// ModelRepository reads the model catalog. The catalog is seeded at
// migration time and read-only for the bot.
type ModelRepository struct {
	db *sql.DB
}

func NewModelRepository(db *sql.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

func (r *ModelRepository) Get(ctx context.Context, id string) (*models.Model, error) {
	const query = `
SELECT id, name, category, provider_type, base_credits, params_json
FROM catalog_models WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	m, err := scanModel(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *ModelRepository) List(ctx context.Context) ([]*models.Model, error) {
	const query = `
SELECT id, name, category, provider_type, base_credits, params_json
FROM catalog_models ORDER BY category, name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*models.Model
	for rows.Next() {
		m, err := scanModel(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanModel(scan func(...any) error) (*models.Model, error) {
	var m models.Model
	var paramsJSON string
	if err := scan(&m.ID, &m.Name, &m.Category, &m.ProviderType, &m.BaseCredits, &paramsJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &m.Params); err != nil {
		return nil, fmt.Errorf("parse params for model %s: %w", m.ID, err)
	}
	return &m, nil
}
