package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lox/fissure/internal/models"
)

// SaveLag writes the ranked features of a lag run and, when the run had enough
// readings to be scored, its regression summary.
func (s *Store) SaveLag(runID string, scores []models.LagScore, fit *models.LagFit) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i, sc := range scores {
		if _, err := tx.Exec(`
			INSERT INTO lag_scores (run_id, rank, feature, correlation)
			VALUES (?, ?, ?, ?)
		`, runID, i+1, sc.Feature, sc.Correlation); err != nil {
			return fmt.Errorf("insert lag score %s: %w", sc.Feature, err)
		}
	}

	if fit != nil {
		if _, err := tx.Exec(`
			INSERT INTO lag_fits (run_id, readings, num_params, intercept, rmse, mape, r2,
				adj_r2, aic, bic, pearson_r, p_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, fit.Readings, fit.NumParams, fit.Intercept, fit.RMSE, fit.MAPE, fit.R2,
			nullable(fit.AdjR2), nullable(fit.AIC), nullable(fit.BIC), nullable(fit.PearsonR), nullable(fit.PValue)); err != nil {
			return fmt.Errorf("insert lag fit: %w", err)
		}
		for i, c := range fit.Coefficients {
			if _, err := tx.Exec(`
				INSERT INTO lag_coefficients (run_id, position, feature, coefficient)
				VALUES (?, ?, ?, ?)
			`, runID, i, c.Feature, c.Coefficient); err != nil {
				return fmt.Errorf("insert coefficient %s: %w", c.Feature, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debugf("saved lag run %s: %d scores, fit=%t", runID, len(scores), fit != nil)
	return nil
}

// GetLagScores returns a lag run's features in rank order.
func (s *Store) GetLagScores(runID string) ([]models.LagScore, error) {
	rows, err := s.db.Query(`
		SELECT feature, correlation
		FROM lag_scores
		WHERE run_id = ?
		ORDER BY rank ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []models.LagScore
	for rows.Next() {
		var sc models.LagScore
		if err := rows.Scan(&sc.Feature, &sc.Correlation); err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// GetLagFit returns the regression summary of a lag run, or nil when the run
// had too few readings to fit.
func (s *Store) GetLagFit(runID string) (*models.LagFit, error) {
	var fit models.LagFit
	err := s.db.QueryRow(`
		SELECT readings, num_params, intercept, rmse, mape, r2, adj_r2, aic, bic, pearson_r, p_value
		FROM lag_fits
		WHERE run_id = ?
	`, runID).Scan(&fit.Readings, &fit.NumParams, &fit.Intercept, &fit.RMSE, &fit.MAPE, &fit.R2,
		&fit.AdjR2, &fit.AIC, &fit.BIC, &fit.PearsonR, &fit.PValue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT feature, coefficient
		FROM lag_coefficients
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.LagCoefficient
		if err := rows.Scan(&c.Feature, &c.Coefficient); err != nil {
			return nil, err
		}
		fit.Coefficients = append(fit.Coefficients, c)
	}
	return &fit, rows.Err()
}
