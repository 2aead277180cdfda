package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"decisiond/internal/model"
)

// SaveRecommendation persists a single agent recommendation. Satisfies
// the orchestrator's RecommendationSaver.
func (s *DB) SaveRecommendation(ctx context.Context, rec model.AgentRecommendation) error {
	data, err := json.Marshal(rec.Recommendation)
	if err != nil {
		return fmt.Errorf("marshal recommendation: %w", err)
	}
	_, err = s.sql.ExecContext(ctx, s.Rebind(`
		INSERT INTO agent_recommendations (recommendation_id, case_id, agent_name,
			agent_version, timestamp, recommendation_json, processing_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.RecommendationID, rec.CaseID, rec.AgentName, rec.AgentVersion,
		fmtTime(rec.Timestamp), string(data), rec.ProcessingTimeMS)
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

// ListRecommendations returns a case's agent recommendations in insertion
// order.
func (s *DB) ListRecommendations(ctx context.Context, caseID string) ([]model.AgentRecommendation, error) {
	rows, err := s.sql.QueryContext(ctx, s.Rebind(`
		SELECT recommendation_id, case_id, agent_name, agent_version,
			timestamp, recommendation_json, processing_time_ms
		FROM agent_recommendations WHERE case_id = ?
		ORDER BY timestamp, recommendation_id`),
		caseID)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	defer rows.Close()

	var recs []model.AgentRecommendation
	for rows.Next() {
		var rec model.AgentRecommendation
		var ts, recJSON string
		if err := rows.Scan(&rec.RecommendationID, &rec.CaseID, &rec.AgentName,
			&rec.AgentVersion, &ts, &recJSON, &rec.ProcessingTimeMS); err != nil {
			return nil, fmt.Errorf("scan recommendation: %w", err)
		}
		rec.Timestamp = parseTime(ts)
		if err := json.Unmarshal([]byte(recJSON), &rec.Recommendation); err != nil {
			return nil, fmt.Errorf("unmarshal recommendation: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// SaveEnsemble persists an ensemble decision, assigning the next attempt
// number for the case. Returns the stored decision with Attempt set.
func (s *DB) SaveEnsemble(ctx context.Context, dec model.EnsembleDecision) (model.EnsembleDecision, error) {
	votes, err := json.Marshal(dec.AgentVotes)
	if err != nil {
		return dec, fmt.Errorf("marshal agent votes: %w", err)
	}
	final, err := json.Marshal(dec.Final)
	if err != nil {
		return dec, fmt.Errorf("marshal final recommendation: %w", err)
	}

	var max sql.NullInt64
	err = s.sql.QueryRowContext(ctx, s.Rebind(`
		SELECT MAX(attempt) FROM ensemble_decisions WHERE case_id = ?`),
		dec.CaseID).Scan(&max)
	if err != nil {
		return dec, fmt.Errorf("query ensemble attempt: %w", err)
	}
	dec.Attempt = int(max.Int64) + 1

	_, err = s.sql.ExecContext(ctx, s.Rebind(`
		INSERT INTO ensemble_decisions (ensemble_id, case_id, attempt, timestamp,
			voting_strategy, agent_votes_json, final_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		dec.EnsembleID, dec.CaseID, dec.Attempt, fmtTime(dec.Timestamp),
		dec.VotingStrategy, string(votes), string(final))
	if err != nil {
		return dec, fmt.Errorf("insert ensemble decision: %w", err)
	}
	return dec, nil
}

// LatestEnsemble returns the highest-attempt ensemble decision for a case.
func (s *DB) LatestEnsemble(ctx context.Context, caseID string) (model.EnsembleDecision, error) {
	var dec model.EnsembleDecision
	var ts, votesJSON, finalJSON string
	err := s.sql.QueryRowContext(ctx, s.Rebind(`
		SELECT ensemble_id, case_id, attempt, timestamp, voting_strategy,
			agent_votes_json, final_json
		FROM ensemble_decisions WHERE case_id = ?
		ORDER BY attempt DESC LIMIT 1`),
		caseID).Scan(&dec.EnsembleID, &dec.CaseID, &dec.Attempt, &ts,
		&dec.VotingStrategy, &votesJSON, &finalJSON)
	if err == sql.ErrNoRows {
		return dec, &NotFoundError{Kind: "ensemble decision", ID: caseID}
	}
	if err != nil {
		return dec, fmt.Errorf("query ensemble decision: %w", err)
	}
	dec.Timestamp = parseTime(ts)
	if err := json.Unmarshal([]byte(votesJSON), &dec.AgentVotes); err != nil {
		return dec, fmt.Errorf("unmarshal agent votes: %w", err)
	}
	if err := json.Unmarshal([]byte(finalJSON), &dec.Final); err != nil {
		return dec, fmt.Errorf("unmarshal final recommendation: %w", err)
	}
	return dec, nil
}
