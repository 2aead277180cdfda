// Package evidence collects the fact bundles agents analyze. A Collector
// turns a case's documents and external lookups into versioned Evidence
// records; the synthetic collector stands in for OCR and screening
// providers in development and tests.
package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"decisiond/internal/model"
	"decisiond/internal/store"
)

// Collector produces evidence for a case. Implementations must be safe
// for concurrent use.
type Collector interface {
	Collect(ctx context.Context, c *model.Case) ([]model.Evidence, error)
}

// Service versions and persists collected evidence and serves snapshots.
type Service struct {
	db        *store.DB
	collector Collector
}

// NewService wires the evidence service.
func NewService(db *store.DB, collector Collector) *Service {
	return &Service{db: db, collector: collector}
}

// CollectAndStore runs the collector and persists each bundle as a new
// version. Existing versions are never mutated; re-collection supersedes
// them.
func (s *Service) CollectAndStore(ctx context.Context, c *model.Case) ([]model.Evidence, error) {
	collected, err := s.collector.Collect(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("collect evidence for case %s: %w", c.CaseID, err)
	}
	stored := make([]model.Evidence, 0, len(collected))
	for _, ev := range collected {
		version, err := s.db.NextEvidenceVersion(ctx, c.CaseID, ev.EvidenceType)
		if err != nil {
			return nil, err
		}
		ev.EvidenceID = fmt.Sprintf("evd_%s_%s", ev.EvidenceType, uuid.NewString()[:8])
		ev.CaseID = c.CaseID
		ev.Version = version
		ev.CreatedAt = time.Now().UTC()
		if err := s.db.SaveEvidence(ctx, &ev); err != nil {
			return nil, err
		}
		stored = append(stored, ev)
	}
	return stored, nil
}

// Latest returns the current evidence snapshot for a case.
func (s *Service) Latest(ctx context.Context, caseID string) ([]model.Evidence, error) {
	return s.db.LatestEvidence(ctx, caseID)
}

// Snapshot flattens the latest evidence into the type→data map recorded
// in audit events.
func Snapshot(evidence []model.Evidence) map[string]any {
	snapshot := make(map[string]any, len(evidence))
	for _, ev := range evidence {
		snapshot[ev.EvidenceType] = ev.Data
	}
	return snapshot
}

// SyntheticCollector fabricates a deterministic evidence set per case,
// standing in for OCR, address validation, and screening providers. A
// case's metadata can steer it for demos and tests:
//
//	sanctions_status: overrides the sanctions screening status
//	identity_expiry:  overrides the extracted expiry date
type SyntheticCollector struct{}

func (SyntheticCollector) Collect(ctx context.Context, c *model.Case) ([]model.Evidence, error) {
	sanctions := "clear"
	if v, ok := c.Metadata["sanctions_status"].(string); ok && v != "" {
		sanctions = v
	}
	expiry := "2028-03-15"
	if v, ok := c.Metadata["identity_expiry"].(string); ok && v != "" {
		expiry = v
	}

	return []model.Evidence{
		{
			EvidenceType: "identity",
			Data: map[string]any{
				"verified":   true,
				"confidence": 0.94,
				"extracted_fields": map[string]any{
					"full_name":       "John Doe",
					"date_of_birth":   "1985-03-15",
					"id_number":       "D1234567",
					"expiry_date":     expiry,
					"issuing_country": "US",
					"issuing_state":   "MA",
				},
				"sources": []any{map[string]any{
					"type":        "ocr",
					"provider":    "textract",
					"document_id": "doc_001",
					"page":        1,
					"confidence":  0.97,
				}},
				"validation_checks": map[string]any{
					"format_valid":   true,
					"expiry_check":   "valid",
					"checksum_valid": true,
				},
			},
		},
		{
			EvidenceType: "address",
			Data: map[string]any{
				"verified":   false,
				"confidence": 0.67,
				"extracted_data": map[string]any{
					"street": "123 Main St",
					"city":   "Boston",
					"state":  "MA",
					"zip":    "02101",
				},
				"sources": []any{map[string]any{"type": "ocr", "document_id": "doc_001"}},
				"validation_attempts": []any{
					map[string]any{"service": "usps", "status": "failed"},
				},
			},
		},
		{
			EvidenceType: "compliance",
			Data: map[string]any{
				"sanctions_screening": map[string]any{
					"status":        sanctions,
					"checked_lists": []any{"OFAC", "UN", "EU"},
					"timestamp":     time.Now().UTC().Format(time.RFC3339),
				},
				"pep_screening": map[string]any{
					"status": "clear",
				},
			},
		},
		{
			EvidenceType: "risk_assessment",
			Data: map[string]any{
				"risk_score": 23,
				"risk_flags": []any{"address_unverified"},
				"risk_factors": map[string]any{
					"document_quality":  "high",
					"country_risk":      "low",
					"data_completeness": 0.95,
				},
			},
		},
	}, nil
}
