package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"decisiond/internal/model"
)

// SaveEvidence inserts a new evidence version. The caller is responsible
// for assigning Version; NextEvidenceVersion supplies it.
func (s *DB) SaveEvidence(ctx context.Context, ev *model.Evidence) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal evidence data: %w", err)
	}
	_, err = s.sql.ExecContext(ctx, s.Rebind(`
		INSERT INTO evidence (evidence_id, case_id, evidence_type, version, created_at, data_json)
		VALUES (?, ?, ?, ?, ?, ?)`),
		ev.EvidenceID, ev.CaseID, ev.EvidenceType, ev.Version, fmtTime(ev.CreatedAt), string(data))
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// NextEvidenceVersion returns the next version number for a
// (case, evidence type) pair. Versions start at 1.
func (s *DB) NextEvidenceVersion(ctx context.Context, caseID, evidenceType string) (int, error) {
	var max sql.NullInt64
	err := s.sql.QueryRowContext(ctx, s.Rebind(`
		SELECT MAX(version) FROM evidence WHERE case_id = ? AND evidence_type = ?`),
		caseID, evidenceType).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("query evidence version: %w", err)
	}
	return int(max.Int64) + 1, nil
}

// LatestEvidence returns the highest-version evidence item of each type
// for a case, in evidence_type order for reproducible snapshots.
func (s *DB) LatestEvidence(ctx context.Context, caseID string) ([]model.Evidence, error) {
	rows, err := s.sql.QueryContext(ctx, s.Rebind(`
		SELECT e.evidence_id, e.case_id, e.evidence_type, e.version, e.created_at, e.data_json
		FROM evidence e
		JOIN (
			SELECT case_id, evidence_type, MAX(version) AS version
			FROM evidence WHERE case_id = ?
			GROUP BY case_id, evidence_type
		) latest
		ON e.case_id = latest.case_id
		AND e.evidence_type = latest.evidence_type
		AND e.version = latest.version
		ORDER BY e.evidence_type`),
		caseID)
	if err != nil {
		return nil, fmt.Errorf("query latest evidence: %w", err)
	}
	defer rows.Close()
	return scanEvidenceRows(rows)
}

// EvidenceHistory returns every version of every evidence type for a
// case, oldest first.
func (s *DB) EvidenceHistory(ctx context.Context, caseID string) ([]model.Evidence, error) {
	rows, err := s.sql.QueryContext(ctx, s.Rebind(`
		SELECT evidence_id, case_id, evidence_type, version, created_at, data_json
		FROM evidence WHERE case_id = ?
		ORDER BY evidence_type, version`),
		caseID)
	if err != nil {
		return nil, fmt.Errorf("query evidence history: %w", err)
	}
	defer rows.Close()
	return scanEvidenceRows(rows)
}

func scanEvidenceRows(rows *sql.Rows) ([]model.Evidence, error) {
	var out []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		var createdAt, dataJSON string
		if err := rows.Scan(&ev.EvidenceID, &ev.CaseID, &ev.EvidenceType, &ev.Version, &createdAt, &dataJSON); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		ev.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(dataJSON), &ev.Data); err != nil {
			return nil, fmt.Errorf("unmarshal evidence data: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// SaveDocument records an uploaded document.
func (s *DB) SaveDocument(ctx context.Context, d *model.Document) error {
	_, err := s.sql.ExecContext(ctx, s.Rebind(`
		INSERT INTO documents (document_id, case_id, document_type, document_subtype,
			file_path, file_size_bytes, mime_type, uploaded_at, ocr_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.DocumentID, d.CaseID, d.DocumentType, d.DocumentSubtype,
		d.FilePath, d.FileSizeBytes, d.MimeType, fmtTime(d.UploadedAt), string(d.OCRStatus))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocumentOCRStatus advances a document's OCR lifecycle. No other
// document field mutates after upload.
func (s *DB) UpdateDocumentOCRStatus(ctx context.Context, documentID string, status model.OCRStatus) error {
	res, err := s.sql.ExecContext(ctx, s.Rebind(`
		UPDATE documents SET ocr_status = ? WHERE document_id = ?`),
		string(status), documentID)
	if err != nil {
		return fmt.Errorf("update document ocr status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Kind: "document", ID: documentID}
	}
	return nil
}

// ListDocuments returns a case's documents in upload order.
func (s *DB) ListDocuments(ctx context.Context, caseID string) ([]model.Document, error) {
	rows, err := s.sql.QueryContext(ctx, s.Rebind(`
		SELECT document_id, case_id, document_type, document_subtype,
			file_path, file_size_bytes, mime_type, uploaded_at, ocr_status
		FROM documents WHERE case_id = ? ORDER BY uploaded_at, document_id`),
		caseID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		var subtype sql.NullString
		var uploadedAt, ocrStatus string
		if err := rows.Scan(&d.DocumentID, &d.CaseID, &d.DocumentType, &subtype,
			&d.FilePath, &d.FileSizeBytes, &d.MimeType, &uploadedAt, &ocrStatus); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.DocumentSubtype = subtype.String
		d.UploadedAt = parseTime(uploadedAt)
		d.OCRStatus = model.OCRStatus(ocrStatus)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
