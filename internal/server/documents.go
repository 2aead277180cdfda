package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"decisiond/internal/audit"
	"decisiond/internal/auth"
	"decisiond/internal/casework"
	"decisiond/internal/model"
	"decisiond/internal/objstore"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 25 << 20

// handleUploadDocument accepts a multipart upload ("file" plus
// document_type / document_subtype fields), stores the blob, and
// records a Document row with ocr_status pending.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")

	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	if c.Status.IsTerminal() {
		writeError(w, &casework.ValidationError{Field: "case",
			Message: "documents cannot be added to a closed case"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, &casework.ValidationError{Field: "body", Message: "invalid multipart form"})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, &casework.ValidationError{Field: "file", Message: "is required"})
		return
	}
	defer file.Close()

	docType := r.FormValue("document_type")
	if docType == "" {
		writeError(w, &casework.ValidationError{Field: "document_type", Message: "is required"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := model.Document{
		DocumentID:      "doc_" + uuid.NewString()[:12],
		CaseID:          caseID,
		DocumentType:    docType,
		DocumentSubtype: r.FormValue("document_subtype"),
		FileSizeBytes:   header.Size,
		MimeType:        contentType,
		UploadedAt:      time.Now().UTC(),
		OCRStatus:       model.OCRPending,
	}
	doc.FilePath = objstore.DocumentKey(caseID, doc.DocumentID, header.Filename)

	if err := s.objects.Put(ctx, doc.FilePath, file, header.Size, contentType); err != nil {
		writeError(w, err)
		return
	}
	if err := s.db.SaveDocument(ctx, &doc); err != nil {
		writeError(w, err)
		return
	}

	event := audit.NewEvent(caseID, audit.EventDocumentUploaded, auth.ActorFromContext(ctx))
	event.Metadata = map[string]any{
		"document_id":   doc.DocumentID,
		"document_type": doc.DocumentType,
		"size_bytes":    doc.FileSizeBytes,
	}
	if err := s.log.Append(ctx, nil, event); err != nil {
		s.logger.Warn("recording upload event failed", "document_id", doc.DocumentID, "error", err)
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")
	if _, err := s.cases.GetCase(ctx, caseID); err != nil {
		writeError(w, err)
		return
	}
	docs, err := s.db.ListDocuments(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}
