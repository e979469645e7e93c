package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"pdf-checker/jobs"
	"pdf-checker/metrics"
	"pdf-checker/models"
	"pdf-checker/storage"
)

// Upload is one submitted file with its submitter.
type Upload struct {
	Filename  string
	Data      []byte
	FirstName string
	LastName  string
	Email     string
	Groups    []string
}

// SubmitResult is the stored document; Created is false for a resubmission.
type SubmitResult struct {
	Document *models.Document
	Created  bool
}

// Submissions validates uploads, stores their bytes and registers the document.
type Submissions struct {
	Documents *jobs.DocumentMachine
	Store     storage.BlobStore
	MaxBytes  int64
	Logger    *zap.Logger
}

func NewSubmissions(documents *jobs.DocumentMachine, store storage.BlobStore, maxBytes int64, logger *zap.Logger) *Submissions {
	return &Submissions{Documents: documents, Store: store, MaxBytes: maxBytes, Logger: logger}
}

// Fingerprint is the content identity used for deduplication.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Submit registers the upload. Identical content always maps to the same
// document, however many submissions race.
func (s *Submissions) Submit(ctx context.Context, up Upload) (*SubmitResult, error) {
	pages, err := s.validate(up)
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	fingerprint := Fingerprint(up.Data)
	log := s.Logger.With(zap.String("fingerprint", fingerprint), zap.String("filename", up.Filename))

	if err := s.Store.Put(ctx, fingerprint, up.Data); err != nil {
		return nil, errors.Wrap(err, "store upload")
	}

	doc, created, err := s.Documents.Register(ctx, &models.Document{
		ID:               uuid.NewString(),
		Fingerprint:      fingerprint,
		OriginalFilename: displayName(up.Filename),
		FileSize:         int64(len(up.Data)),
		PageCount:        pages,
		StorageKey:       fingerprint,
		UserFirstName:    up.FirstName,
		UserLastName:     up.LastName,
		UserEmail:        up.Email,
		UserGroups:       strings.Join(up.Groups, ","),
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.Submissions.WithLabelValues("created").Inc()
		log.Info("Document registered", zap.String("document_id", doc.ID), zap.Int("pages", pages))
	} else {
		metrics.Submissions.WithLabelValues("deduplicated").Inc()
		log.Info("Known content resubmitted", zap.String("document_id", doc.ID), zap.String("status", string(doc.Status)))
	}
	return &SubmitResult{Document: doc, Created: created}, nil
}

func (s *Submissions) validate(up Upload) (int, error) {
	if len(up.Data) == 0 {
		return 0, invalid("file is empty")
	}
	if s.MaxBytes > 0 && int64(len(up.Data)) > s.MaxBytes {
		return 0, invalid("file is %d bytes, limit is %d", len(up.Data), s.MaxBytes)
	}
	if !bytes.HasPrefix(up.Data, []byte("%PDF-")) {
		return 0, invalid("file is not a PDF")
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(bytes.NewReader(up.Data), conf)
	if err != nil {
		return 0, invalid("PDF cannot be parsed: %v", err)
	}
	return pages, nil
}

func displayName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == "" {
		return "document.pdf"
	}
	return name
}

// SubmitURL downloads the PDF behind link and submits it.
func (s *Submissions) SubmitURL(ctx context.Context, fetcher *RemoteFetcher, link string, up Upload) (*SubmitResult, error) {
	name, data, err := fetcher.Fetch(ctx, link)
	if err != nil {
		if IsValidationError(err) {
			metrics.Submissions.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	up.Data = data
	if up.Filename == "" {
		up.Filename = name
	}
	return s.Submit(ctx, up)
}
