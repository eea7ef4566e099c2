package beneficiaries

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/storage"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/supabase"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "document"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}

// Upload stores a document for a beneficiary. Owners and editors only.
func (s *Service) Upload(ctx context.Context, beneficiaryID, profileID, name, contentType string, data []byte) (beneficiary.Document, error) {
	if s.files == nil {
		return beneficiary.Document{}, svcerrors.Internal("document storage is not configured", nil)
	}
	if _, err := s.require(ctx, beneficiaryID, profileID, beneficiary.Role.CanEdit); err != nil {
		return beneficiary.Document{}, err
	}
	if len(data) == 0 {
		return beneficiary.Document{}, svcerrors.Validation("file", "file is empty")
	}
	if int64(len(data)) > s.cfg.MaxDocumentSize {
		return beneficiary.Document{}, svcerrors.Validation("file", "file is too large")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	clean := sanitizeName(name)
	objectPath := beneficiaryID + "/" + uuid.NewString() + "-" + clean
	if err := s.files.Upload(ctx, s.cfg.Bucket, objectPath, data, &supabase.UploadOptions{ContentType: contentType}); err != nil {
		return beneficiary.Document{}, svcerrors.Upstream("supabase storage", err)
	}

	doc, err := s.store.CreateDocument(ctx, beneficiary.Document{
		BeneficiaryID: beneficiaryID,
		Name:          clean,
		ContentType:   contentType,
		SizeBytes:     int64(len(data)),
		StoragePath:   objectPath,
		UploadedBy:    profileID,
	})
	if err != nil {
		if delErr := s.files.Delete(ctx, s.cfg.Bucket, []string{objectPath}); delErr != nil {
			s.log.WithError(delErr).WithField("path", objectPath).Warn("orphaned document object")
		}
		return beneficiary.Document{}, svcerrors.Internal("record document", err)
	}
	s.log.WithField("document_id", doc.ID).WithField("beneficiary_id", beneficiaryID).Info("document uploaded")
	return doc, nil
}

// Documents lists a beneficiary's documents. Any grant.
func (s *Service) Documents(ctx context.Context, beneficiaryID, profileID string) ([]beneficiary.Document, error) {
	if _, err := s.require(ctx, beneficiaryID, profileID, anyRole); err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, beneficiaryID)
	if err != nil {
		return nil, svcerrors.Internal("list documents", err)
	}
	return docs, nil
}

func (s *Service) document(ctx context.Context, beneficiaryID, documentID string) (beneficiary.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && doc.BeneficiaryID != beneficiaryID) {
		return beneficiary.Document{}, svcerrors.NotFound("document", documentID)
	}
	if err != nil {
		return beneficiary.Document{}, svcerrors.Internal("get document", err)
	}
	return doc, nil
}

// DocumentURL returns a short lived download link. Any grant.
func (s *Service) DocumentURL(ctx context.Context, beneficiaryID, profileID, documentID string) (string, error) {
	if s.files == nil {
		return "", svcerrors.Internal("document storage is not configured", nil)
	}
	if _, err := s.require(ctx, beneficiaryID, profileID, anyRole); err != nil {
		return "", err
	}
	doc, err := s.document(ctx, beneficiaryID, documentID)
	if err != nil {
		return "", err
	}
	link, err := s.files.CreateSignedURL(ctx, s.cfg.Bucket, doc.StoragePath, s.cfg.SignedURLTTL)
	if err != nil {
		return "", svcerrors.Upstream("supabase storage", err)
	}
	return link, nil
}

// DeleteDocument removes a document and its object. Owners and editors only.
func (s *Service) DeleteDocument(ctx context.Context, beneficiaryID, profileID, documentID string) error {
	if s.files == nil {
		return svcerrors.Internal("document storage is not configured", nil)
	}
	if _, err := s.require(ctx, beneficiaryID, profileID, beneficiary.Role.CanEdit); err != nil {
		return err
	}
	doc, err := s.document(ctx, beneficiaryID, documentID)
	if err != nil {
		return err
	}
	if err := s.files.Delete(ctx, s.cfg.Bucket, []string{doc.StoragePath}); err != nil {
		return svcerrors.Upstream("supabase storage", err)
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return svcerrors.Internal("delete document", err)
	}
	return nil
}
