package service

import (
	"context"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/repository"
)

// IssueCertificate выпускает сертификат на обработанную покупку и привязывает его к ней.
// Владельцем сертификата становится покупатель. Доступно только оператору.
func (s *Service) IssueCertificate(ctx context.Context, actor string, purchaseID int64, metadataRef, externalRef string) (*model.Certificate, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor); err != nil {
		return nil, err
	}
	now := s.clock()

	var cert model.Certificate
	err = s.repo.WithinTx(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		if !p.Processed {
			return ErrNotYetProcessed
		}
		if p.Certified {
			return ErrAlreadyCertified
		}

		id, err := tx.NextID(ctx, repository.SequenceCertificate)
		if err != nil {
			return err
		}
		cert = model.Certificate{
			ID:          id,
			OwnerID:     p.BuyerID,
			PurchaseID:  p.ID,
			MetadataRef: metadataRef,
			ExternalRef: externalRef,
			IssuedAt:    now,
		}
		if err := tx.InsertCertificate(ctx, &cert); err != nil {
			return err
		}

		p.Certified = true
		p.CertificateID = id
		return tx.SavePurchase(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.New(events.CertificateIssued, actor, now, map[string]any{
		"certificate_id": cert.ID,
		"purchase_id":    cert.PurchaseID,
		"owner_id":       cert.OwnerID,
		"metadata_ref":   cert.MetadataRef,
		"external_ref":   cert.ExternalRef,
	}))
	return &cert, nil
}

// GetCertificate возвращает сертификат по идентификатору.
func (s *Service) GetCertificate(ctx context.Context, id int64) (*model.Certificate, error) {
	return s.repo.GetCertificate(ctx, id)
}

// GetCertificatesByOwner возвращает сертификаты пользователя.
func (s *Service) GetCertificatesByOwner(ctx context.Context, ownerID int64) ([]model.Certificate, error) {
	return s.repo.GetCertificatesByOwner(ctx, ownerID)
}
