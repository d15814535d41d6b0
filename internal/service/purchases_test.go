package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/treeledger/internal/events"
	"github.com/mmeshcher/treeledger/internal/model"
	"github.com/mmeshcher/treeledger/internal/payment"
)

func TestPurchaseRealAsset_SplitsAndForwardsFullAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.pay(t, 1, 3500)
	created, err := f.svc.PurchaseRealAsset(ctx, 1, 4, 9, 3, 3500)
	require.NoError(t, err)
	require.Len(t, created, 3)

	for i, p := range created {
		assert.Equal(t, int64(i+1), p.ID)
		assert.Equal(t, int64(1), p.BuyerID)
		assert.Equal(t, int64(4), p.SpeciesID)
		assert.Equal(t, int64(9), p.ProjectID)
		assert.Equal(t, int64(1166), p.AmountPaid)
		assert.Equal(t, model.PurchaseStatusPending, p.Status())
	}

	transfers := f.rail.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, int64(3500), transfers[0].Amount)
	assert.Equal(t, testBeneficiary, transfers[0].To)

	f.pay(t, 2, 1000)
	more, err := f.svc.PurchaseRealAsset(ctx, 2, 1, 1, 1, 1000)
	require.NoError(t, err)
	require.Len(t, more, 1)
	assert.Equal(t, int64(4), more[0].ID)

	count, err := f.svc.CountPurchasesByUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	list, err := f.svc.GetPurchasesByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	assert.Equal(t, []events.Type{
		events.RealAssetPurchased,
		events.RealAssetPurchased,
		events.RealAssetPurchased,
		events.RealAssetPurchased,
	}, f.eventTypes())
}

func TestPurchaseRealAsset_Validation(t *testing.T) {
	tests := []struct {
		name      string
		speciesID int64
		projectID int64
		quantity  int64
		paid      int64
		wantErr   error
	}{
		{name: "zero quantity", speciesID: 1, projectID: 1, quantity: 0, paid: 1000, wantErr: ErrQuantityOutOfRange},
		{name: "over cap", speciesID: 1, projectID: 1, quantity: MaxRealAssetQuantity + 1, paid: 1_000_000, wantErr: ErrQuantityOutOfRange},
		{name: "zero species", speciesID: 0, projectID: 1, quantity: 1, paid: 1000, wantErr: ErrInvalidReference},
		{name: "negative project", speciesID: 1, projectID: -2, quantity: 1, paid: 1000, wantErr: ErrInvalidReference},
		{name: "below minimum", speciesID: 1, projectID: 1, quantity: 3, paid: 2999, wantErr: ErrBelowMinimum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.pay(t, 1, tt.paid)

			_, err := f.svc.PurchaseRealAsset(context.Background(), 1, tt.speciesID, tt.projectID, tt.quantity, tt.paid)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.rail.Transfers())
		})
	}
}

func TestPurchaseRealAsset_TransferFailureLeavesNoRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.rail.FailTransfersTo(testBeneficiary, errors.New("offline"))
	f.pay(t, 1, 2000)
	_, err := f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 2, 2000)
	require.ErrorIs(t, err, ErrTransferFailed)

	count, err := f.svc.CountPurchasesByUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, f.eventTypes())
	assert.Equal(t, int64(2000), f.rail.BalanceOf(payment.UserAccount(1)))

	f.rail.FailTransfersTo(testBeneficiary, nil)
	created, err := f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 2, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created[0].ID)
	assert.Equal(t, int64(2), created[1].ID)
}

func TestPurchaseRealAsset_PayerLacksFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pay(t, 1, 1500)

	_, err := f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 2, 2000)
	require.ErrorIs(t, err, ErrInsufficientPayment)
	assert.ErrorIs(t, err, payment.ErrInsufficientFunds)

	count, err := f.svc.CountPurchasesByUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, int64(1500), f.rail.BalanceOf(payment.UserAccount(1)))
	assert.Empty(t, f.eventTypes())
}

func TestPurchaseRealAsset_RailOutageIsNotPaymentError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.pay(t, 1, 2000)
	outage := errors.New("rail unavailable")
	f.rail.FailCollects(outage)

	_, err := f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 2, 2000)
	require.ErrorIs(t, err, outage)
	assert.NotErrorIs(t, err, ErrPayment)

	count, err := f.svc.CountPurchasesByUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Equal(t, int64(2000), f.rail.BalanceOf(payment.UserAccount(1)))
	assert.Empty(t, f.eventTypes())
}

func TestPurchaseLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.pay(t, 5, 2000)
	created, err := f.svc.PurchaseRealAsset(ctx, 5, 2, 3, 2, 2000)
	require.NoError(t, err)
	id := created[0].ID

	_, err = f.svc.MarkProcessed(ctx, "mallory", id)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, ErrAuthorization)

	_, err = f.svc.IssueCertificate(ctx, testOperator, id, "ipfs://meta", "registry-1")
	require.ErrorIs(t, err, ErrNotYetProcessed)

	_, err = f.svc.MarkProcessed(ctx, testOperator, 999)
	require.ErrorIs(t, err, ErrNotFound)

	p, err := f.svc.MarkProcessed(ctx, testOperator, id)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusProcessed, p.Status())

	_, err = f.svc.MarkProcessed(ctx, testOperator, id)
	require.ErrorIs(t, err, ErrAlreadyProcessed)

	_, err = f.svc.IssueCertificate(ctx, "mallory", id, "ipfs://meta", "registry-1")
	require.ErrorIs(t, err, ErrUnauthorized)

	cert, err := f.svc.IssueCertificate(ctx, testOperator, id, "ipfs://meta", "registry-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cert.ID)
	assert.Equal(t, int64(5), cert.OwnerID)
	assert.Equal(t, id, cert.PurchaseID)
	assert.Equal(t, "ipfs://meta", cert.MetadataRef)
	assert.Equal(t, "registry-1", cert.ExternalRef)

	_, err = f.svc.IssueCertificate(ctx, testOperator, id, "ipfs://other", "registry-2")
	require.ErrorIs(t, err, ErrAlreadyCertified)

	stored, err := f.svc.GetPurchase(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PurchaseStatusCertified, stored.Status())
	assert.Equal(t, cert.ID, stored.CertificateID)

	got, err := f.svc.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, *cert, *got)

	owned, err := f.svc.GetCertificatesByOwner(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, owned, 1)

	_, err = f.svc.GetCertificate(ctx, 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPendingPurchases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.pay(t, 1, 3000)
	_, err := f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 3, 3000)
	require.NoError(t, err)
	_, err = f.svc.MarkProcessed(ctx, testOperator, 2)
	require.NoError(t, err)

	_, err = f.svc.PendingPurchases(ctx, "mallory", 0, 10)
	require.ErrorIs(t, err, ErrUnauthorized)

	pending, err := f.svc.PendingPurchases(ctx, testOperator, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, int64(3), pending[1].ID)

	pending, err = f.svc.PendingPurchases(ctx, testOperator, 1, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(3), pending[0].ID)
}

func TestRealAssetTransfer_ReentrantWaterRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ClaimFreeTree(ctx, 1)
	require.NoError(t, err)

	var reentryErr error
	f.rail.SetHook(func(hookCtx context.Context, tr payment.Transfer) error {
		_, reentryErr = f.svc.Water(hookCtx, 1)
		return nil
	})

	f.pay(t, 1, 1000)
	_, err = f.svc.PurchaseRealAsset(ctx, 1, 1, 1, 1, 1000)
	require.NoError(t, err)
	require.ErrorIs(t, reentryErr, ErrReentrantCall)

	ps, err := f.svc.PlantState(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, ps.TotalWaterCount)
}
