package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/session"
)

type fakeAPI struct {
	identity  remote.NavIdentity
	codeURL   string
	cancelErr error
	buyers    []remote.Buyer
	cancelled []string
}

func (f *fakeAPI) NavIdentity(context.Context, string) (remote.NavIdentity, error) {
	return f.identity, nil
}

func (f *fakeAPI) PayParam(_ context.Context, _, orderID string) (string, error) {
	return f.codeURL, nil
}

func (f *fakeAPI) CancelOrder(_ context.Context, _, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

func (f *fakeAPI) ListBuyers(context.Context, string) ([]remote.Buyer, error) {
	return f.buyers, nil
}

func TestRefreshIdentityStoresInSession(t *testing.T) {
	state := session.Restore("SESSDATA=abc")
	svc := New(&fakeAPI{identity: remote.NavIdentity{Uname: "alice", Face: "https://face"}}, state, Options{})

	identity, err := svc.RefreshIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Uname)
	assert.Equal(t, identity, state.Identity())
}

func TestActionsRequireLogin(t *testing.T) {
	svc := New(&fakeAPI{}, session.New(), Options{})
	ctx := context.Background()

	_, err := svc.RefreshIdentity(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = svc.Pay(ctx, "1")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.ErrorIs(t, svc.Cancel(ctx, "1"), ErrNotAuthenticated)
	_, err = svc.Buyers(ctx)
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestPayRendersQR(t *testing.T) {
	svc := New(&fakeAPI{codeURL: "https://pay/q?a=1&b=2"}, session.Restore("SESSDATA=abc"), Options{})

	payment, err := svc.Pay(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "https://pay/q?a=1&b=2", payment.CodeURL)
	assert.Equal(t, remote.DefaultQRRenderer+"https://pay/q?a=1%26b=2", payment.ImageURL)
}

func TestSettledOrdersAreRefused(t *testing.T) {
	state := session.Restore("SESSDATA=abc")
	state.ReplaceOrders(state.Cycle(), []remote.Order{
		{OrderID: "1001", SubStatusName: remote.AwaitingPaymentLabel},
		{OrderID: "1002", SubStatusName: "已完成"},
	})
	api := &fakeAPI{codeURL: "https://pay"}
	svc := New(api, state, Options{})
	ctx := context.Background()

	_, err := svc.Pay(ctx, "1002")
	require.ErrorIs(t, err, ErrNotAwaitingPayment)
	require.ErrorIs(t, svc.Cancel(ctx, "1002"), ErrNotAwaitingPayment)
	assert.Empty(t, api.cancelled)

	require.NoError(t, svc.Cancel(ctx, "1001"))
	assert.Equal(t, []string{"1001"}, api.cancelled)
}

func TestCancelRejectionMeansOrderMayNotExist(t *testing.T) {
	api := &fakeAPI{cancelErr: &remote.PlatformRejection{Op: "cancel-order", Code: 1, Message: "订单不存在"}}
	svc := New(api, session.Restore("SESSDATA=abc"), Options{})

	err := svc.Cancel(context.Background(), "404")
	require.ErrorIs(t, err, ErrOrderMayNotExist)
	assert.Equal(t, "订单不存在", remote.Reason(err))
}

func TestBuyers(t *testing.T) {
	api := &fakeAPI{buyers: []remote.Buyer{{ID: 1, Name: "A"}}}
	svc := New(api, session.Restore("SESSDATA=abc"), Options{})

	buyers, err := svc.Buyers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.buyers, buyers)
}
