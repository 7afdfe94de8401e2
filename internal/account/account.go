// Package account holds the account-level actions around a purchase:
// identity lookup after login, paying or cancelling an order awaiting
// payment, and listing registered real-name buyers.
package account

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/session"
)

var (
	ErrNotAuthenticated   = errors.New("not logged in")
	ErrNotAwaitingPayment = errors.New("order is not awaiting payment")
	// ErrOrderMayNotExist is returned when the platform refuses a cancel.
	ErrOrderMayNotExist = errors.New("cancel failed, order may not exist")
)

// API is the part of the platform client account actions need.
type API interface {
	NavIdentity(ctx context.Context, cookie string) (remote.NavIdentity, error)
	PayParam(ctx context.Context, cookie, orderID string) (string, error)
	CancelOrder(ctx context.Context, cookie, orderID string) error
	ListBuyers(ctx context.Context, cookie string) ([]remote.Buyer, error)
}

type Options struct {
	Logger     *slog.Logger
	QRRenderer string
}

type Service struct {
	api      API
	state    *session.State
	logger   *slog.Logger
	renderer string
}

func New(api API, state *session.State, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{api: api, state: state, logger: logger, renderer: opts.QRRenderer}
}

func (s *Service) cookie() (string, error) {
	cookie := s.state.Cookie()
	if cookie == "" {
		return "", ErrNotAuthenticated
	}
	return cookie, nil
}

// RefreshIdentity fetches the account's display identity into the session.
func (s *Service) RefreshIdentity(ctx context.Context) (remote.NavIdentity, error) {
	cookie, err := s.cookie()
	if err != nil {
		return remote.NavIdentity{}, err
	}
	identity, err := s.api.NavIdentity(ctx, cookie)
	if err != nil {
		return remote.NavIdentity{}, fmt.Errorf("refresh identity: %w", err)
	}
	s.state.SetIdentity(identity)
	s.logger.InfoContext(ctx, "identity refreshed", "operation", "fetch_identity", "uname", identity.Uname)
	return identity, nil
}

// Payment is what a payer needs to settle an order.
type Payment struct {
	OrderID  string
	CodeURL  string
	ImageURL string
}

// Pay fetches the payment code for orderID.
func (s *Service) Pay(ctx context.Context, orderID string) (Payment, error) {
	cookie, err := s.cookie()
	if err != nil {
		return Payment{}, err
	}
	if err := s.checkAwaitingPayment(orderID); err != nil {
		return Payment{}, err
	}

	codeURL, err := s.api.PayParam(ctx, cookie, orderID)
	if err != nil {
		return Payment{}, fmt.Errorf("pay order %s: %w", orderID, err)
	}
	return Payment{
		OrderID:  orderID,
		CodeURL:  codeURL,
		ImageURL: remote.QRImageURL(s.renderer, codeURL),
	}, nil
}

// Cancel cancels an order awaiting payment.
func (s *Service) Cancel(ctx context.Context, orderID string) error {
	cookie, err := s.cookie()
	if err != nil {
		return err
	}
	if err := s.checkAwaitingPayment(orderID); err != nil {
		return err
	}

	if err := s.api.CancelOrder(ctx, cookie, orderID); err != nil {
		s.logger.WarnContext(ctx, "cancel failed",
			"operation", "cancel_order",
			"order_id", orderID,
			"outcome", "failure",
			"error", err,
		)
		if remote.IsRejection(err) {
			return fmt.Errorf("order %s: %w: %w", orderID, ErrOrderMayNotExist, err)
		}
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	s.logger.InfoContext(ctx, "order cancelled", "operation", "cancel_order", "order_id", orderID, "outcome", "success")
	return nil
}

// Buyers lists the account's registered real-name buyers.
func (s *Service) Buyers(ctx context.Context) ([]remote.Buyer, error) {
	cookie, err := s.cookie()
	if err != nil {
		return nil, err
	}
	buyers, err := s.api.ListBuyers(ctx, cookie)
	if err != nil {
		return nil, fmt.Errorf("list buyers: %w", err)
	}
	return buyers, nil
}

// checkAwaitingPayment refuses orders the current snapshot knows to be
// settled. Orders missing from the snapshot are left to the platform.
func (s *Service) checkAwaitingPayment(orderID string) error {
	for _, order := range s.state.Orders() {
		if order.OrderID != orderID {
			continue
		}
		if !order.AwaitingPayment() {
			return fmt.Errorf("order %s (%s): %w", orderID, order.SubStatusName, ErrNotAwaitingPayment)
		}
		return nil
	}
	return nil
}
