// Package purchase runs the two-step order pipeline: reserve the selection
// for a token, then submit the order with a freshly derived
// anti-automation payload. Each call is one attempt; nothing here retries.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Amorter/bili-ticket/internal/catalog"
	"github.com/Amorter/bili-ticket/internal/remote"
	"github.com/Amorter/bili-ticket/internal/session"
)

var (
	ErrInvalidCount      = errors.New("ticket count must be at least 1")
	ErrNotAuthenticated  = errors.New("not logged in")
	ErrIncompleteBuyer   = errors.New("buyer information incomplete for this project")
	ErrTicketUnavailable = errors.New("ticket not on sale")
)

// API is the part of the platform client the pipeline needs.
type API interface {
	PrepareOrder(ctx context.Context, cookie string, form remote.PrepareForm) (string, error)
	CreateOrder(ctx context.Context, cookie string, form remote.CreateForm) (int64, error)
}

// OrderID identifies a created order.
type OrderID int64

func (id OrderID) String() string { return strconv.FormatInt(int64(id), 10) }

// Selection is what to buy. UnitPrice is in the platform's minor unit.
type Selection struct {
	ProjectID int64
	ScreenID  int64
	SkuID     int64
	UnitPrice int64
	Count     int
}

// NewSelection builds a Selection from a fetched catalog, rejecting ids that
// are not part of its tree and tickets that are not on sale.
func NewSelection(c *catalog.Catalog, screenID, skuID int64, count int) (Selection, error) {
	ticket, err := c.Ticket(screenID, skuID)
	if err != nil {
		return Selection{}, err
	}
	if !ticket.OnSale {
		return Selection{}, fmt.Errorf("ticket %d: %w", skuID, ErrTicketUnavailable)
	}
	return Selection{
		ProjectID: c.ProjectID,
		ScreenID:  screenID,
		SkuID:     skuID,
		UnitPrice: ticket.Price,
		Count:     count,
	}, nil
}

// BuyerFields is the buyer information sent with the order. Which fields are
// required depends on Mode.
type BuyerFields struct {
	Mode  catalog.BuyerMode
	Name  string
	Phone string
	// Buyers are the registered real-name buyers, one per ticket.
	Buyers    []remote.Buyer
	AddressID int64
	Address   string
	// DeviceID is sent verbatim; empty is accepted by the platform.
	DeviceID string
}

// Validate checks that the fields required by Mode are present.
func (b BuyerFields) Validate(count int) error {
	switch b.Mode {
	case catalog.ModeNamePhone:
		if b.Name == "" || b.Phone == "" {
			return fmt.Errorf("%s: name and phone required: %w", b.Mode, ErrIncompleteBuyer)
		}
	case catalog.ModeDeliver:
		if b.Name == "" || b.Phone == "" || b.Address == "" {
			return fmt.Errorf("%s: name, phone and address required: %w", b.Mode, ErrIncompleteBuyer)
		}
	case catalog.ModeBuyer:
		if len(b.Buyers) != count {
			return fmt.Errorf("%s: %d buyers for %d tickets: %w", b.Mode, len(b.Buyers), count, ErrIncompleteBuyer)
		}
	}
	return nil
}

type Options struct {
	Logger *slog.Logger
	// Clock is read for every payload timestamp. Defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator runs purchase attempts for the session in state.
type Orchestrator struct {
	api    API
	state  *session.State
	logger *slog.Logger
	clock  func() time.Time
}

func New(api API, state *session.State, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Orchestrator{api: api, state: state, logger: logger, clock: clock}
}

// Purchase reserves sel and creates the order. A reservation failure aborts
// before any payload is built. A rejected order carries the platform's reason,
// readable with remote.Reason.
func (o *Orchestrator) Purchase(ctx context.Context, sel Selection, buyer BuyerFields) (OrderID, error) {
	if sel.Count < 1 {
		return 0, ErrInvalidCount
	}
	cookie := o.state.Cookie()
	if cookie == "" {
		return 0, ErrNotAuthenticated
	}
	if err := buyer.Validate(sel.Count); err != nil {
		return 0, err
	}

	attempt := uuid.NewString()
	logger := o.logger.With(
		"operation", "purchase",
		"attempt_id", attempt,
		"project_id", sel.ProjectID,
		"screen_id", sel.ScreenID,
		"sku_id", sel.SkuID,
	)

	token, err := o.api.PrepareOrder(ctx, cookie, remote.PrepareForm{
		ProjectID: sel.ProjectID,
		ScreenID:  sel.ScreenID,
		SkuID:     sel.SkuID,
		OrderType: OrderTypeDefault,
		Count:     sel.Count,
	})
	if err != nil {
		logger.WarnContext(ctx, "reservation failed", "outcome", "failure", "stage", "prepare", "error", err)
		return 0, fmt.Errorf("reserve: %w", err)
	}

	payload := NewPayload(o.clock, buyer.DeviceID)
	payload.ClickNowMs = o.clock().UnixMilli()
	form := BuildCreateForm(sel, buyer, token, payload)

	orderID, err := o.api.CreateOrder(ctx, cookie, form)
	if err != nil {
		logger.WarnContext(ctx, "order rejected",
			"outcome", "failure",
			"stage", "create",
			"reason", remote.Reason(err),
			"error", err,
		)
		return 0, fmt.Errorf("create order: %w", err)
	}

	logger.InfoContext(ctx, "order created", "outcome", "success", "order_id", orderID, "pay_money", form.PayMoney)
	return OrderID(orderID), nil
}
