package purchase

import (
	"time"

	"github.com/Amorter/bili-ticket/internal/catalog"
	"github.com/Amorter/bili-ticket/internal/remote"
)

const (
	// OrderTypeDefault is the only order type this client places.
	OrderTypeDefault = 1
	RequestSource    = "pc-new"

	ClickX = 935
	ClickY = 786

	// clickLead is how long before construction the simulated click began.
	clickLead = 1000
)

// Payload is the anti-automation block of one create-order request. It is
// derived per attempt and never reused.
type Payload struct {
	TimestampMs   int64
	ClickOriginMs int64
	// ClickNowMs is a third clock read, taken right before the form is built.
	ClickNowMs    int64
	DeviceID      string
	RequestSource string
	NewRisk       bool
}

// NewPayload derives a payload from two independent clock reads: one for the
// timestamp, one for the click origin. The caller sets ClickNowMs when it
// is about to send.
func NewPayload(clock func() time.Time, deviceID string) Payload {
	timestamp := clock().UnixMilli()
	origin := clock().UnixMilli() - clickLead
	return Payload{
		TimestampMs:   timestamp,
		ClickOriginMs: origin,
		DeviceID:      deviceID,
		RequestSource: RequestSource,
		NewRisk:       false,
	}
}

// BuildCreateForm assembles the create-order form for one attempt.
func BuildCreateForm(sel Selection, buyer BuyerFields, token string, p Payload) remote.CreateForm {
	form := remote.CreateForm{
		ProjectID: sel.ProjectID,
		ScreenID:  sel.ScreenID,
		SkuID:     sel.SkuID,
		Count:     sel.Count,
		PayMoney:  sel.UnitPrice * int64(sel.Count),
		OrderType: OrderTypeDefault,
		Timestamp: p.TimestampMs,
		Token:     token,
		DeviceID:  p.DeviceID,
		ClickPosition: remote.ClickPosition{
			X:      ClickX,
			Y:      ClickY,
			Origin: p.ClickOriginMs,
			Now:    p.ClickNowMs,
		},
		NewRisk:       p.NewRisk,
		RequestSource: p.RequestSource,
		Buyer:         buyer.Name,
		Tel:           buyer.Phone,
	}

	switch buyer.Mode {
	case catalog.ModeBuyer:
		form.BuyerInfo = buyer.Buyers
	case catalog.ModeDeliver:
		form.DeliverInfo = &remote.DeliverInfo{
			Name:   buyer.Name,
			Tel:    buyer.Phone,
			AddrID: buyer.AddressID,
			Addr:   buyer.Address,
		}
	}
	return form
}
