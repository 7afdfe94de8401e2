package catalog

import "github.com/Amorter/bili-ticket/internal/remote"

// BuyerMode is the buyer information a purchase of the project must carry.
type BuyerMode int

const (
	// ModeAnonymous needs no buyer information.
	ModeAnonymous BuyerMode = iota
	// ModeNamePhone needs a contact name and phone number.
	ModeNamePhone
	// ModeDeliver needs a postal address for paper tickets.
	ModeDeliver
	// ModeBuyer needs registered real-name buyers.
	ModeBuyer
)

const (
	// DeliveryPaper is the screen delivery_type of mailed paper tickets.
	DeliveryPaper = 3
	// RealNameRequired is the project buyer_info marker for real-name sales.
	RealNameRequired = "2,1"
)

func (m BuyerMode) String() string {
	switch m {
	case ModeNamePhone:
		return "name_phone"
	case ModeDeliver:
		return "deliver"
	case ModeBuyer:
		return "buyer"
	default:
		return "anonymous"
	}
}

// Classify decides the buyer mode. The first matching rule wins:
// anonymous tickets, then paper delivery, then the real-name marker, then
// the contact flag. Everything else needs no buyer information.
//
// The precedence mirrors how the platform's web client behaves; the flags
// themselves are undocumented.
func Classify(anonymousBuy bool, deliveryType int, buyerInfo string, needContact int) BuyerMode {
	switch {
	case anonymousBuy:
		return ModeAnonymous
	case deliveryType == DeliveryPaper:
		return ModeDeliver
	case buyerInfo == RealNameRequired:
		return ModeBuyer
	case needContact == 1:
		return ModeNamePhone
	default:
		return ModeAnonymous
	}
}

// ModeOf classifies a raw project using its first screen and that screen's
// first ticket. The ticket rule is skipped when there is no first ticket and
// the delivery rule when there is no first screen.
func ModeOf(p remote.Project) BuyerMode {
	anonymous, delivery := false, 0
	if len(p.ScreenList) > 0 {
		first := p.ScreenList[0]
		delivery = first.DeliveryType
		if len(first.TicketList) > 0 {
			anonymous = first.TicketList[0].AnonymousBuy
		}
	}
	return Classify(anonymous, delivery, p.BuyerInfo, p.NeedContact)
}
