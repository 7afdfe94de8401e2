package remote

import "encoding/json"

// ═══════════════════════════════════════════════════════════════
// Login / Identity
// ═══════════════════════════════════════════════════════════════

// QRCode is the result of generate-login-QR.
type QRCode struct {
	URL string `json:"url"`
	Key string `json:"qrcode_key"`
}

// LoginPoll is one poll-login response. Cookie is only populated when the
// platform attached session cookies, which it does when Code == 0.
type LoginPoll struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Cookie  string `json:"-"`
}

// NavIdentity is the display identity of the logged-in account.
type NavIdentity struct {
	Uname string `json:"uname"`
	Face  string `json:"face"`
}

// Buyer is a registered real-name buyer on the account.
type Buyer struct {
	ID             int64  `json:"id"`
	UID            int64  `json:"uid"`
	AccountChannel string `json:"account_channel"`
	PersonalID     string `json:"personal_id"`
	Name           string `json:"name"`
	IDCardFront    string `json:"id_card_front"`
	IDCardBack     string `json:"id_card_back"`
	IsDefault      int    `json:"is_default"`
	Tel            string `json:"tel"`
	ErrorCode      int64  `json:"error_code"`
	IDType         int64  `json:"id_type"`
	VerifyStatus   int64  `json:"verify_status"`
	AccountID      int64  `json:"accountId"`
}

// ═══════════════════════════════════════════════════════════════
// Orders
// ═══════════════════════════════════════════════════════════════

// AwaitingPaymentLabel is the sub_status_name the platform uses for orders
// that can still be paid or cancelled.
const AwaitingPaymentLabel = "待支付"

// Order is an order as listed by the platform. This system never mutates it.
type Order struct {
	OrderID         string   `json:"order_id"`
	UID             string   `json:"uid"`
	OrderType       int      `json:"order_type"`
	ItemID          int64    `json:"item_id"`
	ItemInfo        ItemInfo `json:"item_info"`
	Count           int      `json:"count"`
	TotalMoney      int64    `json:"total_money"`
	PayMoney        int64    `json:"pay_money"`
	ExpressFee      int64    `json:"express_fee"`
	Status          int      `json:"status"`
	SubStatus       int      `json:"sub_status"`
	RefundStatus    int      `json:"refund_status"`
	Ctime           string   `json:"ctime"`
	Img             Img      `json:"img"`
	DeliverTypeName string   `json:"deliver_type_name"`
	PayRemainTime   int64    `json:"pay_remain_time"`
	SubStatusName   string   `json:"sub_status_name"`
}

// AwaitingPayment reports whether payment/cancel actions apply to the order.
func (o Order) AwaitingPayment() bool {
	return o.SubStatusName == AwaitingPaymentLabel
}

type ItemInfo struct {
	Name           string `json:"name"`
	Img            string `json:"img"`
	ScreenID       int64  `json:"screen_id"`
	ScreenName     string `json:"screen_name"`
	ExpressFee     int64  `json:"express_fee"`
	DeliverType    int    `json:"deliver_type"`
	ScreenType     int    `json:"screen_type"`
	TicketType     int    `json:"ticket_type"`
	TicketTypeName string `json:"ticket_type_name"`
}

type Img struct {
	URL  string `json:"url"`
	Desc string `json:"desc"`
}

// ═══════════════════════════════════════════════════════════════
// Project catalog (raw platform shape)
// ═══════════════════════════════════════════════════════════════

// Project is the raw project tree. PerformanceImage is itself a JSON document
// encoded as a string and is resolved by the catalog package.
type Project struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Status           int      `json:"status"`
	IsSale           int      `json:"is_sale"`
	StartTime        int64    `json:"start_time"`
	EndTime          int64    `json:"end_time"`
	SaleBegin        int64    `json:"sale_begin"`
	SaleEnd          int64    `json:"sale_end"`
	SaleStart        int64    `json:"sale_start"`
	BuyerInfo        string   `json:"buyer_info"`
	NeedContact      int      `json:"need_contact"`
	PerformanceImage string   `json:"performance_image"`
	ScreenList       []Screen `json:"screen_list"`
}

type Screen struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	StartTime    int64    `json:"start_time"`
	DeliveryType int      `json:"delivery_type"`
	Type         int      `json:"type"`
	TicketType   int      `json:"ticket_type"`
	ScreenType   int      `json:"screen_type"`
	TicketList   []Ticket `json:"ticket_list"`
}

type Ticket struct {
	ID           int64  `json:"id"`
	Desc         string `json:"desc"`
	Price        int64  `json:"price"`
	IsSale       int    `json:"is_sale"`
	AnonymousBuy bool   `json:"anonymous_buy"`
	Clickable    bool   `json:"clickable"`
	SaleStart    string `json:"sale_start"`
	SaleEnd      string `json:"sale_end"`
	SaleType     int    `json:"sale_type"`
	ScreenName   string `json:"screen_name"`
}

// ═══════════════════════════════════════════════════════════════
// Purchase forms
// ═══════════════════════════════════════════════════════════════

// PrepareForm is the prepare-order request.
type PrepareForm struct {
	ProjectID int64
	ScreenID  int64
	SkuID     int64
	OrderType int
	Count     int
}

// ClickPosition is serialized as JSON and then sent as a single string form
// value. Field order is part of the wire format.
type ClickPosition struct {
	X      int   `json:"x"`
	Y      int   `json:"y"`
	Origin int64 `json:"origin"`
	Now    int64 `json:"now"`
}

// DeliverInfo is the address block for paper tickets.
type DeliverInfo struct {
	Name   string `json:"name"`
	Tel    string `json:"tel"`
	AddrID int64  `json:"addr_id"`
	Addr   string `json:"addr"`
}

// CreateForm is the create-order request. BuyerInfo and DeliverInfo are
// optional and, like ClickPosition, travel as JSON text inside the form.
type CreateForm struct {
	ProjectID     int64
	ScreenID      int64
	SkuID         int64
	Count         int
	PayMoney      int64
	OrderType     int
	Timestamp     int64
	Token         string
	DeviceID      string
	ClickPosition ClickPosition
	NewRisk       bool
	RequestSource string
	Buyer         string
	Tel           string
	BuyerInfo     []Buyer
	DeliverInfo   *DeliverInfo
}

// envelope is the common response wrapper. The show API reports errno/msg,
// the passport and main APIs report code/message.
type envelope struct {
	Code    *int            `json:"code"`
	Errno   *int            `json:"errno"`
	Message string          `json:"message"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) status() int {
	if e.Errno != nil {
		return *e.Errno
	}
	if e.Code != nil {
		return *e.Code
	}
	return 0
}

func (e envelope) reason() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

func (e envelope) hasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}
