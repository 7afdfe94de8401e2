package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	opGenerateQR   = "generate-login-qr"
	opPollLogin    = "poll-login"
	opNav          = "fetch-nav-identity"
	opProject      = "fetch-project-catalog"
	opListOrders   = "list-orders"
	opPrepareOrder = "prepare-order"
	opCreateOrder  = "create-order"
	opCancelOrder  = "cancel-order"
	opPayParam     = "fetch-pay-param"
	opListBuyers   = "list-buyers"
)

// GenerateLoginQR requests a fresh login QR code.
func (c *Client) GenerateLoginQR(ctx context.Context) (QRCode, error) {
	r, err := c.do(ctx, call{
		op:     opGenerateQR,
		method: http.MethodGet,
		url:    c.endpoints.Passport + "/x/passport-login/web/qrcode/generate",
	})
	if err != nil {
		return QRCode{}, err
	}
	if err := r.rejectUnlessOK(opGenerateQR); err != nil {
		return QRCode{}, err
	}

	var qr QRCode
	if err := r.data(opGenerateQR, &qr); err != nil {
		return QRCode{}, err
	}
	if qr.Key == "" {
		return QRCode{}, &MalformedResponse{Op: opGenerateQR, Field: "qrcode_key"}
	}
	return qr, nil
}

// PollLogin asks whether the QR code identified by key has been confirmed.
// The login status lives in data.code; the cookie comes from Set-Cookie.
func (c *Client) PollLogin(ctx context.Context, key string) (LoginPoll, error) {
	r, err := c.do(ctx, call{
		op:     opPollLogin,
		method: http.MethodGet,
		url:    c.endpoints.Passport + "/x/passport-login/web/qrcode/poll",
		query:  url.Values{"qrcode_key": {key}},
	})
	if err != nil {
		return LoginPoll{}, err
	}
	if err := r.rejectUnlessOK(opPollLogin); err != nil {
		return LoginPoll{}, err
	}

	var poll LoginPoll
	if err := r.data(opPollLogin, &poll); err != nil {
		return LoginPoll{}, err
	}
	poll.Cookie = cookieHeader(r.cookies)
	return poll, nil
}

// NavIdentity fetches the account's display name and avatar.
func (c *Client) NavIdentity(ctx context.Context, cookie string) (NavIdentity, error) {
	r, err := c.do(ctx, call{
		op:     opNav,
		method: http.MethodGet,
		url:    c.endpoints.API + "/x/web-interface/nav",
		cookie: cookie,
	})
	if err != nil {
		return NavIdentity{}, err
	}
	if err := r.rejectUnlessOK(opNav); err != nil {
		return NavIdentity{}, err
	}

	var identity NavIdentity
	if err := r.data(opNav, &identity); err != nil {
		return NavIdentity{}, err
	}
	return identity, nil
}

// ProjectInfo fetches the raw project tree. A non-zero status or an empty
// data field means the project does not exist.
func (c *Client) ProjectInfo(ctx context.Context, projectID int64) (Project, error) {
	r, err := c.do(ctx, call{
		op:     opProject,
		method: http.MethodGet,
		url:    c.endpoints.Show + "/api/ticket/project/get",
		query:  url.Values{"id": {strconv.FormatInt(projectID, 10)}},
	})
	if err != nil {
		return Project{}, err
	}
	if r.status() != 0 || !r.hasData() {
		return Project{}, fmt.Errorf("%s: project %d: %w", opProject, projectID, ErrNotFound)
	}

	var project Project
	if err := r.data(opProject, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// ListOrders fetches one page of the account's orders.
func (c *Client) ListOrders(ctx context.Context, cookie string, page, pageSize int) ([]Order, error) {
	r, err := c.do(ctx, call{
		op:     opListOrders,
		method: http.MethodGet,
		url:    c.endpoints.Show + "/api/ticket/order/list",
		query: url.Values{
			"page":      {strconv.Itoa(page)},
			"page_size": {strconv.Itoa(pageSize)},
		},
		cookie: cookie,
	})
	if err != nil {
		return nil, err
	}
	if err := r.rejectUnlessOK(opListOrders); err != nil {
		return nil, err
	}

	var payload struct {
		List []Order `json:"list"`
	}
	if err := r.data(opListOrders, &payload); err != nil {
		return nil, err
	}
	if payload.List == nil {
		payload.List = []Order{}
	}
	return payload.List, nil
}

// PrepareOrder reserves the selection and returns the reservation token.
func (c *Client) PrepareOrder(ctx context.Context, cookie string, form PrepareForm) (string, error) {
	r, err := c.do(ctx, call{
		op:     opPrepareOrder,
		method: http.MethodPost,
		url:    c.endpoints.Show + "/api/ticket/order/prepare",
		form:   form.Values(),
		cookie: cookie,
	})
	if err != nil {
		return "", err
	}
	if err := r.rejectUnlessOK(opPrepareOrder); err != nil {
		return "", err
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := r.data(opPrepareOrder, &payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", &MalformedResponse{Op: opPrepareOrder, Field: "token"}
	}
	return payload.Token, nil
}

// CreateOrder submits the order. Success is signalled only by a numeric
// orderId in data; otherwise the platform's msg is the rejection reason.
func (c *Client) CreateOrder(ctx context.Context, cookie string, form CreateForm) (int64, error) {
	values, err := form.Values()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", opCreateOrder, err)
	}

	r, err := c.do(ctx, call{
		op:     opCreateOrder,
		method: http.MethodPost,
		url:    c.endpoints.Show + "/api/ticket/order/createV2",
		form:   values,
		cookie: cookie,
	})
	if err != nil {
		return 0, err
	}

	if r.hasData() {
		var payload struct {
			OrderID json.Number `json:"orderId"`
		}
		if err := json.Unmarshal(r.Data, &payload); err == nil && payload.OrderID != "" {
			orderID, err := payload.OrderID.Int64()
			if err != nil {
				return 0, &MalformedResponse{Op: opCreateOrder, Field: "orderId", Err: err}
			}
			return orderID, nil
		}
	}
	return 0, &PlatformRejection{Op: opCreateOrder, Code: r.status(), Message: r.reason()}
}

// CancelOrder cancels an order awaiting payment.
func (c *Client) CancelOrder(ctx context.Context, cookie, orderID string) error {
	r, err := c.do(ctx, call{
		op:     opCancelOrder,
		method: http.MethodGet,
		url:    c.endpoints.Show + "/api/ticket/order/cancel",
		query:  url.Values{"order_id": {orderID}},
		cookie: cookie,
	})
	if err != nil {
		return err
	}
	if r.Errno == nil {
		return &MalformedResponse{Op: opCancelOrder, Field: "errno"}
	}
	return r.rejectUnlessOK(opCancelOrder)
}

// PayParam fetches the payment code URL for an order.
func (c *Client) PayParam(ctx context.Context, cookie, orderID string) (string, error) {
	r, err := c.do(ctx, call{
		op:     opPayParam,
		method: http.MethodGet,
		url:    c.endpoints.Show + "/api/ticket/order/getPayParam",
		query:  url.Values{"order_id": {orderID}},
		cookie: cookie,
	})
	if err != nil {
		return "", err
	}
	if err := r.rejectUnlessOK(opPayParam); err != nil {
		return "", err
	}

	var payload struct {
		CodeURL string `json:"code_url"`
	}
	if r.hasData() {
		if err := json.Unmarshal(r.Data, &payload); err != nil {
			return "", &MalformedResponse{Op: opPayParam, Field: "data", Err: err}
		}
	}
	if payload.CodeURL == "" {
		return "", &PlatformRejection{Op: opPayParam, Code: r.status(), Message: r.reason()}
	}
	return payload.CodeURL, nil
}

// ListBuyers fetches the registered real-name buyers of the account.
func (c *Client) ListBuyers(ctx context.Context, cookie string) ([]Buyer, error) {
	r, err := c.do(ctx, call{
		op:     opListBuyers,
		method: http.MethodGet,
		url:    c.endpoints.Show + "/api/ticket/buyer/list",
		cookie: cookie,
	})
	if err != nil {
		return nil, err
	}
	if err := r.rejectUnlessOK(opListBuyers); err != nil {
		return nil, err
	}

	var payload struct {
		List []Buyer `json:"list"`
	}
	if err := r.data(opListBuyers, &payload); err != nil {
		return nil, err
	}
	return payload.List, nil
}
