package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Options{
		Endpoints: Endpoints{Passport: server.URL, API: server.URL, Show: server.URL},
	})
}

func writeBody(t *testing.T, w http.ResponseWriter, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestPollLoginCarriesCookieFromHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/passport-login/web/qrcode/poll", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k1", r.URL.Query().Get("qrcode_key"))
		http.SetCookie(w, &http.Cookie{Name: "SESSDATA", Value: "abc", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "bili_jct", Value: "csrf", Path: "/"})
		writeBody(t, w, map[string]any{"code": 0, "data": map[string]any{"code": 0, "message": ""}})
	})
	client := newTestClient(t, mux)

	poll, err := client.PollLogin(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, poll.Code)
	assert.Equal(t, "SESSDATA=abc; bili_jct=csrf", poll.Cookie)
}

func TestPollLoginPendingHasNoCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/passport-login/web/qrcode/poll", func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, map[string]any{"code": 0, "data": map[string]any{"code": 86101, "message": "未扫码"}})
	})
	client := newTestClient(t, mux)

	poll, err := client.PollLogin(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 86101, poll.Code)
	assert.Equal(t, "未扫码", poll.Message)
	assert.Empty(t, poll.Cookie)
}

func TestHTTPErrorIsTransportError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.GenerateLoginQR(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, http.StatusBadGateway, transport.StatusCode)
}

func TestProjectInfoNotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, map[string]any{"errno": 3, "msg": "项目不存在", "data": nil})
	}))

	_, err := client.ProjectInfo(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersSendsCookieAndPaging(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ticket/order/list", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SESSDATA=abc", r.Header.Get("Cookie"))
		assert.Equal(t, "0", r.URL.Query().Get("page"))
		assert.Equal(t, "20", r.URL.Query().Get("page_size"))
		writeBody(t, w, map[string]any{"errno": 0, "data": map[string]any{"list": []map[string]any{
			{"order_id": "1001", "sub_status_name": AwaitingPaymentLabel, "item_info": map[string]any{"name": "BW"}},
			{"order_id": "1002", "sub_status_name": "已完成", "item_info": map[string]any{"name": "BML"}},
		}}})
	})
	client := newTestClient(t, mux)

	orders, err := client.ListOrders(context.Background(), "SESSDATA=abc", 0, 20)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "BW", orders[0].ItemInfo.Name)
	assert.True(t, orders[0].AwaitingPayment())
	assert.False(t, orders[1].AwaitingPayment())
}

func TestListOrdersRejectedWhenLoggedOut(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, map[string]any{"errno": -101, "msg": "账号未登录"})
	}))

	_, err := client.ListOrders(context.Background(), "", 0, 20)
	var rejection *PlatformRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, -101, rejection.Code)
	assert.Equal(t, "账号未登录", Reason(err))
}

func TestPrepareOrderPostsForm(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ticket/order/prepare", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "7", r.PostForm.Get("project_id"))
		assert.Equal(t, "8", r.PostForm.Get("screen_id"))
		assert.Equal(t, "9", r.PostForm.Get("sku_id"))
		assert.Equal(t, "1", r.PostForm.Get("order_type"))
		assert.Equal(t, "2", r.PostForm.Get("count"))
		writeBody(t, w, map[string]any{"errno": 0, "data": map[string]any{"token": "tok1"}})
	})
	client := newTestClient(t, mux)

	token, err := client.PrepareOrder(context.Background(), "c", PrepareForm{
		ProjectID: 7, ScreenID: 8, SkuID: 9, OrderType: 1, Count: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "tok1", token)
}

func TestCreateOrderSuccessAndRejection(t *testing.T) {
	var soldOut atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ticket/order/createV2", func(w http.ResponseWriter, r *http.Request) {
		if soldOut.Load() {
			writeBody(t, w, map[string]any{"errno": 100009, "msg": "sold out", "data": map[string]any{}})
			return
		}
		writeBody(t, w, map[string]any{"errno": 0, "data": map[string]any{"orderId": 123456789}})
	})
	client := newTestClient(t, mux)

	orderID, err := client.CreateOrder(context.Background(), "c", CreateForm{Token: "tok1"})
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), orderID)

	soldOut.Store(true)
	_, err = client.CreateOrder(context.Background(), "c", CreateForm{Token: "tok1"})
	require.Error(t, err)
	assert.Equal(t, "sold out", Reason(err))
}

func TestCancelOrderErrno(t *testing.T) {
	var errno atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1001", r.URL.Query().Get("order_id"))
		writeBody(t, w, map[string]any{"errno": errno.Load(), "msg": "订单不存在"})
	}))

	require.NoError(t, client.CancelOrder(context.Background(), "c", "1001"))

	errno.Store(1)
	err := client.CancelOrder(context.Background(), "c", "1001")
	var rejection *PlatformRejection
	require.ErrorAs(t, err, &rejection)
}

func TestPayParamMissingCodeURL(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, map[string]any{"errno": 0, "data": map[string]any{}})
	}))

	_, err := client.PayParam(context.Background(), "c", "1001")
	var rejection *PlatformRejection
	require.ErrorAs(t, err, &rejection)
}

func TestPayParamUndecodableDataIsMalformed(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeBody(t, w, map[string]any{"errno": 0, "data": []string{"not", "an", "object"}})
	}))

	_, err := client.PayParam(context.Background(), "c", "1001")
	var malformed *MalformedResponse
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "data", malformed.Field)
	assert.False(t, IsRejection(err))
}

func TestCreateFormValuesDoubleEncodesClickPosition(t *testing.T) {
	form := CreateForm{
		ProjectID:     1,
		ScreenID:      2,
		SkuID:         3,
		Count:         2,
		PayMoney:      200,
		OrderType:     1,
		Timestamp:     1700000000500,
		Token:         "tok1",
		ClickPosition: ClickPosition{X: 935, Y: 786, Origin: 1699999999500, Now: 1700000000501},
		RequestSource: "pc-new",
	}

	values, err := form.Values()
	require.NoError(t, err)
	assert.Equal(t, `{"x":935,"y":786,"origin":1699999999500,"now":1700000000501}`, values.Get("clickPosition"))
	assert.Equal(t, "false", values.Get("newRisk"))
	assert.Equal(t, "", values.Get("deviceId"))
	assert.Equal(t, "200", values.Get("pay_money"))
	assert.False(t, values.Has("buyer_info"))

	encoded := values.Encode()
	decoded, err := url.ParseQuery(encoded)
	require.NoError(t, err)
	assert.Equal(t, values.Get("clickPosition"), decoded.Get("clickPosition"))
}

func TestNestedRoundTrip(t *testing.T) {
	raw, err := EncodeNested(map[string]any{"first": map[string]string{"url": "//img/a.jpg"}})
	require.NoError(t, err)

	var decoded struct {
		First struct {
			URL string `json:"url"`
		} `json:"first"`
	}
	require.NoError(t, DecodeNested(raw, &decoded))
	assert.Equal(t, "//img/a.jpg", decoded.First.URL)
}

func TestQRImageURLEscapesAmpersand(t *testing.T) {
	got := QRImageURL("", "https://x/qr?a=1&b=2")
	assert.Equal(t, "https://api.pwmqr.com/qrcode/create/?url=https://x/qr?a=1%26b=2", got)
	assert.Equal(t, "http://r/?u=plain", QRImageURL("http://r/?u=", "plain"))
}
