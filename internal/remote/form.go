package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// EncodeNested marshals v to JSON and returns the JSON text, ready to be
// carried as a plain string value inside an outer form or JSON document.
// The platform requires this double encoding for clickPosition, buyer_info
// and deliver_info; sending a nested object instead is rejected.
func EncodeNested(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode nested value: %w", err)
	}
	return string(raw), nil
}

// DecodeNested is the inverse of EncodeNested: raw is JSON text that was
// delivered as a string field and must be decoded a second time.
func DecodeNested(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode nested value: %w", err)
	}
	return nil
}

// Values encodes the prepare-order form.
func (f PrepareForm) Values() url.Values {
	values := url.Values{}
	values.Set("project_id", strconv.FormatInt(f.ProjectID, 10))
	values.Set("screen_id", strconv.FormatInt(f.ScreenID, 10))
	values.Set("sku_id", strconv.FormatInt(f.SkuID, 10))
	values.Set("order_type", strconv.Itoa(f.OrderType))
	values.Set("count", strconv.Itoa(f.Count))
	return values
}

// Values encodes the create-order form with the platform's field names.
func (f CreateForm) Values() (url.Values, error) {
	clickPosition, err := EncodeNested(f.ClickPosition)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("project_id", strconv.FormatInt(f.ProjectID, 10))
	values.Set("screen_id", strconv.FormatInt(f.ScreenID, 10))
	values.Set("sku_id", strconv.FormatInt(f.SkuID, 10))
	values.Set("count", strconv.Itoa(f.Count))
	values.Set("pay_money", strconv.FormatInt(f.PayMoney, 10))
	values.Set("order_type", strconv.Itoa(f.OrderType))
	values.Set("timestamp", strconv.FormatInt(f.Timestamp, 10))
	values.Set("token", f.Token)
	values.Set("deviceId", f.DeviceID)
	values.Set("clickPosition", clickPosition)
	values.Set("newRisk", strconv.FormatBool(f.NewRisk))
	values.Set("requestSource", f.RequestSource)
	values.Set("buyer", f.Buyer)
	values.Set("tel", f.Tel)

	if len(f.BuyerInfo) > 0 {
		buyerInfo, err := EncodeNested(f.BuyerInfo)
		if err != nil {
			return nil, err
		}
		values.Set("buyer_info", buyerInfo)
	}
	if f.DeliverInfo != nil {
		deliverInfo, err := EncodeNested(f.DeliverInfo)
		if err != nil {
			return nil, err
		}
		values.Set("deliver_info", deliverInfo)
	}
	return values, nil
}
