package remote

import "strings"

// DefaultQRRenderer turns arbitrary text into a QR code image.
const DefaultQRRenderer = "https://api.pwmqr.com/qrcode/create/?url="

// QRImageURL returns an image URL rendering content as a QR code via the
// renderer at base (DefaultQRRenderer when empty). Only '&' is escaped: the
// renderer takes the rest of the query verbatim.
func QRImageURL(base, content string) string {
	if base == "" {
		base = DefaultQRRenderer
	}
	return base + strings.ReplaceAll(content, "&", "%26")
}
