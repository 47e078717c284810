package httpserver

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// qrDataURI renders link as a PNG QR code data URI, or "" if encoding fails.
func qrDataURI(link string) string {
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
