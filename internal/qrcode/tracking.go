// Package qrcode signs order tracking tokens and renders them as QR codes.
package qrcode

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"

	goqrcode "github.com/skip2/go-qrcode"
)

const separator = "."

// Signer issues tracking tokens of the form orderID + "." + hex(HMAC-SHA256(orderID)).
// A token lets a guest see one order without logging in.
type Signer struct {
	secret  []byte
	baseURL string
}

func NewSigner(secret, baseURL string) *Signer {
	if secret == "" {
		secret = "default-secret"
	}
	return &Signer{secret: []byte(secret), baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Signer) sign(orderID string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte("order-tracking:" + orderID))
	return mac.Sum(nil)
}

func (s *Signer) Token(orderID string) string {
	return orderID + separator + hex.EncodeToString(s.sign(orderID))
}

// Verify returns the order ID a token was issued for.
func (s *Signer) Verify(token string) (orderID string, ok bool) {
	idx := strings.LastIndex(token, separator)
	if idx <= 0 || idx >= len(token)-1 {
		return "", false
	}
	orderID = token[:idx]
	sig, err := hex.DecodeString(token[idx+1:])
	if err != nil || len(sig) != sha256.Size {
		return "", false
	}
	if !hmac.Equal(sig, s.sign(orderID)) {
		return "", false
	}
	return orderID, true
}

// URL is the public tracking link for an order.
func (s *Signer) URL(orderID string) string {
	return s.baseURL + "/api/orders/track?token=" + url.QueryEscape(s.Token(orderID))
}

// PNG renders the tracking link as a QR code image of size x size pixels.
func (s *Signer) PNG(orderID string, size int) ([]byte, error) {
	return goqrcode.Encode(s.URL(orderID), goqrcode.Medium, size)
}
