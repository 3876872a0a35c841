package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"
)

// ClientIDCookie is the name of the signed durable-identity cookie.
const ClientIDCookie = "typeswift_client_id"

const cookieMaxAge = 365 * 24 * time.Hour

// CookieCodec signs and verifies the client-id cookie so a browser cannot
// forge someone else's durable identity by editing the raw value. The
// identity stays unauthenticated beyond that; see the trust notes in the
// profile package.
type CookieCodec struct {
	secret []byte
	secure bool
}

// NewCookieCodec creates a codec with the given signing secret. secure
// controls the cookie's Secure attribute.
func NewCookieCodec(secret string, secure bool) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), secure: secure}
}

// Encode produces the signed wire form "value.signature".
func (c *CookieCodec) Encode(value string) string {
	return value + "." + c.sign(value)
}

// Decode verifies the signed wire form and returns the value.
func (c *CookieCodec) Decode(raw string) (string, bool) {
	idx := strings.LastIndex(raw, ".")
	if idx < 0 {
		return "", false
	}
	value, sig := raw[:idx], raw[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(c.sign(value))) {
		return "", false
	}
	return value, true
}

// ReadClientID extracts and verifies the client id from the request cookie.
func (c *CookieCodec) ReadClientID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(ClientIDCookie)
	if err != nil {
		return "", false
	}
	return c.Decode(cookie.Value)
}

// SetClientID writes the signed, long-lived identity cookie.
func (c *CookieCodec) SetClientID(w http.ResponseWriter, clientID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientIDCookie,
		Value:    c.Encode(clientID),
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *CookieCodec) sign(value string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
