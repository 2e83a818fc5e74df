package receipts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrBadPayload = errors.New("receipts: payload signature invalid")

// Payload returns "orderID|reference|unix|signature" for the receipt QR code.
func Payload(key []byte, orderID, reference string, issued time.Time) string {
	data := fmt.Sprintf("%s|%s|%d", orderID, reference, issued.Unix())
	return data + "|" + sign(key, data)
}

func sign(key []byte, data string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// VerifyPayload checks a scanned payload and returns what it vouches for.
func VerifyPayload(key []byte, payload string) (orderID, reference string, issued time.Time, err error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 4 {
		return "", "", time.Time{}, ErrBadPayload
	}
	data := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(sign(key, data)), []byte(parts[3])) {
		return "", "", time.Time{}, ErrBadPayload
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, ErrBadPayload
	}
	return parts[0], parts[1], time.Unix(ts, 0).UTC(), nil
}
