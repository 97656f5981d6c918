package common

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding"
)

// SignMessage computes the hex HMAC-SHA256 signature carried in the
// X-Signature header. Surrounding whitespace is not part of the signed
// payload so proxies that re-terminate bodies stay compatible.
func SignMessage(message []byte, secretKey []byte) ([]byte, error) {
	h := hmac.New(sha256.New, secretKey)
	h.Write(bytes.Trim(message, " \r\n\t"))
	return h.(encoding.TextMarshaler).MarshalText()
}

func CheckSignedMessage(message []byte, secretKey []byte, signature []byte) (bool, error) {
	b, err := SignMessage(message, secretKey)
	if err != nil {
		return false, err
	}
	return hmac.Equal(b, signature), nil
}
