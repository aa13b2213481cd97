package provider

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"ref_1"}}`)
	secret := "whsec_test"

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		want      bool
	}{
		{"valid signature", body, sign(secret, body), secret, true},
		{"wrong secret", body, sign("other", body), secret, false},
		{"tampered body", []byte(`{"event":"charge.success","data":{"reference":"ref_2"}}`), sign(secret, body), secret, false},
		{"empty signature header", body, "", secret, false},
		{"garbage signature", body, "not-hex-at-all", secret, false},
		{"empty secret", body, sign("", body), "", false},
		{"empty body", []byte{}, sign(secret, []byte{}), secret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyWebhookSignature(tt.body, tt.signature, tt.secret)
			if got != tt.want {
				t.Errorf("VerifyWebhookSignature() = %v, want %v", got, tt.want)
			}
		})
	}
}
