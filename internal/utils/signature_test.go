package utils

import (
	"crypto/md5"
	"encoding/hex"
	"testing"
)

func TestClickSignString(t *testing.T) {
	params := ClickSignParams{
		ClickTransID:      "12345",
		ServiceID:         "777",
		SecretKey:         "secret",
		MerchantTransID:   "order-1",
		MerchantPrepareID: "prep-9",
		Amount:            "19990.00",
		Action:            "0",
		SignTime:          "2026-01-15 10:30:00",
	}

	prepare := ClickSignString(params, false)
	if prepare != "12345777secretorder-119990.0002026-01-15 10:30:00" {
		t.Errorf("prepare sign string = %q", prepare)
	}

	params.Action = "1"
	complete := ClickSignString(params, true)
	if complete != "12345777secretorder-1prep-919990.0012026-01-15 10:30:00" {
		t.Errorf("complete sign string = %q", complete)
	}
}

func TestVerifyClickSign(t *testing.T) {
	params := ClickSignParams{
		ClickTransID:      "555",
		ServiceID:         "777",
		SecretKey:         "secret",
		MerchantTransID:   "order-2",
		MerchantPrepareID: "prep-1",
		Amount:            "56990.00",
		Action:            "0",
		SignTime:          "2026-02-01 08:00:00",
	}
	sum := md5.Sum([]byte(ClickSignString(params, false)))
	sign := hex.EncodeToString(sum[:])

	if !VerifyClickSign(params, sign, false) {
		t.Fatal("valid signature rejected")
	}

	// Any single-field change invalidates the digest.
	tampered := params
	tampered.Amount = "56990.01"
	if VerifyClickSign(tampered, sign, false) {
		t.Error("tampered amount accepted")
	}

	if VerifyClickSign(params, sign[:31]+"0", false) {
		t.Error("altered digest accepted")
	}

	// A prepare signature does not validate a complete call.
	if VerifyClickSign(params, sign, true) {
		t.Error("prepare digest accepted for complete")
	}
}
