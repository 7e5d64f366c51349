package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// ClickSignParams holds the raw wire values a Click callback was signed over.
// Fields stay exactly as received on the form; re-formatting any of them would
// change the digest.
type ClickSignParams struct {
	ClickTransID      string
	ServiceID         string
	SecretKey         string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	SignTime          string
}

// ClickSignString builds the canonical signing string. The Complete call
// inserts merchant_prepare_id between merchant_trans_id and amount; the order
// is fixed by the gateway and is not configurable.
func ClickSignString(p ClickSignParams, isComplete bool) string {
	s := p.ClickTransID + p.ServiceID + p.SecretKey + p.MerchantTransID
	if isComplete {
		s += p.MerchantPrepareID
	}
	return s + p.Amount + p.Action + p.SignTime
}

// VerifyClickSign compares the MD5 hex digest of the canonical string against
// the caller-supplied sign_string.
func VerifyClickSign(p ClickSignParams, signString string, isComplete bool) bool {
	sum := md5.Sum([]byte(ClickSignString(p, isComplete)))
	return hex.EncodeToString(sum[:]) == signString
}
