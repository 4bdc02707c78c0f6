package stripegw

import (
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Webhook署名検証。生のリクエストボディと Stripe-Signature ヘッダを受け取り、
// 検証に通ったイベントだけを返す。
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

func (v *Verifier) Verify(sigHeader string, payload []byte) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		//APIバージョン差分で検証ごと落とさない
		IgnoreAPIVersionMismatch: true,
	})
}
