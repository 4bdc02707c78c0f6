// Package reconcile は決済プロバイダの checkout セッションを
// ローカルの注文・決済レコードへ突き合わせるための純粋ロジックを持つ。
package reconcile

import "encoding/json"

// プロバイダ側のcheckoutセッションの正規化ビュー。
// infra層（stripegw）がAPIレスポンスからこの形に詰め替える。
type Session struct {
	ID            string
	AmountTotal   int64
	Currency      string
	PaymentStatus string

	//配送料（取れなければ0）
	ShippingAmount int64

	//決済参照。文字列IDか部分展開されたオブジェクトのどちらかが入る
	PaymentRef json.RawMessage

	//checkout時に付与したメタデータ（order_idなど）
	Metadata map[string]string

	//プロバイダ側の顧客ID（無ければ空）
	CustomerID string

	//セッションに載っている購入者情報ブロック
	Customer Contact

	//購入者住所とは別の配送先ブロック（無ければnil）
	Shipping *Shipping

	//checkoutページのURL（セッション作成時のみ）
	URL string
}

type Contact struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

type Shipping struct {
	Name    string
	Address Address
}

type Address struct {
	PostalCode string
	State      string
	City       string
	Line1      string
	Line2      string
}

func (a Address) Empty() bool {
	return a.PostalCode == "" && a.State == "" && a.City == "" && a.Line1 == "" && a.Line2 == ""
}
