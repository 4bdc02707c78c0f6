package reconcile

import "encoding/json"

// 部分展開された決済参照オブジェクト。latest_chargeは
// 文字列にもオブジェクトにもなるので両対応でデコードする。
type paymentRefObject struct {
	ID           string          `json:"id"`
	LatestCharge json.RawMessage `json:"latest_charge"`
	Charges      struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	} `json:"charges"`
}

// ResolvePaymentRef は決済参照を次の順で解決する:
//  1. 参照自体が文字列ID
//  2. オブジェクトの latest_charge（文字列 or {id}）
//  3. charges.data の先頭要素のid
//  4. オブジェクト自身のid
//
// どれも取れなければ空文字を返す。空はエラーではない。
func ResolvePaymentRef(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj paymentRefObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}

	if id := chargeID(obj.LatestCharge); id != "" {
		return id
	}
	if len(obj.Charges.Data) > 0 && obj.Charges.Data[0].ID != "" {
		return obj.Charges.Data[0].ID
	}
	return obj.ID
}

func chargeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return obj.ID
}
