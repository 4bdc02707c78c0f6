package reconcile

import "strings"

// 既存レコード（注文 or ユーザー）に保存済みの購入者情報。
type StoredContact struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	PostalCode string
	Prefecture string
	City       string
	Rest       string
}

// 突き合わせ結果。注文に書き込む最終値。
type CustomerFields struct {
	Name       string
	Email      string
	Phone      string
	Address    string
	PostalCode string
	Prefecture string
	City       string
	Rest       string
}

// ResolveCustomerFields はフィールドごとに独立して
// セッションの購入者情報 → プロバイダから取得した顧客 → 既存レコード
// の順で最初の非空値を採用する。fullとstoredはnil可。
// 全部空でも例外にせず空文字に落とす。
func ResolveCustomerFields(sess *Session, full *Contact, stored *StoredContact) CustomerFields {
	if stored == nil {
		stored = &StoredContact{}
	}
	var fullC Contact
	if full != nil {
		fullC = *full
	}

	out := CustomerFields{
		Name:  firstNonEmpty(sess.Customer.Name, fullC.Name, stored.Name),
		Email: firstNonEmpty(sess.Customer.Email, fullC.Email, stored.Email),
		Phone: firstNonEmpty(sess.Customer.Phone, fullC.Phone, stored.Phone),
	}

	//住所は配送先ブロックを最優先、次に購入者住所、次に顧客、最後に既存値
	var addr Address
	switch {
	case sess.Shipping != nil && !sess.Shipping.Address.Empty():
		addr = sess.Shipping.Address
	case !sess.Customer.Address.Empty():
		addr = sess.Customer.Address
	case !fullC.Address.Empty():
		addr = fullC.Address
	default:
		out.Address = stored.Address
		out.PostalCode = stored.PostalCode
		out.Prefecture = stored.Prefecture
		out.City = stored.City
		out.Rest = stored.Rest
		return out
	}

	out.Address = JoinAddress(addr)
	out.PostalCode = addr.PostalCode
	out.Prefecture = addr.State
	out.City = addr.City
	out.Rest = joinNonEmpty(addr.Line1, addr.Line2)
	return out
}

// NeedsCustomerLookup はセッションの購入者情報が不完全で、
// 顧客IDによる追加取得を試す価値があるか。
func NeedsCustomerLookup(sess *Session) bool {
	if sess.CustomerID == "" {
		return false
	}
	return sess.Customer.Name == "" ||
		sess.Customer.Email == "" ||
		sess.Customer.Phone == "" ||
		sess.Customer.Address.Empty()
}

// JoinAddress は郵便番号・都道府県・市区町村・番地・建物名を
// この順に半角スペースで連結する。空の要素は飛ばす。
func JoinAddress(a Address) string {
	return joinNonEmpty(a.PostalCode, a.State, a.City, a.Line1, a.Line2)
}

func joinNonEmpty(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
