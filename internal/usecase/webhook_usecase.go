package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"app/internal/domain/model"
	"app/internal/reconcile"
	repo "app/internal/repository"
	"app/internal/retry"
)

const eventTypeCheckoutCompleted = "checkout.session.completed"

// 署名検証を通過した1件のWebhookイベント。
type IncomingEvent struct {
	ID        string
	Type      string
	Created   time.Time
	SessionID string
	Payload   []byte
}

type WebhookConfig struct {
	//DB書き込み1回あたりの一時障害リトライ回数
	Retries int

	//これより古いイベントは処理せず台帳だけ閉じる（0で無効）
	MaxEventAge time.Duration

	Delivery DeliveryConfig
}

type DeliveryConfig struct {
	CourierID        string
	ServiceCode      string
	OriginPostalCode string
	OriginAddress    string
}

// Webhook受信からOrder/Payment確定までのパイプライン。
// 配送ごとに独立したリクエストスコープで動き、共有状態は台帳とDB行だけ。
type WebhookUsecase struct {
	events    repo.WebhookEventRepository
	orders    repo.OrderRepository
	payments  repo.PaymentRepository
	users     repo.UserRepository
	sessions  SessionGateway
	customers CustomerGateway

	//nilなら伝票作成は無効
	shipments ShipmentGateway

	exec   *retry.Executor
	logger *slog.Logger
	cfg    WebhookConfig
}

func NewWebhookUsecase(
	events repo.WebhookEventRepository,
	orders repo.OrderRepository,
	payments repo.PaymentRepository,
	users repo.UserRepository,
	sessions SessionGateway,
	customers CustomerGateway,
	shipments ShipmentGateway,
	exec *retry.Executor,
	logger *slog.Logger,
	cfg WebhookConfig,
) *WebhookUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &WebhookUsecase{
		events:    events,
		orders:    orders,
		payments:  payments,
		users:     users,
		sessions:  sessions,
		customers: customers,
		shipments: shipments,
		exec:      exec,
		logger:    logger,
		cfg:       cfg,
	}
}

// HandleEvent は received → verified → deduped-or-new →
// (permanently-missing-session | reconciled) → processed の遷移を回す。
// エラーを返した場合は台帳が未処理のまま残り、プロバイダの再配送で
// パイプライン全体が安全にやり直される。
func (u *WebhookUsecase) HandleEvent(ctx context.Context, ev IncomingEvent) error {
	//台帳へupsert。同時配送の一意制約競合は良性の重複として吸収する
	err := u.events.Upsert(ctx, model.WebhookEvent{ID: ev.ID, Type: ev.Type, Payload: ev.Payload})
	if err != nil {
		if !errors.Is(err, repo.ErrUniqueViolation) {
			return fmt.Errorf("register webhook event %s: %w", ev.ID, err)
		}
		u.logger.Info("concurrent duplicate delivery absorbed", "event_id", ev.ID)
	}

	processed, err := u.events.IsProcessed(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("check webhook event %s: %w", ev.ID, err)
	}
	if processed {
		u.logger.Info("event already processed, skipping", "event_id", ev.ID, "type", ev.Type)
		return nil
	}

	//対象外のイベント種別は台帳だけ閉じる
	if ev.Type != eventTypeCheckoutCompleted {
		return u.markProcessed(ctx, ev)
	}

	if u.cfg.MaxEventAge > 0 && !ev.Created.IsZero() && time.Since(ev.Created) > u.cfg.MaxEventAge {
		u.logger.Warn("event older than max age, closing without reconciliation",
			"event_id", ev.ID, "created", ev.Created, "max_age", u.cfg.MaxEventAge.String())
		return u.markProcessed(ctx, ev)
	}

	sess, err := u.sessions.RetrieveSession(ctx, ev.SessionID)
	if errors.Is(err, ErrSessionNotFound) {
		//終端条件。Order/Paymentは作らず台帳を閉じる
		u.logger.Info("session missing upstream, marking event processed",
			"event_id", ev.ID, "session_id", ev.SessionID)
		return u.markProcessed(ctx, ev)
	}
	if err != nil {
		//一時障害はhandlerの500経由でプロバイダに再配送させる
		return err
	}

	existing, err := u.findPreCreatedOrder(ctx, sess)
	if err != nil {
		return err
	}

	fields, user := u.resolveCustomer(ctx, sess, existing)

	//顧客IDの埋め戻し。失敗してもパイプラインは止めない
	if sess.CustomerID != "" && fields.Email != "" {
		if err := u.users.SetStripeCustomerID(ctx, fields.Email, sess.CustomerID); err != nil {
			u.logger.Warn("stripe customer id backfill failed",
				"email", fields.Email, "customer_id", sess.CustomerID, "error", err.Error())
		}
	}

	order, err := u.upsertOrder(ctx, sess, fields, existing, user)
	if err != nil {
		u.logger.Error("order reconciliation failed",
			"event_id", ev.ID,
			"session_id", sess.ID,
			"amount", sess.AmountTotal,
			"customer_email", fields.Email,
			"customer_name", fields.Name,
			"error", err.Error(),
		)
		return err
	}

	if err := u.createPayment(ctx, ev, sess, order); err != nil {
		u.logger.Error("payment persistence failed",
			"event_id", ev.ID, "session_id", sess.ID, "order_id", order.ID, "error", err.Error())
		return err
	}

	//伝票作成。決済確定のほうが優先度の高い不変条件なので失敗は握りつぶす
	if err := u.createShipment(ctx, order); err != nil {
		u.logger.Warn("shipment creation failed, continuing",
			"order_id", order.ID, "error", err.Error())
	}

	return u.markProcessed(ctx, ev)
}

func (u *WebhookUsecase) markProcessed(ctx context.Context, ev IncomingEvent) error {
	err := u.events.MarkProcessed(ctx, model.WebhookEvent{ID: ev.ID, Type: ev.Type, Payload: ev.Payload})
	if err != nil && !errors.Is(err, repo.ErrUniqueViolation) {
		return fmt.Errorf("mark webhook event processed %s: %w", ev.ID, err)
	}
	return nil
}

// metadataのorder_idから事前作成済み注文を引く。
// 無ければnil（孤児セッション扱い）。DB障害は区別して伝播する。
func (u *WebhookUsecase) findPreCreatedOrder(ctx context.Context, sess *reconcile.Session) (*model.Order, error) {
	raw := sess.Metadata["order_id"]
	if raw == "" {
		return nil, nil
	}
	orderID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		u.logger.Warn("malformed order_id in session metadata",
			"session_id", sess.ID, "order_id", raw)
		return nil, nil
	}

	var found model.Order
	err = u.exec.Do(ctx, "order_find", u.cfg.Retries, func(ctx context.Context) error {
		o, err := u.orders.FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		found = o
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order %d for session %s: %w", orderID, sess.ID, err)
	}
	return &found, nil
}

// フィールドごとの優先順でメール・氏名・電話・住所を確定する。
// 既存注文が無い場合はemail一致のユーザーを第三候補にする。
func (u *WebhookUsecase) resolveCustomer(ctx context.Context, sess *reconcile.Session, existing *model.Order) (reconcile.CustomerFields, *model.User) {
	var full *reconcile.Contact
	if reconcile.NeedsCustomerLookup(sess) {
		c, err := u.customers.RetrieveCustomer(ctx, sess.CustomerID)
		if err != nil {
			//取得失敗は後続のフォールバックに任せる
			u.logger.Warn("customer lookup failed, falling back",
				"customer_id", sess.CustomerID, "error", err.Error())
		} else {
			full = c
		}
	}

	var stored *reconcile.StoredContact
	var user *model.User
	if existing != nil {
		stored = &reconcile.StoredContact{
			Name:       existing.CustomerName,
			Email:      existing.CustomerEmail,
			Phone:      existing.CustomerPhone,
			Address:    existing.ShippingAddress,
			PostalCode: existing.ShippingPostalCode,
			Prefecture: existing.ShippingPrefecture,
			City:       existing.ShippingCity,
			Rest:       existing.ShippingRest,
		}
	} else if email := firstEmail(sess, full); email != "" {
		found, err := u.users.FindByEmail(ctx, email)
		if err != nil {
			u.logger.Warn("user lookup failed, falling back", "email", email, "error", err.Error())
		} else if found != nil {
			user = found
			stored = &reconcile.StoredContact{
				Name:  found.Name,
				Email: found.Email,
				Phone: found.Phone,
			}
		}
	}

	return reconcile.ResolveCustomerFields(sess, full, stored), user
}

func firstEmail(sess *reconcile.Session, full *reconcile.Contact) string {
	if sess.Customer.Email != "" {
		return sess.Customer.Email
	}
	if full != nil {
		return full.Email
	}
	return ""
}

// 事前作成済み注文はPAIDへ更新、無ければセッションIDをキーに新規作成。
// どちらの書き込みも一時障害リトライ付き。
func (u *WebhookUsecase) upsertOrder(ctx context.Context, sess *reconcile.Session, fields reconcile.CustomerFields, existing *model.Order, user *model.User) (model.Order, error) {
	shippingFee := sess.ShippingAmount
	note := "stripe_checkout_session=" + sess.ID

	if existing != nil {
		o := *existing
		o.Status = model.OrderStatusPaid
		o.TotalAmount = sess.AmountTotal
		o.Subtotal = sess.AmountTotal - shippingFee
		o.ShippingFee = shippingFee
		if sess.Currency != "" {
			o.Currency = sess.Currency
		}
		applyCustomerFields(&o, fields)
		o.StripeSessionID = sess.ID
		o.Notes = appendNote(o.Notes, note)

		err := u.exec.Do(ctx, "order_update", u.cfg.Retries, func(ctx context.Context) error {
			return u.orders.Update(ctx, o)
		})
		if err != nil {
			return model.Order{}, fmt.Errorf("update order %d: %w", o.ID, err)
		}
		return o, nil
	}

	//孤児セッション: 前回の部分失敗で既に作られていないか先に確認
	var prior model.Order
	var found bool
	err := u.exec.Do(ctx, "order_find_by_session", u.cfg.Retries, func(ctx context.Context) error {
		o, ok, err := u.orders.FindByIdempotencyKey(ctx, sess.ID)
		if err != nil {
			return err
		}
		prior, found = o, ok
		return nil
	})
	if err != nil {
		return model.Order{}, fmt.Errorf("find order by session %s: %w", sess.ID, err)
	}
	if found {
		return prior, nil
	}

	o := model.Order{
		Status:          model.OrderStatusPaid,
		TotalAmount:     sess.AmountTotal,
		Subtotal:        sess.AmountTotal - shippingFee,
		ShippingFee:     shippingFee,
		Currency:        sess.Currency,
		StripeSessionID: sess.ID,
		Notes:           note,
		IdempotencyKey:  sess.ID,
	}
	if o.Currency == "" {
		o.Currency = "jpy"
	}
	applyCustomerFields(&o, fields)
	if user != nil {
		o.UserID = &user.ID
	}

	err = u.exec.Do(ctx, "order_create", u.cfg.Retries, func(ctx context.Context) error {
		id, err := u.orders.Create(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id
		return nil
	})
	if errors.Is(err, repo.ErrUniqueViolation) {
		//同時配送と競合した。相手が作った行をそのまま使う
		o2, ok, err2 := u.orders.FindByIdempotencyKey(ctx, sess.ID)
		if err2 != nil || !ok {
			return model.Order{}, fmt.Errorf("refind order for session %s after conflict: %w", sess.ID, err2)
		}
		return o2, nil
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("create order for session %s: %w", sess.ID, err)
	}
	return o, nil
}

func (u *WebhookUsecase) createPayment(ctx context.Context, ev IncomingEvent, sess *reconcile.Session, order model.Order) error {
	p := model.Payment{
		OrderID:        order.ID,
		WebhookEventID: ev.ID,
		Amount:         sess.AmountTotal,
		Currency:       sess.Currency,
		Status:         model.PaymentStatusSucceeded,
	}
	if p.Currency == "" {
		p.Currency = order.Currency
	}

	//決済参照のフォールバック連鎖。解決できなくてもPaymentは作る
	if stripeID := reconcile.ResolvePaymentRef(sess.PaymentRef); stripeID != "" {
		p.StripeID = &stripeID
	}

	var created bool
	err := u.exec.Do(ctx, "payment_create", u.cfg.Retries, func(ctx context.Context) error {
		ok, err := u.payments.CreateIfAbsent(ctx, p)
		if err != nil {
			return err
		}
		created = ok
		return nil
	})
	if err != nil {
		return err
	}
	if !created {
		u.logger.Info("payment already recorded for event", "event_id", ev.ID, "order_id", order.ID)
	}
	return nil
}

// 伝票作成と追跡番号の書き戻し。呼び出し元がエラーをログして捨てる前提。
func (u *WebhookUsecase) createShipment(ctx context.Context, order model.Order) error {
	if u.shipments == nil {
		return nil
	}
	//住所か郵便番号が無ければ送りようがない
	if order.ShippingAddress == "" || order.ShippingPostalCode == "" {
		u.logger.Info("no shipping address on order, skipping shipment", "order_id", order.ID)
		return nil
	}

	out, err := u.shipments.CreateShipment(ctx, ShipmentInput{
		OrderID:          order.ID,
		CourierID:        u.cfg.Delivery.CourierID,
		ServiceCode:      u.cfg.Delivery.ServiceCode,
		OriginPostalCode: u.cfg.Delivery.OriginPostalCode,
		OriginAddress:    u.cfg.Delivery.OriginAddress,
		Destination: ShipmentDestination{
			Name:       order.CustomerName,
			Phone:      order.CustomerPhone,
			PostalCode: order.ShippingPostalCode,
			Prefecture: order.ShippingPrefecture,
			City:       order.ShippingCity,
			Rest:       order.ShippingRest,
		},
		PackageInfo: fmt.Sprintf("order-%d", order.ID),
	})
	if err != nil {
		return err
	}

	if out.TrackingNumber != "" {
		if err := u.orders.SetTracking(ctx, order.ID, out.TrackingNumber, u.cfg.Delivery.ServiceCode); err != nil {
			return fmt.Errorf("set tracking on order %d: %w", order.ID, err)
		}
	}
	return nil
}

func applyCustomerFields(o *model.Order, f reconcile.CustomerFields) {
	o.CustomerEmail = f.Email
	o.CustomerName = f.Name
	o.CustomerPhone = f.Phone
	o.ShippingAddress = f.Address
	o.ShippingPostalCode = f.PostalCode
	o.ShippingPrefecture = f.Prefecture
	o.ShippingCity = f.City
	o.ShippingRest = f.Rest
}

func appendNote(notes string, note string) string {
	if notes == "" {
		return note
	}
	if strings.Contains(notes, note) {
		return notes
	}
	return notes + "\n" + note
}
