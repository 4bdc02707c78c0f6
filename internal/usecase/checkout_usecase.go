package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"app/internal/domain/model"
	"app/internal/reconcile"
	repo "app/internal/repository"
)

// checkoutセッション作成。PENDINGの注文を先に作り、
// metadataのorder_id経由でwebhook側（reconciler）へ引き継ぐ。
type CheckoutUsecase struct {
	tx       repo.TransactionManager
	orders   repo.OrderRepository
	users    repo.UserRepository
	sessions SessionGateway
	logger   *slog.Logger

	successURL string
	cancelURL  string
	currency   string
}

func NewCheckoutUsecase(
	tx repo.TransactionManager,
	orders repo.OrderRepository,
	users repo.UserRepository,
	sessions SessionGateway,
	logger *slog.Logger,
	successURL string,
	cancelURL string,
	currency string,
) *CheckoutUsecase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutUsecase{
		tx:         tx,
		orders:     orders,
		users:      users,
		sessions:   sessions,
		logger:     logger,
		successURL: successURL,
		cancelURL:  cancelURL,
		currency:   currency,
	}
}

type CheckoutItemInput struct {
	ProductID int64
	Quantity  int64
}

type CheckoutInput struct {
	Items          []CheckoutItemInput
	IdempotencyKey string

	//配送先
	Name       string
	Phone      string
	PostalCode string
	Prefecture string
	City       string
	Line1      string
	Line2      string
}

type CheckoutOutput struct {
	OrderID     int64  `json:"order_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

func (u *CheckoutUsecase) CreateSession(ctx context.Context, userID int64, in CheckoutInput) (CheckoutOutput, error) {
	if userID <= 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}
	if len(in.Items) == 0 {
		return CheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "no items")
	}

	user, err := u.users.FindByID(ctx, userID)
	if err != nil {
		return CheckoutOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if user == nil || !user.IsActive {
		return CheckoutOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	addr := reconcile.Address{
		PostalCode: in.PostalCode,
		State:      in.Prefecture,
		City:       in.City,
		Line1:      in.Line1,
		Line2:      in.Line2,
	}

	var order model.Order
	var lineItems []CheckoutLineItem

	//注文作成はトランザクション
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ注文
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, key)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if found {
			order = existing
			return nil
		}

		orderItems := make([]model.OrderItem, 0, len(in.Items))
		var total int64 = 0

		for _, it := range in.Items {
			if it.Quantity <= 0 {
				return NewHTTPError(http.StatusBadRequest, "invalid quantity")
			}

			//商品取得
			p, err := r.Products().FindByID(ctx, it.ProductID)
			if errors.Is(err, repo.ErrNotFound) {
				return NewHTTPError(http.StatusBadRequest, "invalid product")
			}
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !p.IsActive {
				return NewHTTPError(http.StatusBadRequest, "invalid product")
			}

			//在庫減算（足りないなら false）
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !ok {
				return NewHTTPError(http.StatusBadRequest, "out of stock")
			}

			//スナップショット
			now := time.Now()
			orderItems = append(orderItems, model.OrderItem{
				ProductID:           it.ProductID,
				ProductNameSnapshot: p.Name,
				UnitPriceSnapshot:   p.Price,
				Quantity:            it.Quantity,
				CreatedAt:           now,
			})
			lineItems = append(lineItems, CheckoutLineItem{
				Name:       p.Name,
				UnitAmount: p.Price,
				Quantity:   it.Quantity,
			})

			total += p.Price * it.Quantity
		}

		// 注文作成
		o := model.Order{
			UserID:             &userID,
			Status:             model.OrderStatusPending,
			TotalAmount:        total,
			Subtotal:           total,
			Currency:           u.currency,
			CustomerEmail:      user.Email,
			CustomerName:       in.Name,
			CustomerPhone:      in.Phone,
			ShippingAddress:    reconcile.JoinAddress(addr),
			ShippingPostalCode: in.PostalCode,
			ShippingPrefecture: in.Prefecture,
			ShippingCity:       in.City,
			ShippingRest:       strings.TrimSpace(in.Line1 + " " + in.Line2),
			IdempotencyKey:     key,
		}
		orderID, err := r.Orders().Create(ctx, o)
		if err != nil {
			//競合（同時で同じキーが入った等）はもう一回検索して同じ結果を返す
			if errors.Is(err, repo.ErrUniqueViolation) {
				ex2, found2, err2 := r.Orders().FindByIdempotencyKey(ctx, key)
				if err2 == nil && found2 {
					order = ex2
					return nil
				}
			}
			return NewHTTPError(http.StatusConflict, "idempotency conflict")
		}

		//注文明細一括作成
		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}

		o.ID = orderID
		order = o
		return nil
	})
	if err != nil {
		return CheckoutOutput{}, err
	}

	//既にセッションを持っている注文はURLを取り直して同じ結果を返す
	if order.StripeSessionID != "" {
		sess, err := u.sessions.RetrieveSession(ctx, order.StripeSessionID)
		if err != nil {
			u.logger.Warn("existing checkout session lookup failed",
				"order_id", order.ID, "session_id", order.StripeSessionID, "error", err.Error())
			return CheckoutOutput{}, NewHTTPError(http.StatusBadGateway, "payment provider error")
		}
		return CheckoutOutput{OrderID: order.ID, SessionID: sess.ID, CheckoutURL: sess.URL}, nil
	}

	//既存注文の再利用時は明細スナップショットを持っていないので合計1行に畳む
	if len(lineItems) == 0 {
		lineItems = append(lineItems, CheckoutLineItem{
			Name:       "order",
			UnitAmount: order.TotalAmount,
			Quantity:   1,
		})
	}

	sess, err := u.sessions.CreateCheckoutSession(ctx, CreateCheckoutSessionInput{
		OrderID:       order.ID,
		CustomerEmail: user.Email,
		Currency:      u.currency,
		SuccessURL:    u.successURL,
		CancelURL:     u.cancelURL,
		Items:         lineItems,
	})
	if err != nil {
		u.logger.Error("checkout session creation failed", "order_id", order.ID, "error", err.Error())
		return CheckoutOutput{}, NewHTTPError(http.StatusBadGateway, "payment provider error")
	}

	//逆参照を書き戻す（orphan防止のトレーサビリティ）
	note := appendNote(order.Notes, "stripe_checkout_session="+sess.ID)
	if err := u.orders.SetStripeSession(ctx, order.ID, sess.ID, note); err != nil {
		//セッション自体は作れているのでwebhook側のmetadataで回収できる
		u.logger.Warn("stripe session back-reference write failed",
			"order_id", order.ID, "session_id", sess.ID, "error", err.Error())
	}

	return CheckoutOutput{OrderID: order.ID, SessionID: sess.ID, CheckoutURL: sess.URL}, nil
}
