package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"app/internal/domain/model"
	"app/internal/reconcile"
	repo "app/internal/repository"
	"app/internal/retry"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// =====================
// Mocks
// =====================

type WhEventRepoMock struct{ mock.Mock }

func (m *WhEventRepoMock) Upsert(ctx context.Context, ev model.WebhookEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *WhEventRepoMock) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *WhEventRepoMock) MarkProcessed(ctx context.Context, ev model.WebhookEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type WhOrderRepoMock struct{ mock.Mock }

func (m *WhOrderRepoMock) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *WhOrderRepoMock) Create(ctx context.Context, order model.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *WhOrderRepoMock) Update(ctx context.Context, order model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *WhOrderRepoMock) FindByIdempotencyKey(ctx context.Context, key string) (model.Order, bool, error) {
	args := m.Called(ctx, key)
	o, _ := args.Get(0).(model.Order)
	return o, args.Bool(1), args.Error(2)
}

func (m *WhOrderRepoMock) SetStripeSession(ctx context.Context, orderID int64, sessionID string, notes string) error {
	panic("not used in WebhookUsecase tests")
}

func (m *WhOrderRepoMock) SetTracking(ctx context.Context, orderID int64, trackingNumber string, shippingMethod string) error {
	args := m.Called(ctx, orderID, trackingNumber, shippingMethod)
	return args.Error(0)
}

type WhPaymentRepoMock struct{ mock.Mock }

func (m *WhPaymentRepoMock) CreateIfAbsent(ctx context.Context, p model.Payment) (bool, error) {
	args := m.Called(ctx, p)
	return args.Bool(0), args.Error(1)
}

func (m *WhPaymentRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.Payment, error) {
	panic("not used in WebhookUsecase tests")
}

type WhUserRepoMock struct{ mock.Mock }

func (m *WhUserRepoMock) FindByID(ctx context.Context, userID int64) (*model.User, error) {
	panic("not used in WebhookUsecase tests")
}

func (m *WhUserRepoMock) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *WhUserRepoMock) SetStripeCustomerID(ctx context.Context, email string, stripeCustomerID string) error {
	args := m.Called(ctx, email, stripeCustomerID)
	return args.Error(0)
}

type WhSessionGatewayMock struct{ mock.Mock }

func (m *WhSessionGatewayMock) RetrieveSession(ctx context.Context, sessionID string) (*reconcile.Session, error) {
	args := m.Called(ctx, sessionID)
	s, _ := args.Get(0).(*reconcile.Session)
	return s, args.Error(1)
}

func (m *WhSessionGatewayMock) CreateCheckoutSession(ctx context.Context, in CreateCheckoutSessionInput) (*reconcile.Session, error) {
	panic("not used in WebhookUsecase tests")
}

type WhCustomerGatewayMock struct{ mock.Mock }

func (m *WhCustomerGatewayMock) RetrieveCustomer(ctx context.Context, customerID string) (*reconcile.Contact, error) {
	args := m.Called(ctx, customerID)
	c, _ := args.Get(0).(*reconcile.Contact)
	return c, args.Error(1)
}

type WhShipmentGatewayMock struct{ mock.Mock }

func (m *WhShipmentGatewayMock) CreateShipment(ctx context.Context, in ShipmentInput) (ShipmentResult, error) {
	args := m.Called(ctx, in)
	r, _ := args.Get(0).(ShipmentResult)
	return r, args.Error(1)
}

// =====================
// Fixtures
// =====================

type whMocks struct {
	events    *WhEventRepoMock
	orders    *WhOrderRepoMock
	payments  *WhPaymentRepoMock
	users     *WhUserRepoMock
	sessions  *WhSessionGatewayMock
	customers *WhCustomerGatewayMock
	shipments *WhShipmentGatewayMock
}

// 伝票作成なしの構成。配送まわりのテストは newWebhookUsecaseWithShipments を使う。
func newWebhookUsecaseForTest(cfg WebhookConfig) (*WebhookUsecase, *whMocks) {
	m := &whMocks{
		events:    new(WhEventRepoMock),
		orders:    new(WhOrderRepoMock),
		payments:  new(WhPaymentRepoMock),
		users:     new(WhUserRepoMock),
		sessions:  new(WhSessionGatewayMock),
		customers: new(WhCustomerGatewayMock),
	}
	uc := NewWebhookUsecase(
		m.events, m.orders, m.payments, m.users,
		m.sessions, m.customers, nil,
		retry.NewExecutor(nil), nil, cfg,
	)
	return uc, m
}

func newWebhookUsecaseWithShipments(cfg WebhookConfig) (*WebhookUsecase, *whMocks) {
	m := &whMocks{
		events:    new(WhEventRepoMock),
		orders:    new(WhOrderRepoMock),
		payments:  new(WhPaymentRepoMock),
		users:     new(WhUserRepoMock),
		sessions:  new(WhSessionGatewayMock),
		customers: new(WhCustomerGatewayMock),
		shipments: new(WhShipmentGatewayMock),
	}
	uc := NewWebhookUsecase(
		m.events, m.orders, m.payments, m.users,
		m.sessions, m.customers, m.shipments,
		retry.NewExecutor(nil), nil, cfg,
	)
	return uc, m
}

func checkoutEvent() IncomingEvent {
	return IncomingEvent{
		ID:        "evt_" + uuid.NewString(),
		Type:      "checkout.session.completed",
		Created:   time.Now(),
		SessionID: "cs_test_1",
		Payload:   []byte(`{"id":"cs_test_1"}`),
	}
}

func paidSession() *reconcile.Session {
	return &reconcile.Session{
		ID:             "cs_test_1",
		AmountTotal:    5500,
		Currency:       "jpy",
		PaymentStatus:  "paid",
		ShippingAmount: 500,
		PaymentRef:     json.RawMessage(`"pi_123"`),
		Customer: reconcile.Contact{
			Name:  "山田太郎",
			Email: "taro@example.com",
			Phone: "090-1111-2222",
			Address: reconcile.Address{
				PostalCode: "123-4567",
				State:      "東京都",
				City:       "渋谷区",
				Line1:      "1-2-3",
			},
		},
	}
}

// =====================
// 冪等性
// =====================

// 処理済みイベントの再配送は台帳チェックだけで終わる。
func TestWebhookUsecase_AlreadyProcessedSkips(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(true, nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.sessions.AssertNotCalled(t, "RetrieveSession", mock.Anything, mock.Anything)
	m.payments.AssertNotCalled(t, "CreateIfAbsent", mock.Anything, mock.Anything)
	m.events.AssertExpectations(t)
}

// 台帳upsertの一意制約競合は良性の重複として吸収される。
func TestWebhookUsecase_ConcurrentUpsertConflictAbsorbed(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(repo.ErrUniqueViolation)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(true, nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.events.AssertExpectations(t)
}

// 同じPaymentが既にあってもエラーにせず台帳を閉じる。
// 何回配送されてもPaymentは1行のまま。
func TestWebhookUsecase_DuplicatePaymentNotRecreated(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()
	sess := paidSession()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)
	m.users.On("FindByEmail", mock.Anything, "taro@example.com").Return(nil, nil)

	//前回の部分失敗で注文までは作られている
	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).
		Return(model.Order{ID: 42, Status: model.OrderStatusPaid, IdempotencyKey: sess.ID}, true, nil)

	//webhook_event_idの一意制約に当たって作成されない
	m.payments.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(false, nil)

	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	m.payments.AssertExpectations(t)
	m.events.AssertExpectations(t)
}

// =====================
// イベント種別と鮮度
// =====================

func TestWebhookUsecase_NonCheckoutEventClosedImmediately(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := IncomingEvent{ID: "evt_other", Type: "payment_intent.created", Created: time.Now()}

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.MatchedBy(func(e model.WebhookEvent) bool {
		return e.ID == "evt_other"
	})).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.sessions.AssertNotCalled(t, "RetrieveSession", mock.Anything, mock.Anything)
	m.events.AssertExpectations(t)
}

// 上限より古いイベントは突き合わせせずに台帳だけ閉じる。
func TestWebhookUsecase_StaleEventClosed(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{MaxEventAge: time.Hour})

	ev := checkoutEvent()
	ev.Created = time.Now().Add(-2 * time.Hour)

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.sessions.AssertNotCalled(t, "RetrieveSession", mock.Anything, mock.Anything)
	m.events.AssertExpectations(t)
}

// =====================
// セッション取得
// =====================

// プロバイダ側にセッションが無いのは終端条件。
// Order/Paymentは作らず、以後の再配送もスキップされるよう台帳を閉じる。
func TestWebhookUsecase_SessionMissingUpstream(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(nil, ErrSessionNotFound)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	m.payments.AssertNotCalled(t, "CreateIfAbsent", mock.Anything, mock.Anything)
	m.events.AssertExpectations(t)
}

// 一時障害はエラーのまま返して再配送に任せる。台帳は未処理のまま。
func TestWebhookUsecase_SessionRetrievalFailurePropagates(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(nil, errors.New("api down"))

	err := uc.HandleEvent(ctx, ev)
	assert.Error(t, err)

	m.events.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

// =====================
// 注文の突き合わせ
// =====================

// metadataのorder_idを持つセッションは事前作成済みの注文をPAIDへ更新する。
func TestWebhookUsecase_PreCreatedOrderMarkedPaid(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	sess := paidSession()
	sess.Metadata = map[string]string{"order_id": "7"}

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)

	userID := int64(3)
	m.orders.On("FindByID", mock.Anything, int64(7)).Return(model.Order{
		ID:             7,
		UserID:         &userID,
		Status:         model.OrderStatusPending,
		TotalAmount:    5500,
		Subtotal:       5500,
		Currency:       "jpy",
		CustomerEmail:  "taro@example.com",
		IdempotencyKey: "client-key-1",
	}, nil)

	m.orders.On("Update", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.ID == 7 &&
			o.Status == model.OrderStatusPaid &&
			o.TotalAmount == 5500 &&
			o.Subtotal == 5000 &&
			o.ShippingFee == 500 &&
			o.StripeSessionID == sess.ID &&
			o.IdempotencyKey == "client-key-1"
	})).Return(nil)

	m.payments.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(p model.Payment) bool {
		return p.OrderID == 7 &&
			p.WebhookEventID == ev.ID &&
			p.Amount == 5500 &&
			p.Status == model.PaymentStatusSucceeded &&
			p.StripeID != nil && *p.StripeID == "pi_123"
	})).Return(true, nil)

	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	m.orders.AssertExpectations(t)
	m.payments.AssertExpectations(t)
	m.events.AssertExpectations(t)
}

// metadataのorder_idが指す注文が消えていたら孤児セッションに落とす。
// セッションIDをキーに新規作成されるので決済が迷子にならない。
func TestWebhookUsecase_MetadataOrderGoneFallsBackToOrphan(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	sess := paidSession()
	sess.Metadata = map[string]string{"order_id": "7"}

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)

	m.orders.On("FindByID", mock.Anything, int64(7)).Return(model.Order{}, repo.ErrNotFound)

	m.users.On("FindByEmail", mock.Anything, "taro@example.com").Return(nil, nil)
	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).Return(model.Order{}, false, nil)
	m.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.Status == model.OrderStatusPaid && o.IdempotencyKey == sess.ID
	})).Return(int64(42), nil)

	m.payments.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(p model.Payment) bool {
		return p.OrderID == 42
	})).Return(true, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	m.orders.AssertExpectations(t)
	m.events.AssertExpectations(t)
}

// 数値にならないorder_idは警告して無視し、孤児セッションとして処理する。
func TestWebhookUsecase_MalformedMetadataOrderIDIgnored(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	sess := paidSession()
	sess.Metadata = map[string]string{"order_id": "not-a-number"}

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)

	m.users.On("FindByEmail", mock.Anything, "taro@example.com").Return(nil, nil)
	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).Return(model.Order{}, false, nil)
	m.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.IdempotencyKey == sess.ID
	})).Return(int64(42), nil)

	m.payments.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	m.orders.AssertExpectations(t)
}

// metadataを持たない孤児セッションはセッションIDをキーに注文を新規作成する。
func TestWebhookUsecase_OrphanSessionCreatesOrder(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()
	sess := paidSession()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)
	m.users.On("FindByEmail", mock.Anything, "taro@example.com").Return(nil, nil)

	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).Return(model.Order{}, false, nil)
	m.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.Status == model.OrderStatusPaid &&
			o.TotalAmount == 5500 &&
			o.Subtotal == 5000 &&
			o.ShippingFee == 500 &&
			o.Currency == "jpy" &&
			o.CustomerEmail == "taro@example.com" &&
			o.CustomerName == "山田太郎" &&
			o.ShippingAddress == "123-4567 東京都 渋谷区 1-2-3" &&
			o.IdempotencyKey == sess.ID &&
			o.StripeSessionID == sess.ID
	})).Return(int64(42), nil)

	m.payments.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(p model.Payment) bool {
		return p.OrderID == 42 && p.WebhookEventID == ev.ID
	})).Return(true, nil)

	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertExpectations(t)
	m.payments.AssertExpectations(t)
	m.events.AssertExpectations(t)
}

// email一致の既存ユーザーがいれば孤児注文に紐づける。
func TestWebhookUsecase_OrphanOrderLinkedToUser(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()
	sess := paidSession()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)
	m.users.On("FindByEmail", mock.Anything, "taro@example.com").
		Return(&model.User{ID: 9, Email: "taro@example.com", IsActive: true}, nil)

	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).Return(model.Order{}, false, nil)
	m.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.UserID != nil && *o.UserID == 9
	})).Return(int64(42), nil)

	m.payments.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertExpectations(t)
}

// 同時配送と作成が競合したら相手の行を引き直して使う。
func TestWebhookUsecase_OrderCreateConflictRefinds(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()
	sess := paidSession()

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)
	m.users.On("FindByEmail", mock.Anything, "taro@example.com").Return(nil, nil)

	//1回目の検索では見えず、作成が一意制約に当たり、引き直すと相手の行が見える
	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).
		Return(model.Order{}, false, nil).Once()
	m.orders.On("Create", mock.Anything, mock.Anything).
		Return(int64(0), repo.ErrUniqueViolation)
	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).
		Return(model.Order{ID: 42, IdempotencyKey: sess.ID}, true, nil).Once()

	m.payments.On("CreateIfAbsent", mock.Anything, mock.MatchedBy(func(p model.Payment) bool {
		return p.OrderID == 42
	})).Return(true, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertExpectations(t)
	m.payments.AssertExpectations(t)
}

// =====================
// 顧客情報の補完
// =====================

// セッションの購入者情報が欠けていたら顧客IDから取得して埋める。
// 併せてプロバイダ側の顧客IDをユーザーに埋め戻す。
func TestWebhookUsecase_CustomerLookupFillsMissingFields(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	sess := paidSession()
	sess.CustomerID = "cus_123"
	sess.Customer.Email = ""
	sess.Customer.Phone = ""

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)

	m.customers.On("RetrieveCustomer", mock.Anything, "cus_123").Return(&reconcile.Contact{
		Email: "from-customer@example.com",
		Phone: "03-0000-0000",
	}, nil)

	m.users.On("FindByEmail", mock.Anything, "from-customer@example.com").Return(nil, nil)
	m.users.On("SetStripeCustomerID", mock.Anything, "from-customer@example.com", "cus_123").Return(nil)

	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).Return(model.Order{}, false, nil)
	m.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.CustomerEmail == "from-customer@example.com" &&
			o.CustomerPhone == "03-0000-0000" &&
			o.CustomerName == "山田太郎"
	})).Return(int64(42), nil)

	m.payments.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.customers.AssertExpectations(t)
	m.users.AssertExpectations(t)
	m.orders.AssertExpectations(t)
}

// 顧客取得の失敗は補完を諦めるだけでパイプラインは止めない。
func TestWebhookUsecase_CustomerLookupFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseForTest(WebhookConfig{})
	ev := checkoutEvent()

	sess := paidSession()
	sess.CustomerID = "cus_123"
	sess.Customer.Phone = ""

	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)
	m.customers.On("RetrieveCustomer", mock.Anything, "cus_123").Return(nil, errors.New("api down"))
	m.users.On("FindByEmail", mock.Anything, "taro@example.com").Return(nil, nil)
	m.users.On("SetStripeCustomerID", mock.Anything, "taro@example.com", "cus_123").Return(nil)

	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).Return(model.Order{}, false, nil)
	m.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.CustomerEmail == "taro@example.com" && o.CustomerPhone == ""
	})).Return(int64(42), nil)

	m.payments.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertExpectations(t)
}

// =====================
// 配送伝票
// =====================

func shippableSetup(t *testing.T, m *whMocks, ev IncomingEvent, sess *reconcile.Session) {
	t.Helper()
	m.events.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	m.events.On("IsProcessed", mock.Anything, ev.ID).Return(false, nil)
	m.sessions.On("RetrieveSession", mock.Anything, ev.SessionID).Return(sess, nil)
	m.users.On("FindByEmail", mock.Anything, "taro@example.com").Return(nil, nil)
	m.orders.On("FindByIdempotencyKey", mock.Anything, sess.ID).Return(model.Order{}, false, nil)
	m.orders.On("Create", mock.Anything, mock.Anything).Return(int64(42), nil)
	m.payments.On("CreateIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	m.events.On("MarkProcessed", mock.Anything, mock.Anything).Return(nil)
}

func TestWebhookUsecase_ShipmentCreatedAndTrackingStored(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseWithShipments(WebhookConfig{
		Delivery: DeliveryConfig{CourierID: "yamato", ServiceCode: "takkyubin"},
	})
	ev := checkoutEvent()
	sess := paidSession()
	shippableSetup(t, m, ev, sess)

	m.shipments.On("CreateShipment", mock.Anything, mock.MatchedBy(func(in ShipmentInput) bool {
		return in.OrderID == 42 &&
			in.CourierID == "yamato" &&
			in.Destination.PostalCode == "123-4567" &&
			in.Destination.Name == "山田太郎"
	})).Return(ShipmentResult{DeliveryID: "dlv_1", TrackingNumber: "TRK-0001"}, nil)

	m.orders.On("SetTracking", mock.Anything, int64(42), "TRK-0001", "takkyubin").Return(nil)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.shipments.AssertExpectations(t)
	m.orders.AssertExpectations(t)
}

// 伝票作成の失敗は決済確定を巻き戻さない。台帳は閉じる。
func TestWebhookUsecase_ShipmentFailureDoesNotFailPipeline(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseWithShipments(WebhookConfig{})
	ev := checkoutEvent()
	sess := paidSession()
	shippableSetup(t, m, ev, sess)

	m.shipments.On("CreateShipment", mock.Anything, mock.Anything).
		Return(ShipmentResult{}, errors.New("courier api down"))

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.orders.AssertNotCalled(t, "SetTracking", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.events.AssertExpectations(t)
}

// 住所の無い注文は伝票を作らない。
func TestWebhookUsecase_NoShipmentWithoutAddress(t *testing.T) {
	ctx := context.Background()
	uc, m := newWebhookUsecaseWithShipments(WebhookConfig{})
	ev := checkoutEvent()

	sess := paidSession()
	sess.Customer.Address = reconcile.Address{}

	shippableSetup(t, m, ev, sess)

	err := uc.HandleEvent(ctx, ev)
	assert.NoError(t, err)

	m.shipments.AssertNotCalled(t, "CreateShipment", mock.Anything, mock.Anything)
}
