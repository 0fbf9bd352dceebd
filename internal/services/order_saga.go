package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/payments"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

const (
	defaultOrderCurrency   = "JPY"
	defaultWebhookProvider = "stripe"

	redirectCodeSuccess = "success"

	eventOrderPlaced      = "orders.placed"
	eventOrderTransition  = "orders.transition"
	eventOrderRedirect    = "orders.redirect_return"
	eventOrderWebhook     = "orders.webhook"
	eventOrderCompensate  = "orders.compensate"
	eventOrderNotifyError = "orders.notify_failed"

	metricOrdersCreated       = "orders.created"
	metricOrdersStockConflict = "orders.stock_conflicts"

	notificationOrderCreated = "order.created"
	notificationOrderStatus  = "order.status_changed"
)

// Outcomes reported for gateway callbacks.
const (
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeDeleted          = "deleted"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeOrderCreated     = "order_created"
	OutcomeSessionDiscarded = "session_discarded"
	OutcomeIgnored          = "ignored"
)

// OrderSagaDeps bundles the collaborators required to construct the order saga.
type OrderSagaDeps struct {
	UnitOfWork repositories.UnitOfWork
	Pricing    PricingEngine
	Inventory  InventoryLedger
	Promotions PromotionLedger
	Checkout   CheckoutGateway
	Redirect   RedirectGateway
	Notifier   Notifier
	Meter      metric.Meter
	// Currency is passed to the hosted checkout when the command leaves it blank.
	Currency        string
	WebhookProvider string
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderSaga struct {
	uow        repositories.UnitOfWork
	pricing    PricingEngine
	inventory  InventoryLedger
	promotions PromotionLedger
	checkout   CheckoutGateway
	redirect   RedirectGateway
	notifier   Notifier
	counters   *counters
	currency   string
	provider   string
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderSaga wires dependencies into a concrete OrderSaga implementation. The checkout and
// redirect gateways are optional; the matching payment methods are rejected when absent.
func NewOrderSaga(deps OrderSagaDeps) (OrderSaga, error) {
	if deps.UnitOfWork == nil {
		return nil, errors.New("order saga: unit of work is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order saga: pricing engine is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order saga: inventory ledger is required")
	}
	if deps.Promotions == nil {
		return nil, errors.New("order saga: promotion ledger is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultOrderCurrency
	}
	provider := strings.ToLower(strings.TrimSpace(deps.WebhookProvider))
	if provider == "" {
		provider = defaultWebhookProvider
	}

	return &orderSaga{
		uow:        deps.UnitOfWork,
		pricing:    deps.Pricing,
		inventory:  deps.Inventory,
		promotions: deps.Promotions,
		checkout:   deps.Checkout,
		redirect:   deps.Redirect,
		notifier:   deps.Notifier,
		counters: newCounters(deps.Meter, map[string]string{
			metricOrdersCreated:       "Orders committed, by payment method",
			metricOrdersStockConflict: "Order placements rejected for insufficient stock",
		}),
		currency: currency,
		provider: provider,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderSaga) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	var invalid ValidationError
	if strings.TrimSpace(cmd.Actor.ID) == "" {
		invalid.Add("actor", "authenticated user is required")
	}
	if !cmd.PaymentMethod.Valid() {
		invalid.Add("paymentMethod", fmt.Sprintf("unsupported payment method %q", cmd.PaymentMethod))
	}
	if len(cmd.Items) == 0 {
		invalid.Add("items", "at least one item is required")
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodGatewayRedirect:
		if s.redirect == nil {
			invalid.Add("paymentMethod", "redirect gateway is not configured")
		}
		if strings.TrimSpace(cmd.ReturnURL) == "" {
			invalid.Add("returnUrl", "is required for redirect payments")
		}
	case domain.PaymentMethodGatewayWebhook:
		if s.checkout == nil {
			invalid.Add("paymentMethod", "checkout gateway is not configured")
		}
		if strings.TrimSpace(cmd.ReturnURL) == "" {
			invalid.Add("returnUrl", "is required for hosted checkout")
		}
	}
	if err := invalid.Err(); err != nil {
		return PlaceOrderResult{}, err
	}

	var (
		result PlaceOrderResult
		err    error
	)
	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD:
		result, err = s.placeCashOnDelivery(ctx, cmd)
	case domain.PaymentMethodGatewayRedirect:
		result, err = s.placeRedirect(ctx, cmd)
	case domain.PaymentMethodGatewayWebhook:
		result, err = s.placeWebhook(ctx, cmd)
	}
	if errors.Is(err, ErrInsufficientStock) {
		s.counters.add(ctx, metricOrdersStockConflict, attribute.String("paymentMethod", string(cmd.PaymentMethod)))
	}
	if err != nil {
		return PlaceOrderResult{}, translateError("orders.place", err)
	}
	return result, nil
}

func (s *orderSaga) placeCashOnDelivery(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	now := s.clock()
	orderID := s.nextOrderID()

	var order domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		priced, err := s.pricing.Price(ctx, tx, cmd.Items, now)
		if err != nil {
			return err
		}
		order = s.newOrder(orderID, cmd, priced, now)
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		items := order.CartItems()
		if err := s.inventory.Reserve(ctx, tx, items); err != nil {
			return err
		}
		if err := s.promotions.RecordUsage(ctx, tx, items, now); err != nil {
			return err
		}
		order.InventoryReserved = true
		order.PromotionsRecorded = true
		return tx.PutOrder(ctx, order)
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	s.orderCommitted(ctx, order)
	return PlaceOrderResult{Order: &order}, nil
}

func (s *orderSaga) placeRedirect(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	now := s.clock()
	orderID := s.nextOrderID()

	var order domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		priced, err := s.pricing.Price(ctx, tx, cmd.Items, now)
		if err != nil {
			return err
		}
		order = s.newOrder(orderID, cmd, priced, now)
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	redirectURL, err := s.redirect.BuildRedirectURL(ctx, order.ID, order.TotalAmount, cmd.ReturnURL)
	if err != nil {
		s.discardOrder(ctx, order.ID, err)
		return PlaceOrderResult{}, fmt.Errorf("%w: build redirect url: %v", ErrInternal, err)
	}

	s.logger(ctx, eventOrderPlaced, map[string]any{
		"orderId":       order.ID,
		"userId":        order.UserID,
		"paymentMethod": string(order.PaymentMethod),
		"totalAmount":   order.TotalAmount,
	})
	return PlaceOrderResult{Order: &order, RedirectURL: redirectURL}, nil
}

func (s *orderSaga) placeWebhook(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error) {
	now := s.clock()
	sessionID := s.nextSessionID()

	var session domain.PendingOrderSession
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		priced, err := s.pricing.Price(ctx, tx, cmd.Items, now)
		if err != nil {
			return err
		}
		session = domain.PendingOrderSession{
			ID:              sessionID,
			UserID:          strings.TrimSpace(cmd.Actor.ID),
			Lines:           priced.Lines,
			PaymentMethod:   domain.PaymentMethodGatewayWebhook,
			TotalAmount:     priced.TotalAmount,
			DiscountTotal:   priced.DiscountTotal,
			ShippingAddress: cmd.ShippingAddress,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.CreatePendingSession(ctx, session)
	})
	if err != nil {
		return PlaceOrderResult{}, err
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	checkout, err := s.checkout.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: s.provider,
		Currency:          currency,
	}, payments.CheckoutSessionRequest{
		Amount:         session.TotalAmount,
		Currency:       currency,
		CustomerID:     session.UserID,
		SuccessURL:     cmd.ReturnURL,
		CancelURL:      firstNonEmpty(cmd.CancelURL, cmd.ReturnURL),
		Metadata:       map[string]string{payments.MetadataPendingSession: session.ID},
		IdempotencyKey: firstNonEmpty(cmd.IdempotencyKey, session.ID),
		Items:          checkoutItems(session.Lines, currency),
	})
	if err != nil {
		s.discardSession(ctx, session.ID, err)
		return PlaceOrderResult{}, fmt.Errorf("%w: create checkout session: %v", ErrInternal, err)
	}

	session.CheckoutSessionID = checkout.ID
	session.CheckoutURL = checkout.RedirectURL
	session.ExpiresAt = checkout.ExpiresAt
	session.UpdatedAt = s.clock()
	err = s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if _, err := tx.GetPendingSession(ctx, session.ID); err != nil {
			return err
		}
		return tx.PutPendingSession(ctx, session)
	})
	if err != nil && !isNotFound(err) {
		// The webhook may already have consumed the session; the handle is still returned.
		s.logger(ctx, eventOrderPlaced, map[string]any{"sessionId": session.ID, "error": err.Error()})
	}

	s.logger(ctx, eventOrderPlaced, map[string]any{
		"sessionId":         session.ID,
		"checkoutSessionId": checkout.ID,
		"userId":            session.UserID,
		"paymentMethod":     string(session.PaymentMethod),
		"totalAmount":       session.TotalAmount,
	})
	return PlaceOrderResult{Session: &session, RedirectURL: checkout.RedirectURL}, nil
}

func (s *orderSaga) HandleRedirectReturn(ctx context.Context, cmd RedirectReturnCommand) (RedirectReturnResult, error) {
	if s.redirect == nil {
		return RedirectReturnResult{}, validationFailure("paymentMethod", "redirect gateway is not configured")
	}
	ret, err := s.redirect.VerifyReturn(ctx, cmd.Params)
	if err != nil {
		s.logger(ctx, eventOrderRedirect, map[string]any{"error": err.Error()})
		return RedirectReturnResult{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
	}

	if ret.Code == redirectCodeSuccess {
		return s.confirmRedirect(ctx, ret)
	}
	return s.abandonRedirect(ctx, ret)
}

func (s *orderSaga) confirmRedirect(ctx context.Context, ret payments.RedirectReturn) (RedirectReturnResult, error) {
	result := RedirectReturnResult{OrderID: ret.OrderID}
	var order domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		result.Outcome = ""
		current, err := tx.GetOrder(ctx, ret.OrderID)
		if err != nil {
			return lookupError("order", ret.OrderID, err)
		}
		if current.PaymentMethod != domain.PaymentMethodGatewayRedirect {
			return fmt.Errorf("%w: order %s is not a redirect payment", ErrPaymentVerificationFailed, current.ID)
		}
		if current.TotalAmount != ret.Amount {
			return fmt.Errorf("%w: amount mismatch for order %s", ErrPaymentVerificationFailed, current.ID)
		}
		if current.InventoryReserved {
			order = current
			result.Outcome = OutcomeAlreadyConfirmed
			return nil
		}
		if current.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, current.ID, current.Status)
		}

		items := current.CartItems()
		if err := s.inventory.Reserve(ctx, tx, items); err != nil {
			return err
		}
		if !current.PromotionsRecorded {
			if err := s.promotions.RecordUsage(ctx, tx, items, current.CreatedAt); err != nil {
				return err
			}
		}
		current.InventoryReserved = true
		current.PromotionsRecorded = true
		if ret.TransactionRef != "" {
			current.PaymentRef = ret.TransactionRef
		}
		current.UpdatedAt = s.clock()
		order = current
		result.Outcome = OutcomeConfirmed
		return tx.PutOrder(ctx, current)
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.counters.add(ctx, metricOrdersStockConflict, attribute.String("paymentMethod", string(domain.PaymentMethodGatewayRedirect)))
		}
		return RedirectReturnResult{}, translateError("orders.redirect_return", err)
	}

	s.logger(ctx, eventOrderRedirect, map[string]any{"orderId": order.ID, "outcome": result.Outcome})
	if result.Outcome == OutcomeConfirmed {
		s.orderCommitted(ctx, order)
	}
	result.Order = &order
	return result, nil
}

func (s *orderSaga) abandonRedirect(ctx context.Context, ret payments.RedirectReturn) (RedirectReturnResult, error) {
	result := RedirectReturnResult{OrderID: ret.OrderID, Outcome: OutcomeDeleted}
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetOrder(ctx, ret.OrderID)
		if err != nil {
			if isNotFound(err) {
				result.Outcome = OutcomeAlreadyProcessed
				return nil
			}
			return err
		}
		if current.PaymentMethod != domain.PaymentMethodGatewayRedirect {
			return fmt.Errorf("%w: order %s is not a redirect payment", ErrPaymentVerificationFailed, current.ID)
		}
		// A confirmed order holds stock; it leaves only through cancellation.
		if current.InventoryReserved {
			return fmt.Errorf("%w: order %s is already confirmed", ErrInvalidTransition, current.ID)
		}
		if current.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, current.ID, current.Status)
		}
		return tx.DeleteOrder(ctx, current.ID)
	})
	if err != nil {
		return RedirectReturnResult{}, translateError("orders.redirect_return", err)
	}
	s.logger(ctx, eventOrderRedirect, map[string]any{"orderId": ret.OrderID, "code": ret.Code, "outcome": result.Outcome})
	return result, nil
}

func (s *orderSaga) HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error) {
	if s.checkout == nil {
		return WebhookResult{}, validationFailure("provider", "checkout gateway is not configured")
	}
	providerKey := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if providerKey == "" {
		providerKey = s.provider
	}
	event, err := s.checkout.ParseWebhook(ctx, providerKey, cmd.Payload, cmd.Signature)
	if err != nil {
		s.logger(ctx, eventOrderWebhook, map[string]any{"provider": providerKey, "error": err.Error()})
		switch {
		case errors.Is(err, payments.ErrUnsupportedProvider):
			return WebhookResult{}, validationFailure("provider", fmt.Sprintf("unsupported provider %q", providerKey))
		case errors.Is(err, payments.ErrInvalidSignature):
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentVerificationFailed, err)
		default:
			return WebhookResult{}, fmt.Errorf("%w: parse webhook: %v", ErrPaymentVerificationFailed, err)
		}
	}

	result := WebhookResult{EventID: event.ID, SessionID: event.PendingSessionID}
	switch event.Type {
	case payments.EventCompleted:
		order, outcome, err := s.completeSession(ctx, event)
		if err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				s.counters.add(ctx, metricOrdersStockConflict, attribute.String("paymentMethod", string(domain.PaymentMethodGatewayWebhook)))
			}
			return WebhookResult{}, translateError("orders.webhook", err)
		}
		result.Outcome = outcome
		if outcome == OutcomeOrderCreated {
			result.OrderID = order.ID
			s.orderCommitted(ctx, order)
		}
	case payments.EventExpired, payments.EventFailed:
		outcome, err := s.discardSessionForEvent(ctx, event.PendingSessionID)
		if err != nil {
			return WebhookResult{}, translateError("orders.webhook", err)
		}
		result.Outcome = outcome
	default:
		result.Outcome = OutcomeIgnored
	}

	s.logger(ctx, eventOrderWebhook, map[string]any{
		"eventId":   event.ID,
		"eventType": event.RawType,
		"sessionId": event.PendingSessionID,
		"outcome":   result.Outcome,
	})
	return result, nil
}

// completeSession promotes the pending session to an order. The locked lines are reserved as
// priced at checkout; Reserve re-validates stock at execution time.
func (s *orderSaga) completeSession(ctx context.Context, event payments.WebhookEvent) (domain.Order, string, error) {
	sessionID := strings.TrimSpace(event.PendingSessionID)
	if sessionID == "" {
		return domain.Order{}, OutcomeIgnored, nil
	}

	var (
		order   domain.Order
		outcome string
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		outcome = ""
		session, err := tx.GetPendingSession(ctx, sessionID)
		if err != nil {
			if isNotFound(err) {
				outcome = OutcomeAlreadyProcessed
				return nil
			}
			return err
		}
		if event.Amount > 0 && event.Amount != session.TotalAmount {
			return fmt.Errorf("%w: amount mismatch for session %s", ErrPaymentVerificationFailed, session.ID)
		}

		now := s.clock()
		order = domain.Order{
			ID:              session.ID,
			UserID:          session.UserID,
			Lines:           append([]domain.OrderLine(nil), session.Lines...),
			PaymentMethod:   domain.PaymentMethodGatewayWebhook,
			Status:          domain.OrderStatusPending,
			StatusHistory:   []domain.StatusChange{{To: string(domain.OrderStatusPending), ActorID: session.UserID, ActorRole: domain.RoleUser, At: now}},
			TotalAmount:     session.TotalAmount,
			DiscountTotal:   session.DiscountTotal,
			PaymentRef:      event.PaymentRef,
			ShippingAddress: session.ShippingAddress,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			if isConflict(err) {
				outcome = OutcomeAlreadyProcessed
				return nil
			}
			return err
		}
		items := order.CartItems()
		if err := s.inventory.Reserve(ctx, tx, items); err != nil {
			return err
		}
		if err := s.promotions.RecordUsage(ctx, tx, items, session.CreatedAt); err != nil {
			return err
		}
		order.InventoryReserved = true
		order.PromotionsRecorded = true
		if err := tx.PutOrder(ctx, order); err != nil {
			return err
		}
		outcome = OutcomeOrderCreated
		return tx.DeletePendingSession(ctx, session.ID)
	})
	if err != nil {
		return domain.Order{}, "", err
	}
	return order, outcome, nil
}

func (s *orderSaga) discardSessionForEvent(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return OutcomeIgnored, nil
	}
	outcome := OutcomeSessionDiscarded
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		outcome = OutcomeSessionDiscarded
		if err := tx.DeletePendingSession(ctx, sessionID); err != nil {
			if isNotFound(err) {
				outcome = OutcomeAlreadyProcessed
				return nil
			}
			return err
		}
		return nil
	})
	return outcome, err
}

func (s *orderSaga) CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error) {
	return s.TransitionOrder(ctx, actor, orderID, domain.OrderStatusCancelled, reason)
}

// TransitionOrder applies one status change from the order transition table. Cancelling a pending
// or processing order releases its reservation in the same transaction.
func (s *orderSaga) TransitionOrder(ctx context.Context, actor domain.Actor, orderID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	var invalid ValidationError
	if strings.TrimSpace(actor.ID) == "" {
		invalid.Add("actor", "authenticated actor is required")
	}
	if orderID == "" {
		invalid.Add("orderId", "is required")
	}
	if to == "" {
		invalid.Add("status", "is required")
	}
	if err := invalid.Err(); err != nil {
		return domain.Order{}, err
	}
	reason = sanitizeText(reason)

	var (
		order domain.Order
		from  domain.OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return lookupError("order", orderID, err)
		}
		if actor.Role == domain.RoleUser && current.UserID != actor.ID {
			return fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
		}
		from = current.Status
		if from == to {
			return fmt.Errorf("%w: order %s is already %s", ErrInvalidTransition, orderID, to)
		}
		if !orderTransitions.allows(string(from), string(to), actor.Role) {
			return fmt.Errorf("%w: %s cannot move order from %s to %s", ErrInvalidTransition, actor.Role, from, to)
		}
		if actor.Role == domain.RoleUser && current.PaymentMethod != domain.PaymentMethodCOD {
			return fmt.Errorf("%w: only cash-on-delivery orders can be cancelled by the customer", ErrInvalidTransition)
		}
		// Fulfilment starts only once the order holds its stock.
		if to != domain.OrderStatusCancelled && !current.InventoryReserved {
			return fmt.Errorf("%w: order %s has not been paid for", ErrInvalidTransition, orderID)
		}

		now := s.clock()
		if to == domain.OrderStatusCancelled {
			if (from == domain.OrderStatusPending || from == domain.OrderStatusProcessing) && current.InventoryReserved {
				if err := s.inventory.Release(ctx, tx, current.CartItems()); err != nil {
					return err
				}
				current.InventoryReserved = false
			}
			current.CancelReason = reason
		}
		current.Status = to
		current.StatusHistory = append(current.StatusHistory, domain.StatusChange{
			From:      string(from),
			To:        string(to),
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Reason:    reason,
			At:        now,
		})
		current.UpdatedAt = now
		order = current
		return tx.PutOrder(ctx, current)
	})
	if err != nil {
		return domain.Order{}, translateError("orders.transition", err)
	}

	s.logger(ctx, eventOrderTransition, map[string]any{
		"orderId": order.ID,
		"from":    string(from),
		"to":      string(to),
		"actorId": actor.ID,
		"role":    string(actor.Role),
	})
	s.notify(ctx, Notification{
		Type:      notificationOrderStatus,
		Subject:   "order",
		SubjectID: order.ID,
		UserID:    order.UserID,
		Status:    string(order.Status),
		ActorID:   actor.ID,
		Data:      map[string]string{"from": string(from), "reason": order.CancelReason},
		CreatedAt: order.UpdatedAt,
	})
	return order, nil
}

func (s *orderSaga) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, validationFailure("orderId", "is required")
	}
	var order domain.Order
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return lookupError("order", orderID, err)
		}
		order = current
		return nil
	})
	if err != nil {
		return domain.Order{}, translateError("orders.get", err)
	}
	if actor.Role != domain.RolePlatformAdmin && order.UserID != actor.ID {
		return domain.Order{}, fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, orderID)
	}
	return order, nil
}

func (s *orderSaga) newOrder(id string, cmd PlaceOrderCommand, priced PricedCart, now time.Time) domain.Order {
	userID := strings.TrimSpace(cmd.Actor.ID)
	return domain.Order{
		ID:            id,
		UserID:        userID,
		Lines:         priced.Lines,
		PaymentMethod: cmd.PaymentMethod,
		Status:        domain.OrderStatusPending,
		StatusHistory: []domain.StatusChange{{
			To:        string(domain.OrderStatusPending),
			ActorID:   userID,
			ActorRole: cmd.Actor.Role,
			At:        now,
		}},
		TotalAmount:     priced.TotalAmount,
		DiscountTotal:   priced.DiscountTotal,
		ShippingAddress: cmd.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *orderSaga) orderCommitted(ctx context.Context, order domain.Order) {
	s.counters.add(ctx, metricOrdersCreated, attribute.String("paymentMethod", string(order.PaymentMethod)))
	s.logger(ctx, eventOrderPlaced, map[string]any{
		"orderId":       order.ID,
		"userId":        order.UserID,
		"paymentMethod": string(order.PaymentMethod),
		"totalAmount":   order.TotalAmount,
		"discountTotal": order.DiscountTotal,
	})
	s.notify(ctx, Notification{
		Type:      notificationOrderCreated,
		Subject:   "order",
		SubjectID: order.ID,
		UserID:    order.UserID,
		Status:    string(order.Status),
		ActorID:   order.UserID,
		Data:      map[string]string{"paymentMethod": string(order.PaymentMethod)},
		CreatedAt: order.CreatedAt,
	})
}

func (s *orderSaga) notify(ctx context.Context, n Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger(ctx, eventOrderNotifyError, map[string]any{"subjectId": n.SubjectID, "type": n.Type, "error": err.Error()})
	}
}

// discardOrder removes an order whose gateway hand-off failed. It never held inventory.
func (s *orderSaga) discardOrder(ctx context.Context, orderID string, cause error) {
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.DeleteOrder(ctx, orderID)
	})
	fields := map[string]any{"orderId": orderID, "cause": cause.Error()}
	if err != nil && !isNotFound(err) {
		fields["error"] = err.Error()
	}
	s.logger(ctx, eventOrderCompensate, fields)
}

func (s *orderSaga) discardSession(ctx context.Context, sessionID string, cause error) {
	err := s.uow.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return tx.DeletePendingSession(ctx, sessionID)
	})
	fields := map[string]any{"sessionId": sessionID, "cause": cause.Error()}
	if err != nil && !isNotFound(err) {
		fields["error"] = err.Error()
	}
	s.logger(ctx, eventOrderCompensate, fields)
}

func (s *orderSaga) nextOrderID() string {
	return "ord_" + strings.ToLower(s.newID())
}

func (s *orderSaga) nextSessionID() string {
	return "pos_" + strings.ToLower(s.newID())
}

func checkoutItems(lines []domain.OrderLine, currency string) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		sku := line.ProductID
		if line.VariantCode != "" {
			sku += ":" + line.VariantCode
		}
		// Partially discounted lines are charged as a single unit so the session total matches.
		if line.Subtotal%domain.Money(line.Quantity) != 0 {
			items = append(items, payments.CheckoutLineItem{
				Name:     sku,
				SKU:      sku,
				Quantity: 1,
				Amount:   line.Subtotal,
				Currency: currency,
			})
			continue
		}
		items = append(items, payments.CheckoutLineItem{
			Name:     sku,
			SKU:      sku,
			Quantity: int64(line.Quantity),
			Amount:   line.Subtotal / domain.Money(line.Quantity),
			Currency: currency,
		})
	}
	return items
}

func isNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
