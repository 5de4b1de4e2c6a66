package merchant

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/corepay/gestpay/gateway"
	"github.com/corepay/gestpay/merchant/models"
	"github.com/segmentio/kafka-go"
	"golang.org/x/exp/slog"
)

// Hook is an extension point invoked around the reconciler's state
// transitions. Hooks run in registration order; a hook must not mutate the
// order's payment state.
type Hook interface {
	BeforeProcessing(ctx context.Context, order *models.Order)
	AfterCompleted(ctx context.Context, order *models.Order, resp *gateway.Response)
	AfterFailed(ctx context.Context, order *models.Order, resp *gateway.Response)
}

// reconciliationEvent is the payload published for terminal outcomes.
type reconciliationEvent struct {
	OrderID           int64     `json:"order_id"`
	Status            string    `json:"status"`
	BankTransactionID string    `json:"bank_transaction_id,omitempty"`
	AuthorizationCode string    `json:"authorization_code,omitempty"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorDescription  string    `json:"error_description,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// KafkaHook publishes reconciliation outcomes so downstream systems
// (fulfillment, accounting) can react without polling the shop.
type KafkaHook struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaHook(broker, topic string, logger *slog.Logger) *KafkaHook {
	return &KafkaHook{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger.With(slog.String("component", "kafka_hook")),
	}
}

func (h *KafkaHook) BeforeProcessing(context.Context, *models.Order) {}

func (h *KafkaHook) AfterCompleted(ctx context.Context, order *models.Order, resp *gateway.Response) {
	h.publish(ctx, reconciliationEvent{
		OrderID:           order.ID,
		Status:            string(order.Status),
		BankTransactionID: resp.BankTransactionID,
		AuthorizationCode: resp.AuthorizationCode,
		OccurredAt:        time.Now().UTC(),
	})
}

func (h *KafkaHook) AfterFailed(ctx context.Context, order *models.Order, resp *gateway.Response) {
	h.publish(ctx, reconciliationEvent{
		OrderID:          order.ID,
		Status:           string(models.OrderFailed),
		ErrorCode:        resp.ErrorCode,
		ErrorDescription: resp.ErrorDescription,
		OccurredAt:       time.Now().UTC(),
	})
}

// publish is best-effort: a broker outage must not fail the callback.
func (h *KafkaHook) publish(ctx context.Context, event reconciliationEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshaling event", "err", err)
		return
	}
	err = h.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: data,
	})
	if err != nil {
		h.logger.Error("publishing reconciliation event", "err", err, slog.Int64("order_id", event.OrderID))
	}
}

func (h *KafkaHook) Close() error {
	return h.writer.Close()
}
