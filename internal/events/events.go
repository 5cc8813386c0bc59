package events

import (
	"context"
	"sync"
	"time"

	"happy-hour-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventVoucherClaimed is emitted when a voucher is issued
	EventVoucherClaimed EventType = "voucher.claimed"
	// EventVoucherRedeemed is emitted when a voucher is finalized at point of sale
	EventVoucherRedeemed EventType = "voucher.redeemed"
	// EventDealReported is emitted when an abuse report is filed against a deal
	EventDealReported EventType = "deal.reported"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
}

// VoucherClaimedData contains data for voucher claimed events.
type VoucherClaimedData struct {
	Voucher models.Voucher
	DealID  string
}

// VoucherRedeemedData contains data for voucher redeemed events.
type VoucherRedeemedData struct {
	Receipt models.RedemptionReceipt
	Code    string
	Actor   models.Actor
}

// DealReportedData contains data for deal reported events.
type DealReportedData struct {
	DealID       string
	ReporterID   string
	PendingCount int
	DealStatus   models.DealStatus
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing. It is the in-process
// audit sink: subscribers receive claim/redeem/report notifications
// asynchronously and must not block request handling.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
}

// NewManager creates a new event manager.
func NewManager(enabled bool) *Manager {
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	if !m.enabled {
		return
	}

	m.mu.RLock()
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	// Handlers run asynchronously so a slow audit sink cannot stall a
	// claim or redemption.
	for _, handler := range handlers {
		go func(h Handler) {
			if err := h(ctx, event); err != nil {
				_ = err
			}
		}(handler)
	}
}

// PublishVoucherClaimed publishes a voucher claimed event.
func (m *Manager) PublishVoucherClaimed(ctx context.Context, voucher models.Voucher) {
	m.Publish(ctx, EventVoucherClaimed, VoucherClaimedData{Voucher: voucher, DealID: voucher.DealID})
}

// PublishVoucherRedeemed publishes a voucher redeemed event.
func (m *Manager) PublishVoucherRedeemed(ctx context.Context, receipt models.RedemptionReceipt, code string, actor models.Actor) {
	m.Publish(ctx, EventVoucherRedeemed, VoucherRedeemedData{
		Receipt: receipt,
		Code:    code,
		Actor:   actor,
	})
}

// PublishDealReported publishes a deal reported event.
func (m *Manager) PublishDealReported(ctx context.Context, report models.ReportResponse, reporterID string) {
	m.Publish(ctx, EventDealReported, DealReportedData{
		DealID:       report.DealID,
		ReporterID:   reporterID,
		PendingCount: report.PendingCount,
		DealStatus:   report.DealStatus,
	})
}

// Shutdown shuts down the event manager.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
}
