package gateway

import (
	"context"
	"fmt"
	"sync"

	"rental-settlement/internal/status"
	"rental-settlement/utils"
)

// Simulated is an in-memory gateway for development. Charges succeed unless the order id
// was registered with Decline.
type Simulated struct {
	mu       sync.Mutex
	orders   map[string]*Transaction
	declined map[string]bool
	charges  int
}

var _ Gateway = (*Simulated)(nil)

func NewSimulated() *Simulated {
	return &Simulated{
		orders:   make(map[string]*Transaction),
		declined: make(map[string]bool),
	}
}

// Decline makes every future charge of orderID fail.
func (s *Simulated) Decline(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declined[orderID] = true
}

// Charges returns how many charges were attempted.
func (s *Simulated) Charges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charges
}

func (s *Simulated) Charge(_ context.Context, req ChargeRequest) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.charges++

	if tx, ok := s.orders[req.OrderID]; ok && tx.Status == StatusCompleted {
		c := *tx
		return &c, nil
	}
	if s.declined[req.OrderID] {
		s.orders[req.OrderID] = &Transaction{OrderID: req.OrderID, Status: StatusFailed, Amount: req.Amount, Currency: req.Currency}
		return nil, fmt.Errorf("charge order %s: declined: %w", req.OrderID, status.ErrPaymentGateway)
	}

	ref, err := utils.GenerateReference("TX", 6)
	if err != nil {
		return nil, fmt.Errorf("charge order %s: %w: %w", req.OrderID, status.ErrPaymentGateway, err)
	}
	tx := &Transaction{
		OrderID:       req.OrderID,
		TransactionID: ref,
		Status:        StatusCompleted,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}
	s.orders[req.OrderID] = tx
	c := *tx
	return &c, nil
}

func (s *Simulated) QueryStatus(_ context.Context, orderID string) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.orders[orderID]
	if !ok {
		return &Transaction{OrderID: orderID, Status: StatusUnknown}, nil
	}
	c := *tx
	return &c, nil
}
