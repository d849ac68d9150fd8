package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/nightfield/signalgate/internal/schema"
)

// MockClient is an in-memory Client that fills every order
// immediately at the intent's entry price and issues "SIM-" tickets,
// used by cmd/gateway serve as the client for every profile until a
// real broker integration is wired.
type MockClient struct {
	mu        sync.Mutex
	connected bool
	nextTicket uint64
	open      map[string]schema.Position
	byToken   map[string]string
}

// NewMockClient returns a disconnected mock client.
func NewMockClient() *MockClient {
	return &MockClient{open: make(map[string]schema.Position), byToken: make(map[string]string)}
}

func (m *MockClient) Connect(ctx context.Context, credsRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MockClient) Heartbeat(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("broker: mock client not connected")
	}
	return nil
}

func (m *MockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MockClient) OpenPositions(ctx context.Context) ([]schema.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockClient) Submit(ctx context.Context, intent schema.OrderIntent) (ticket, fillPrice string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", "", fmt.Errorf("broker: mock client not connected")
	}
	m.nextTicket++
	ticket = fmt.Sprintf("SIM-%06d", m.nextTicket)
	fillPrice = intent.EntryPrice.String()
	m.open[ticket] = schema.Position{
		Ticket:      ticket,
		ProfileID:   intent.ProfileID,
		Symbol:      intent.Symbol,
		Direction:   intent.Direction,
		Volume:      intent.Volume,
		EntryPrice:  intent.EntryPrice,
		StopLoss:    intent.StopLoss,
		TakeProfit:  intent.TakeProfit,
		CurrentMark: intent.EntryPrice,
	}
	m.byToken[intent.ClientToken] = ticket
	return ticket, fillPrice, nil
}

func (m *MockClient) FindByClientToken(ctx context.Context, token string) (ticket string, found bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticket, found = m.byToken[token]
	return ticket, found, nil
}
