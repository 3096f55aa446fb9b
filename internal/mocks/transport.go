package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/polinanime/keyspace/internal/types"
)

// Call records one FindNode request.
type Call struct {
	To     types.Node
	Target types.Key
}

// MockTransport answers FindNode from a fixed table of replies keyed by
// address. Addresses listed in Errors fail, unknown addresses return no
// peers.
type MockTransport struct {
	mutex   sync.Mutex
	Replies map[string][]types.Node
	Errors  map[string]error
	// Block makes FindNode wait for ctx to be done.
	Block bool
	// BlockPing makes Ping wait for ctx to be done.
	BlockPing bool
	Calls []Call
	Pings []types.Node
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		Replies: make(map[string][]types.Node),
		Errors:  make(map[string]error),
	}
}

// Fail makes every request to address return err.
func (m *MockTransport) Fail(address string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err == nil {
		err = fmt.Errorf("mock: %s unreachable", address)
	}
	m.Errors[address] = err
}

func (m *MockTransport) Reply(address string, peers ...types.Node) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Replies[address] = peers
}

func (m *MockTransport) FindNode(ctx context.Context, to types.Node, target types.Key) ([]types.Node, error) {
	m.mutex.Lock()
	m.Calls = append(m.Calls, Call{To: to, Target: target})
	err := m.Errors[to.Address]
	peers := append([]types.Node(nil), m.Replies[to.Address]...)
	block := m.Block
	m.mutex.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return peers, nil
}

func (m *MockTransport) Ping(ctx context.Context, to types.Node) error {
	m.mutex.Lock()
	m.Pings = append(m.Pings, to)
	err := m.Errors[to.Address]
	block := m.BlockPing
	m.mutex.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// Queried returns the addresses FindNode was called with, in call order.
func (m *MockTransport) Queried() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		out[i] = c.To.Address
	}
	return out
}
