package types

import "fmt"

// Node is a peer in the key space.
type Node struct {
	ID      Key
	Address string
}

// NewNode builds a Node whose ID is derived from its address.
func NewNode(address string) Node {
	return Node{
		ID:      KeyFromAddress(address),
		Address: address,
	}
}

func (n Node) String() string {
	return fmt.Sprintf("%s@%s", n.ID, n.Address)
}
