// Package numbering issues the human-facing order and subscription numbers.
package numbering

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

const (
	OrderPrefix        = "ORD"
	SubscriptionPrefix = "SUB"
)

// Generator wraps a snowflake node. Numbers are monotonic per node and unique
// across nodes as long as every process gets its own node id.
type Generator struct {
	node *snowflake.Node
}

func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

func (g *Generator) OrderNumber() string {
	return OrderPrefix + "-" + g.node.Generate().Base36()
}

func (g *Generator) SubscriptionNumber() string {
	return SubscriptionPrefix + "-" + g.node.Generate().Base36()
}
