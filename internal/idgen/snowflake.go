package idgen

import (
	"github.com/bwmarrin/snowflake"

	"github.com/example/farm-ledger/internal/model"
)

// Generator hands out snowflake ids. Ids from one node are strictly
// increasing, which the ledger relies on for FIFO tie-breaks and journal order.
type Generator struct {
	node *snowflake.Node
}

func New(node int64) (*Generator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, err
	}
	return &Generator{node: n}, nil
}

func (g *Generator) NextID() model.ID {
	return model.ID(g.node.Generate().Int64())
}
