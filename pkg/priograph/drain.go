package priograph

// Edge is a blocking relation surfaced while draining: Target became ready
// when Source was resolved.
type Edge struct {
	Source Key
	Target Key
}

// Schedule is the drained scheduling order of a graph.
type Schedule struct {
	// Layers holds the transactions popped at each drain step, in pop order.
	Layers [][]Key
	// Edges holds the blocking edges in the order they were surfaced.
	Edges []Edge
}

// Len returns the number of scheduled transactions.
func (s *Schedule) Len() int {
	n := 0
	for _, layer := range s.Layers {
		n += len(layer)
	}

	return n
}

// LayerOf returns the layer index for every scheduled key.
func (s *Schedule) LayerOf() map[Key]int {
	layers := make(map[Key]int, s.Len())

	for i, layer := range s.Layers {
		for _, key := range layer {
			layers[key] = i
		}
	}

	return layers
}

// Drain empties the graph the way a greedy scheduler would: every ready
// transaction is popped into one layer, then each popped transaction is
// unblocked in pop order and the edges to newly ready transactions are
// recorded.
func Drain[R comparable](g *Graph[R]) *Schedule {
	schedule := &Schedule{}

	for !g.IsEmpty() {
		var layer []Key

		for {
			key, ok := g.Pop()
			if !ok {
				break
			}

			layer = append(layer, key)
		}

		// Edges only point at later insertions, so a non-empty graph always
		// has a ready transaction.
		if len(layer) == 0 {
			break
		}

		schedule.Layers = append(schedule.Layers, layer)

		for _, key := range layer {
			for _, target := range g.Unblock(key) {
				schedule.Edges = append(schedule.Edges, Edge{Source: key, Target: target})
			}
		}
	}

	return schedule
}
