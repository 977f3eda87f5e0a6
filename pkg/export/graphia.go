// Package export renders drained conflict graphs as Graphia JSON documents.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/ethpandaops/traceoor/pkg/priograph"
)

// Document is the top level Graphia JSON document.
type Document struct {
	Graph Graph `json:"graph"`
}

// Graph is a directed node and edge list.
type Graph struct {
	Directed bool   `json:"directed"`
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`
}

// Node is one scheduled transaction.
type Node struct {
	ID       string       `json:"id"`
	Metadata NodeMetadata `json:"metadata"`
}

// NodeMetadata carries the transaction attributes shown by Graphia.
type NodeMetadata struct {
	Signature    string `json:"signature"`
	Priority     uint64 `json:"priority"`
	RequestedCUs uint64 `json:"requested_cus"`
	Layer        int    `json:"layer"`
}

// Edge is a blocking edge from Source to Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Transaction describes the transaction behind a graph key.
type Transaction struct {
	Signature    string
	RequestedCUs uint64
}

// Build renders a schedule. Node ids are the key indexes; lookup supplies
// the attributes of each key. Nodes are listed in pop order.
func Build(schedule *priograph.Schedule, lookup func(priograph.Key) Transaction) *Document {
	doc := &Document{
		Graph: Graph{
			Directed: true,
			Nodes:    make([]Node, 0, schedule.Len()),
			Edges:    make([]Edge, 0, len(schedule.Edges)),
		},
	}

	for layer, keys := range schedule.Layers {
		for _, key := range keys {
			tx := lookup(key)

			doc.Graph.Nodes = append(doc.Graph.Nodes, Node{
				ID: nodeID(key),
				Metadata: NodeMetadata{
					Signature:    tx.Signature,
					Priority:     key.Priority,
					RequestedCUs: tx.RequestedCUs,
					Layer:        layer,
				},
			})
		}
	}

	for i, edge := range schedule.Edges {
		doc.Graph.Edges = append(doc.Graph.Edges, Edge{
			ID:     strconv.Itoa(i),
			Source: nodeID(edge.Source),
			Target: nodeID(edge.Target),
		})
	}

	return doc
}

func nodeID(key priograph.Key) string {
	return strconv.Itoa(key.Index)
}

// WriteFile writes doc to path, truncating any existing file.
func WriteFile(path string, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write graph: %w", err)
	}

	return nil
}
