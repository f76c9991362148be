package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErdosIsConnectedAndSized(t *testing.T) {
	n := 30
	edges := GenConnectedErdos(n, 100, 1)

	adj := make(map[uint64]map[uint64]bool, n)
	for i := 0; i < n; i++ {
		adj[uint64(i)] = map[uint64]bool{}
	}
	for _, e := range edges {
		adj[e.A][e.B] = true
		adj[e.B][e.A] = true
	}

	visited := map[uint64]bool{0: true}
	queue := []uint64{0}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for neigh := range adj[cur] {
			if !visited[neigh] {
				visited[neigh] = true
				queue = append(queue, neigh)
			}
		}
	}
	assert.Len(t, visited, n, "graph must be connected")
}

func TestErdosRaisesTooSmallM(t *testing.T) {
	edges := GenConnectedErdos(10, 0, 2)
	assert.GreaterOrEqual(t, len(edges), 9)
}

func TestBarabasiProducesNNodes(t *testing.T) {
	edges := GenBarabasiAlbert(20, 2, 3)
	maxID := uint64(0)
	for _, e := range edges {
		if e.A > maxID {
			maxID = e.A
		}
		if e.B > maxID {
			maxID = e.B
		}
	}
	assert.Equal(t, uint64(19), maxID)
}
