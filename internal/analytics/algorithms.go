package analytics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/meshgraph/core"
)

// Edge is an undirected edge between two snapshot node indices, U < V.
type Edge struct {
	U, V int
}

// DiffusionScores maps node id -> step (1-based) -> target node id -> score.
type DiffusionScores map[uint32]map[uint32]map[uint32]float64

// adjacency returns the neighbour lists of a snapshot, without self-loops
// or duplicates, each list sorted.
func adjacency(s core.GraphSnapshot) [][]int {
	n := len(s.Nodes)
	seen := make([]map[int]bool, n)
	adj := make([][]int, n)
	for _, e := range s.Edges {
		if e.U == e.V || e.U < 0 || e.V < 0 || e.U >= n || e.V >= n {
			continue
		}
		if seen[e.U] == nil {
			seen[e.U] = make(map[int]bool)
		}
		if seen[e.V] == nil {
			seen[e.V] = make(map[int]bool)
		}
		if !seen[e.U][e.V] {
			seen[e.U][e.V], seen[e.V][e.U] = true, true
			adj[e.U] = append(adj[e.U], e.V)
			adj[e.V] = append(adj[e.V], e.U)
		}
	}
	for i := range adj {
		sort.Ints(adj[i])
	}
	return adj
}

// articulationPoints finds cut vertices in every component of the
// snapshot using Tarjan's low-link DFS. The DFS is iterative so deep
// chains do not grow the goroutine stack.
func articulationPoints(s core.GraphSnapshot) Result[[]int] {
	n := len(s.Nodes)
	if n < 3 {
		return Empty[[]int]("fewer than 3 nodes")
	}
	adj := adjacency(s)
	hasEdge := false
	for _, nb := range adj {
		if len(nb) > 0 {
			hasEdge = true
			break
		}
	}
	if !hasEdge {
		return Empty[[]int]("graph has no edges")
	}

	disc := make([]int, n)
	low := make([]int, n)
	parent := make([]int, n)
	next := make([]int, n) // next neighbour offset to visit
	for i := range disc {
		disc[i] = -1
		parent[i] = -1
	}
	isAP := make([]bool, n)
	timer := 0

	for root := 0; root < n; root++ {
		if disc[root] != -1 {
			continue
		}
		disc[root], low[root] = timer, timer
		timer++
		rootChildren := 0
		stack := []int{root}

		for len(stack) > 0 {
			u := stack[len(stack)-1]
			if next[u] < len(adj[u]) {
				v := adj[u][next[u]]
				next[u]++
				switch {
				case disc[v] == -1:
					parent[v] = u
					disc[v], low[v] = timer, timer
					timer++
					if u == root {
						rootChildren++
					}
					stack = append(stack, v)
				case v != parent[u]:
					low[u] = min(low[u], disc[v])
				}
				continue
			}

			stack = stack[:len(stack)-1]
			if p := parent[u]; p != -1 {
				low[p] = min(low[p], low[u])
				if p != root && low[u] >= disc[p] {
					isAP[p] = true
				}
			}
		}
		if rootChildren > 1 {
			isAP[root] = true
		}
	}

	var out []int
	for i, ap := range isAP {
		if ap {
			out = append(out, i)
		}
	}
	if len(out) == 0 {
		return Empty[[]int]("no articulation points")
	}
	return Success(out)
}

// capacity turns an SNR reading into a non-negative cut weight.
func capacity(snr float64) float64 {
	return math.Max(0, snr-core.SNRFloorDB)
}

// minCut computes the global minimum edge cut with Stoer-Wagner and
// returns the snapshot edges crossing it, sorted.
func minCut(s core.GraphSnapshot) Result[[]Edge] {
	n := len(s.Nodes)
	if n < 2 {
		return Empty[[]Edge]("fewer than 2 nodes")
	}
	if !connected(n, adjacency(s)) {
		return Empty[[]Edge]("graph is disconnected")
	}

	w := make([][]float64, n)
	for i := range w {
		w[i] = make([]float64, n)
	}
	for _, e := range s.Edges {
		if e.U == e.V {
			continue
		}
		c := capacity(e.SNR)
		w[e.U][e.V] += c
		w[e.V][e.U] += c
	}

	// groups[i] lists the original vertices merged into vertex i.
	groups := make([][]int, n)
	active := make([]int, n)
	for i := range groups {
		groups[i] = []int{i}
		active[i] = i
	}

	best := math.Inf(1)
	var bestSide []int
	for len(active) > 1 {
		m := len(active)
		added := make([]bool, m)
		weight := make([]float64, m)
		prev := 0
		added[0] = true
		for j := 1; j < m; j++ {
			weight[j] = w[active[0]][active[j]]
		}

		for step := 1; step < m; step++ {
			sel := -1
			for j := 0; j < m; j++ {
				if !added[j] && (sel == -1 || weight[j] > weight[sel]) {
					sel = j
				}
			}

			if step == m-1 {
				if weight[sel] < best {
					best = weight[sel]
					bestSide = append([]int(nil), groups[active[sel]]...)
				}
				a, b := active[prev], active[sel]
				groups[a] = append(groups[a], groups[b]...)
				for _, j := range active {
					if j == a || j == b {
						continue
					}
					w[a][j] += w[b][j]
					w[j][a] = w[a][j]
				}
				active = append(active[:sel], active[sel+1:]...)
				break
			}

			added[sel] = true
			for j := 0; j < m; j++ {
				if !added[j] {
					weight[j] += w[active[sel]][active[j]]
				}
			}
			prev = sel
		}
	}

	side := make([]bool, n)
	for _, v := range bestSide {
		side[v] = true
	}
	var cut []Edge
	for _, e := range s.Edges {
		if e.U != e.V && side[e.U] != side[e.V] {
			u, v := e.U, e.V
			if u > v {
				u, v = v, u
			}
			cut = append(cut, Edge{U: u, V: v})
		}
	}
	sort.Slice(cut, func(i, j int) bool {
		if cut[i].U != cut[j].U {
			return cut[i].U < cut[j].U
		}
		return cut[i].V < cut[j].V
	})
	return Success(cut)
}

func connected(n int, adj [][]int) bool {
	if n == 0 {
		return true
	}
	seen := make([]bool, n)
	queue := []int{0}
	seen[0] = true
	count := 1
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range adj[u] {
			if !seen[v] {
				seen[v] = true
				count++
				queue = append(queue, v)
			}
		}
	}
	return count == n
}

// diffusionCentrality computes the cumulative temporal diffusion matrix
// over the snapshot history. With A_t the adjacency of snapshot t and q
// the diffusion probability:
//
//	W_1 = q*A_1, W_t = W_(t-1) * q*A_t, D_t = W_1 + ... + W_t
//
// Nodes are the union of all node ids in the history, so a node missing
// from one snapshot simply has no links in it.
func diffusionCentrality(history []core.GraphSnapshot, q float64) Result[DiffusionScores] {
	if len(history) < MinDiffusionSnapshots {
		return Empty[DiffusionScores]("not enough snapshots")
	}

	idSet := make(map[uint32]struct{})
	for _, s := range history {
		for _, node := range s.Nodes {
			idSet[node.ID] = struct{}{}
		}
	}
	if len(idSet) == 0 {
		return Empty[DiffusionScores]("no nodes in history")
	}
	ids := make([]uint32, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pos := make(map[uint32]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}

	n := len(ids)
	out := make(DiffusionScores, n)
	var walk, total *mat.Dense
	for step, s := range history {
		a := mat.NewDense(n, n, nil)
		for _, e := range s.Edges {
			if e.U == e.V || e.U >= len(s.Nodes) || e.V >= len(s.Nodes) {
				continue
			}
			i, j := pos[s.Nodes[e.U].ID], pos[s.Nodes[e.V].ID]
			a.Set(i, j, q)
			a.Set(j, i, q)
		}

		if walk == nil {
			walk = a
			total = mat.DenseCopyOf(a)
		} else {
			next := mat.NewDense(n, n, nil)
			next.Mul(walk, a)
			walk = next
			total.Add(total, walk)
		}

		for i, src := range ids {
			for j, dst := range ids {
				v := total.At(i, j)
				if v == 0 {
					continue
				}
				if out[src] == nil {
					out[src] = make(map[uint32]map[uint32]float64)
				}
				if out[src][uint32(step+1)] == nil {
					out[src][uint32(step+1)] = make(map[uint32]float64)
				}
				out[src][uint32(step+1)][dst] = v
			}
		}
	}
	return Success(out)
}
