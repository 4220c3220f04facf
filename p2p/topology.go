package p2p

import (
	"crypto/sha256"
	"fmt"
	"math/rand"
	"sort"

	"github.com/ethp2p/sparse-blobpool/config"
	"github.com/ethp2p/sparse-blobpool/core"
	"github.com/ethp2p/sparse-blobpool/network"
)

// Topology is the generated network graph: a country per node and the
// canonical edge list. Every edge (a, b) satisfies a < b; there are no
// duplicates and no self-loops.
type Topology struct {
	Countries map[core.ActorID]network.Country
	Edges     [][2]core.ActorID
}

// PeersOf returns the peers of a node.
func (t *Topology) PeersOf(id core.ActorID) []core.ActorID {
	var peers []core.ActorID
	for _, edge := range t.Edges {
		switch id {
		case edge[0]:
			peers = append(peers, edge[1])
		case edge[1]:
			peers = append(peers, edge[0])
		}
	}
	return peers
}

// BuildTopology assigns a country to every node by weighted sampling and
// meshes them under the configured interconnection policy.
func BuildTopology(cfg *config.SimulationConfig, weights *network.CountryWeights, latencies *network.LatencyModel, rng *rand.Rand) (*Topology, error) {
	ids := make([]core.ActorID, cfg.NodeCount)
	for i := range ids {
		ids[i] = core.ActorID(fmt.Sprintf("node-%04d", i))
	}
	countries := assignCountries(ids, weights, rng)

	b := &topologyBuilder{
		ids:       ids,
		countries: countries,
		latencies: latencies,
		degree:    cfg.MeshDegree,
		rng:       rng,
	}

	var edges map[[2]core.ActorID]bool
	switch cfg.InterconnectionPolicy {
	case config.PolicyRandom:
		edges = b.random()
	case config.PolicyGeographic:
		edges = b.geographic()
	case config.PolicyLatencyAware:
		edges = b.latencyAware()
	case config.PolicyDiverse:
		edges = b.diverse()
	default:
		return nil, fmt.Errorf("unknown interconnection policy %q", cfg.InterconnectionPolicy)
	}

	return &Topology{Countries: countries, Edges: sortedEdges(edges)}, nil
}

// assignCountries samples a country per node from the weight table.
func assignCountries(ids []core.ActorID, weights *network.CountryWeights, rng *rand.Rand) map[core.ActorID]network.Country {
	countries := weights.Countries()
	total := float64(weights.Total())

	cumulative := make([]float64, len(countries))
	acc := 0.0
	for i, country := range countries {
		acc += float64(weights.Weights[country]) / total
		cumulative[i] = acc
	}

	assigned := make(map[core.ActorID]network.Country, len(ids))
	for _, id := range ids {
		r := rng.Float64()
		country := countries[len(countries)-1]
		for i, threshold := range cumulative {
			if r <= threshold {
				country = countries[i]
				break
			}
		}
		assigned[id] = country
	}
	return assigned
}

type topologyBuilder struct {
	ids       []core.ActorID
	countries map[core.ActorID]network.Country
	latencies *network.LatencyModel
	degree    int
	rng       *rand.Rand
}

func (b *topologyBuilder) addEdge(edges map[[2]core.ActorID]bool, a, c core.ActorID) {
	if a == c {
		return
	}
	if c < a {
		a, c = c, a
	}
	edges[[2]core.ActorID{a, c}] = true
}

// random builds a random-regular graph by stub matching when n*degree is
// even and degree < n, falling back to per-node uniform sampling.
func (b *topologyBuilder) random() map[[2]core.ActorID]bool {
	n := len(b.ids)
	if n*b.degree%2 == 0 && b.degree < n {
		if indexEdges, ok := b.randomRegular(); ok {
			edges := make(map[[2]core.ActorID]bool, len(indexEdges))
			for e := range indexEdges {
				b.addEdge(edges, b.ids[e[0]], b.ids[e[1]])
			}
			return edges
		}
	}
	return b.randomFallback()
}

// randomRegular runs the pairing-model construction with repair: degree
// stubs per node are shuffled and paired; stubs whose pairing would form a
// self-loop or duplicate edge are thrown back and re-paired next round. An
// attempt dies when the leftover stubs admit no valid edge at all.
func (b *topologyBuilder) randomRegular() (map[[2]int]bool, bool) {
	n := len(b.ids)
	for attempt := 0; attempt < 100; attempt++ {
		edges := make(map[[2]int]bool, n*b.degree/2)

		stubs := make([]int, 0, n*b.degree)
		for i := 0; i < n; i++ {
			for d := 0; d < b.degree; d++ {
				stubs = append(stubs, i)
			}
		}

		for len(stubs) > 0 {
			b.rng.Shuffle(len(stubs), func(i, j int) { stubs[i], stubs[j] = stubs[j], stubs[i] })

			var leftover []int
			for i := 0; i < len(stubs); i += 2 {
				u, v := stubs[i], stubs[i+1]
				if u > v {
					u, v = v, u
				}
				if u != v && !edges[[2]int{u, v}] {
					edges[[2]int{u, v}] = true
				} else {
					leftover = append(leftover, u, v)
				}
			}
			if len(leftover) > 0 && !pairable(edges, leftover) {
				edges = nil
				break
			}
			stubs = leftover
		}
		if edges != nil {
			return edges, true
		}
	}
	return nil, false
}

// pairable reports whether any valid edge remains among the leftover
// stubs: some pair of distinct endpoints not yet connected.
func pairable(edges map[[2]int]bool, stubs []int) bool {
	nodes := make(map[int]bool)
	for _, s := range stubs {
		nodes[s] = true
	}
	distinct := make([]int, 0, len(nodes))
	for node := range nodes {
		distinct = append(distinct, node)
	}
	sort.Ints(distinct)

	for i := 0; i < len(distinct); i++ {
		for j := i + 1; j < len(distinct); j++ {
			if !edges[[2]int{distinct[i], distinct[j]}] {
				return true
			}
		}
	}
	return false
}

func (b *topologyBuilder) randomFallback() map[[2]core.ActorID]bool {
	n := len(b.ids)
	edges := make(map[[2]core.ActorID]bool)
	for i, id := range b.ids {
		perm := b.rng.Perm(n)
		picked := 0
		for _, j := range perm {
			if picked >= b.degree {
				break
			}
			if j == i {
				continue
			}
			b.addEdge(edges, id, b.ids[j])
			picked++
		}
	}
	return edges
}

// geographic builds a Kademlia-flavored mesh: one peer per XOR-distance
// bucket preferring same-country (then lower latency), topped up with
// same-country peers and finally cross-country peers by ascending latency.
func (b *topologyBuilder) geographic() map[[2]core.ActorID]bool {
	n := len(b.ids)
	kadIDs := make([][32]byte, n)
	for i, id := range b.ids {
		kadIDs[i] = sha256.Sum256([]byte(id))
	}

	edges := make(map[[2]core.ActorID]bool)
	for i, id := range b.ids {
		country := b.countries[id]
		selected := make(map[int]bool)

		// One peer per bucket, nearest buckets first.
		buckets := make(map[int][]int)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			buckets[xorBucket(kadIDs[i], kadIDs[j])] = append(buckets[xorBucket(kadIDs[i], kadIDs[j])], j)
		}
		bucketKeys := make([]int, 0, len(buckets))
		for bucket := range buckets {
			bucketKeys = append(bucketKeys, bucket)
		}
		sort.Ints(bucketKeys)

		for _, bucket := range bucketKeys {
			if len(selected) >= b.degree {
				break
			}
			candidates := buckets[bucket]
			sort.Slice(candidates, func(x, y int) bool {
				cx, cy := candidates[x], candidates[y]
				sameX := b.countries[b.ids[cx]] == country
				sameY := b.countries[b.ids[cy]] == country
				if sameX != sameY {
					return sameX
				}
				lx := b.latencies.Lookup(country, b.countries[b.ids[cx]]).BaseMs
				ly := b.latencies.Lookup(country, b.countries[b.ids[cy]]).BaseMs
				if lx != ly {
					return lx < ly
				}
				return b.ids[cx] < b.ids[cy]
			})
			selected[candidates[0]] = true
		}

		// Fill with same-country peers.
		var sameCountry []int
		for j := 0; j < n; j++ {
			if j != i && !selected[j] && b.countries[b.ids[j]] == country {
				sameCountry = append(sameCountry, j)
			}
		}
		b.rng.Shuffle(len(sameCountry), func(x, y int) { sameCountry[x], sameCountry[y] = sameCountry[y], sameCountry[x] })
		for _, j := range sameCountry {
			if len(selected) >= b.degree {
				break
			}
			selected[j] = true
		}

		// Finally cross-country by ascending latency.
		if len(selected) < b.degree {
			var foreign []int
			for j := 0; j < n; j++ {
				if j != i && !selected[j] && b.countries[b.ids[j]] != country {
					foreign = append(foreign, j)
				}
			}
			sort.Slice(foreign, func(x, y int) bool {
				lx := b.latencies.Lookup(country, b.countries[b.ids[foreign[x]]]).BaseMs
				ly := b.latencies.Lookup(country, b.countries[b.ids[foreign[y]]]).BaseMs
				if lx != ly {
					return lx < ly
				}
				return b.ids[foreign[x]] < b.ids[foreign[y]]
			})
			for _, j := range foreign {
				if len(selected) >= b.degree {
					break
				}
				selected[j] = true
			}
		}

		for j := range selected {
			b.addEdge(edges, id, b.ids[j])
		}
	}
	return edges
}

// latencyAware connects every node to its lowest-latency peers, random
// tie-break.
func (b *topologyBuilder) latencyAware() map[[2]core.ActorID]bool {
	n := len(b.ids)
	edges := make(map[[2]core.ActorID]bool)
	for i, id := range b.ids {
		country := b.countries[id]

		type candidate struct {
			index    int
			latency  float64
			tiebreak float64
		}
		candidates := make([]candidate, 0, n-1)
		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			candidates = append(candidates, candidate{
				index:    j,
				latency:  b.latencies.Lookup(country, b.countries[b.ids[j]]).BaseMs,
				tiebreak: b.rng.Float64(),
			})
		}
		sort.Slice(candidates, func(x, y int) bool {
			if candidates[x].latency != candidates[y].latency {
				return candidates[x].latency < candidates[y].latency
			}
			return candidates[x].tiebreak < candidates[y].tiebreak
		})

		degree := b.degree
		if degree > len(candidates) {
			degree = len(candidates)
		}
		for _, c := range candidates[:degree] {
			b.addEdge(edges, id, b.ids[c.index])
		}
	}
	return edges
}

// diverse spreads connections: a few peers in distinct foreign countries
// first, then a same-country share, then random fill.
func (b *topologyBuilder) diverse() map[[2]core.ActorID]bool {
	n := len(b.ids)

	byCountry := make(map[network.Country][]int)
	for j, id := range b.ids {
		byCountry[b.countries[id]] = append(byCountry[b.countries[id]], j)
	}
	allCountries := make([]network.Country, 0, len(byCountry))
	for country := range byCountry {
		allCountries = append(allCountries, country)
	}
	sort.Strings(allCountries)

	edges := make(map[[2]core.ActorID]bool)
	for i, id := range b.ids {
		country := b.countries[id]
		selected := make(map[int]bool)

		// Phase 1: one peer in each of a handful of foreign countries.
		var foreignCountries []network.Country
		for _, c := range allCountries {
			if c != country {
				foreignCountries = append(foreignCountries, c)
			}
		}
		b.rng.Shuffle(len(foreignCountries), func(x, y int) {
			foreignCountries[x], foreignCountries[y] = foreignCountries[y], foreignCountries[x]
		})
		want := b.degree / 4
		if want < 3 {
			want = 3
		}
		if want > len(foreignCountries) {
			want = len(foreignCountries)
		}
		for _, c := range foreignCountries[:want] {
			members := byCountry[c]
			if len(members) == 0 {
				continue
			}
			selected[members[b.rng.Intn(len(members))]] = true
		}

		// Phase 2: up to a third from the same country.
		var sameCountry []int
		for _, j := range byCountry[country] {
			if j != i && !selected[j] {
				sameCountry = append(sameCountry, j)
			}
		}
		b.rng.Shuffle(len(sameCountry), func(x, y int) { sameCountry[x], sameCountry[y] = sameCountry[y], sameCountry[x] })
		added := 0
		for _, j := range sameCountry {
			if added >= b.degree/3 || len(selected) >= b.degree {
				break
			}
			selected[j] = true
			added++
		}

		// Phase 3: random fill.
		if len(selected) < b.degree {
			perm := b.rng.Perm(n)
			for _, j := range perm {
				if len(selected) >= b.degree {
					break
				}
				if j != i && !selected[j] {
					selected[j] = true
				}
			}
		}

		for j := range selected {
			b.addEdge(edges, id, b.ids[j])
		}
	}
	return edges
}

// xorBucket is the index of the highest differing bit of two kademlia
// identifiers: bit_length(xor) - 1 over the 256-bit ids.
func xorBucket(a, b [32]byte) int {
	for i := 0; i < 32; i++ {
		x := a[i] ^ b[i]
		if x != 0 {
			highest := 7
			for x>>uint(highest)&1 == 0 {
				highest--
			}
			return (31-i)*8 + highest
		}
	}
	return 0
}

func sortedEdges(edges map[[2]core.ActorID]bool) [][2]core.ActorID {
	list := make([][2]core.ActorID, 0, len(edges))
	for edge := range edges {
		list = append(list, edge)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i][0] != list[j][0] {
			return list[i][0] < list[j][0]
		}
		return list[i][1] < list[j][1]
	})
	return list
}
