package routingtable

// bucket holds up to k nodes whose ids share the same distance-prefix
// from the table's own id. Nodes are kept in insertion order: index 0
// is the earliest-added entry. Refreshing a node (re-adding it or
// updating its LastPing) replaces it in place and does not move it.
type bucket struct {
	nodes []Node
	k     int
}

func newBucket(k int) *bucket {
	return &bucket{nodes: make([]Node, 0, k), k: k}
}

func (b *bucket) size() int {
	return len(b.nodes)
}

func (b *bucket) isFull() bool {
	return len(b.nodes) >= b.k
}

func (b *bucket) indexOf(endpoint string) int {
	for i, n := range b.nodes {
		if n.Endpoint == endpoint {
			return i
		}
	}
	return -1
}

// addNode appends node, returning false if the bucket is already at
// capacity (callers decide what to do about it — spec.md leaves
// full-bucket handling to the DHT manager, not the table itself).
func (b *bucket) addNode(node Node) bool {
	if b.isFull() {
		return false
	}
	b.nodes = append(b.nodes, node)
	return true
}

// touch refreshes the LastPing of the node at endpoint, reporting
// whether it was found.
func (b *bucket) touch(endpoint string, n Node) bool {
	i := b.indexOf(endpoint)
	if i < 0 {
		return false
	}
	b.nodes[i] = n
	return true
}

func (b *bucket) remove(endpoint string) bool {
	i := b.indexOf(endpoint)
	if i < 0 {
		return false
	}
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
	return true
}

// selectNodes returns up to desiredCount copies of the bucket's
// entries.
func (b *bucket) selectNodes(desiredCount int) []NodeInfo {
	n := desiredCount
	if n > len(b.nodes) {
		n = len(b.nodes)
	}
	out := make([]NodeInfo, n)
	for i := 0; i < n; i++ {
		out[i] = b.nodes[i].info()
	}
	return out
}
