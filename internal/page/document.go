package page

import "sync"

// MutationKind distinguishes structural changes from text changes.
type MutationKind int

const (
	MutationChildList MutationKind = iota
	MutationText
)

// Mutation is one observed change to the mirrored tree.
type Mutation struct {
	Kind   MutationKind
	Target *Node
	Added  []*Node
}

// Document owns the mirrored page tree and fans out coalesced mutation
// batches to subtree subscriptions. All tree edits must go through the
// Document so that mutations are recorded.
type Document struct {
	mu      sync.Mutex
	root    *Node
	url     string
	pending []Mutation
	subs    map[*Subscription]struct{}
}

func NewDocument() *Document {
	return &Document{
		root: &Node{Tag: "body"},
		subs: make(map[*Subscription]struct{}),
	}
}

func (d *Document) Root() *Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

func (d *Document) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// AppendChild attaches child under parent and records a child-list
// mutation targeting parent.
func (d *Document) AppendChild(parent, child *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	child.Parent = parent
	parent.Children = append(parent.Children, child)
	d.pending = append(d.pending, Mutation{Kind: MutationChildList, Target: parent, Added: []*Node{child}})
}

// SetText replaces the node's direct text and records a text mutation.
func (d *Document) SetText(n *Node, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n.Text = text
	d.pending = append(d.pending, Mutation{Kind: MutationText, Target: n})
}

// Remove detaches n from its parent. The removal is recorded as a
// child-list mutation on the former parent with no added nodes.
func (d *Document) Remove(n *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := n.Parent
	if parent == nil {
		return
	}
	for i, c := range parent.Children {
		if c == n {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			break
		}
	}
	n.Parent = nil
	d.pending = append(d.pending, Mutation{Kind: MutationChildList, Target: parent})
}

// Flush delivers all pending mutations as one batch to every subscription
// whose observed subtree contains the mutation target. Subscriptions that
// cannot keep up lose the batch rather than blocking the feed.
func (d *Document) Flush() {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	subs := make([]*Subscription, 0, len(d.subs))
	for s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	for _, s := range subs {
		s.deliver(batch)
	}
}

// Observe starts a subscription scoped to the given subtree. A nil target
// observes the whole document.
func (d *Document) Observe(target *Node) *Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if target == nil {
		target = d.root
	}
	s := &Subscription{
		doc:    d,
		target: target,
		ch:     make(chan []Mutation, 64),
	}
	d.subs[s] = struct{}{}
	return s
}

// Subscription is a restartable stream of mutation batches scoped to one
// subtree of the document.
type Subscription struct {
	doc *Document

	mu     sync.Mutex
	target *Node
	closed bool
	ch     chan []Mutation
}

// Batches returns the channel on which mutation batches arrive. The
// channel is closed when the subscription is closed.
func (s *Subscription) Batches() <-chan []Mutation {
	return s.ch
}

// Rebind narrows (or widens) the observed subtree without dropping the
// subscription. Mutations already in flight are unaffected.
func (s *Subscription) Rebind(target *Node) {
	if target == nil {
		target = s.doc.Root()
	}
	s.mu.Lock()
	s.target = target
	s.mu.Unlock()
}

// Close stops delivery and closes the batch channel.
func (s *Subscription) Close() {
	s.doc.mu.Lock()
	delete(s.doc.subs, s)
	s.doc.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) deliver(batch []Mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	scoped := batch[:0:0]
	for _, m := range batch {
		if s.target.Contains(m.Target) {
			scoped = append(scoped, m)
		}
	}
	if len(scoped) == 0 {
		return
	}

	select {
	case s.ch <- scoped:
	default:
	}
}
