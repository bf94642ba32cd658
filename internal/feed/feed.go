// Package feed ingests the browser companion's mutation stream and mirrors
// it into the local page tree. The companion observes the meeting tab and
// sends structural ops; this side never invents page content.
package feed

import (
	"fmt"

	"github.com/sjawhar/caption-relay/internal/caption"
	"github.com/sjawhar/caption-relay/internal/page"
	"github.com/sjawhar/caption-relay/internal/protocol"
)

const (
	OpPage   = "page"
	OpAppend = "append"
	OpText   = "text"
	OpRemove = "remove"
)

type NodeSpec struct {
	Ref      string     `json:"ref"`
	Tag      string     `json:"tag"`
	ID       string     `json:"id,omitempty"`
	Classes  []string   `json:"classes,omitempty"`
	Text     string     `json:"text,omitempty"`
	Children []NodeSpec `json:"children,omitempty"`
}

type Op struct {
	Op     string    `json:"op"`
	URL    string    `json:"url,omitempty"`
	Parent string    `json:"parent,omitempty"`
	Ref    string    `json:"ref,omitempty"`
	Text   string    `json:"text,omitempty"`
	Node   *NodeSpec `json:"node,omitempty"`
}

// Batch is one companion message: the ops of a single observer callback.
type Batch struct {
	TabID int  `json:"tabId"`
	Ops   []Op `json:"ops"`
}

type Publisher interface {
	Publish(n protocol.Notification)
}

// Applier replays companion batches onto a Document. It tracks companion
// node refs so later text and remove ops can address earlier appends, and
// raises a meeting-detected notification when the page URL changes to a
// known platform.
type Applier struct {
	doc       *page.Document
	publisher Publisher
	refs      map[string]*page.Node
	lastURL   string
}

func NewApplier(doc *page.Document, publisher Publisher) *Applier {
	return &Applier{
		doc:       doc,
		publisher: publisher,
		refs:      make(map[string]*page.Node),
	}
}

// Apply replays one batch and flushes the resulting mutations to
// subscribers. Ops with unknown refs abort the batch.
func (a *Applier) Apply(b Batch) error {
	for _, op := range b.Ops {
		if err := a.applyOp(op); err != nil {
			return err
		}
	}
	a.doc.Flush()
	return nil
}

func (a *Applier) applyOp(op Op) error {
	switch op.Op {
	case OpPage:
		a.applyPage(op.URL)
		return nil

	case OpAppend:
		if op.Node == nil {
			return fmt.Errorf("append op without node")
		}
		parent, err := a.resolve(op.Parent)
		if err != nil {
			return err
		}
		a.appendSpec(parent, *op.Node)
		return nil

	case OpText:
		n, err := a.resolve(op.Ref)
		if err != nil {
			return err
		}
		a.doc.SetText(n, op.Text)
		return nil

	case OpRemove:
		n, err := a.resolve(op.Ref)
		if err != nil {
			return err
		}
		a.doc.Remove(n)
		a.dropRefs(n)
		return nil

	default:
		return fmt.Errorf("unknown feed op %q", op.Op)
	}
}

// applyPage handles navigation: the mirrored tree is cleared and the URL
// re-checked for a meeting platform.
func (a *Applier) applyPage(url string) {
	root := a.doc.Root()
	for _, child := range append([]*page.Node(nil), root.Children...) {
		a.doc.Remove(child)
	}
	a.refs = make(map[string]*page.Node)

	a.doc.SetURL(url)
	if url == a.lastURL {
		return
	}
	a.lastURL = url

	platform := caption.DetectPlatform(url)
	if platform != caption.PlatformUnknown && a.publisher != nil {
		a.publisher.Publish(protocol.MeetingDetected{Platform: platform, URL: url})
	}
}

func (a *Applier) appendSpec(parent *page.Node, spec NodeSpec) {
	n := &page.Node{
		Ref:     spec.Ref,
		Tag:     spec.Tag,
		ID:      spec.ID,
		Classes: spec.Classes,
		Text:    spec.Text,
	}
	a.doc.AppendChild(parent, n)
	if spec.Ref != "" {
		a.refs[spec.Ref] = n
	}
	for _, child := range spec.Children {
		a.appendSpec(n, child)
	}
}

// resolve maps a companion ref to a mirrored node. The empty ref addresses
// the page root.
func (a *Applier) resolve(ref string) (*page.Node, error) {
	if ref == "" {
		return a.doc.Root(), nil
	}
	n, ok := a.refs[ref]
	if !ok {
		return nil, fmt.Errorf("unknown node ref %q", ref)
	}
	return n, nil
}

func (a *Applier) dropRefs(n *page.Node) {
	if n.Ref != "" {
		delete(a.refs, n.Ref)
	}
	for _, child := range n.Children {
		a.dropRefs(child)
	}
}
