// Package factory implements canopy's XML instantiation pipeline:
// parsing a BTCPP-4 document, validating references to registered
// behaviors, wiring subtree remappings, and producing a ready-to-tick Tree.
package factory

import (
	"encoding/xml"
	"fmt"

	"github.com/normanking/canopy/pkg/bterr"
)

// rawNode is a generic, order-preserving DOM node: every behavior-tree
// element (control, decorator, action, condition, or <SubTree>) parses into
// one of these regardless of its tag name, since the factory doesn't know
// the element vocabulary until it consults the registry.
type rawNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []rawNode  `xml:",any"`
}

// Attr looks up an attribute by name, distinguishing "absent" from
// "present but empty" the way pkg/ports.Bind requires.
func (n rawNode) Attr(name string) *string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			v := a.Value
			return &v
		}
	}
	return nil
}

// rootDoc is the top-level <root BTCPP_format="4"> element.
type rootDoc struct {
	XMLName xml.Name       `xml:"root"`
	Format  string         `xml:"BTCPP_format,attr"`
	Trees   []behaviorTree `xml:"BehaviorTree"`
	// Models is parsed but not otherwise consulted: the TreeNodesModel
	// element is "consumed for introspection" only, and its
	// per-node "editable" attribute is explicitly ignored.
	Models *treeNodesModel `xml:"TreeNodesModel"`
}

// treeNodesModel is accepted and discarded beyond its presence: canopy's
// core has no introspection consumer for it.
type treeNodesModel struct {
	XMLName xml.Name `xml:"TreeNodesModel"`
}

// behaviorTree is one <BehaviorTree ID="..."> element. It has exactly one
// child element: the tree's root node.
type behaviorTree struct {
	ID    string    `xml:"ID,attr"`
	Nodes []rawNode `xml:",any"`
}

// parseDocument parses raw BTCPP-4 XML text into the set of tree templates
// it defines, rejecting unsupported format versions or malformed XML.
func parseDocument(data []byte) (map[string]behaviorTree, error) {
	var doc rootDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, bterr.Wrap(bterr.XmlParse, err, "malformed BTCPP-4 XML document")
	}
	if doc.Format != "4" {
		return nil, bterr.New(bterr.XmlParse, "unsupported BTCPP_format %q, only \"4\" is supported", doc.Format)
	}

	trees := make(map[string]behaviorTree, len(doc.Trees))
	for _, bt := range doc.Trees {
		if bt.ID == "" {
			return nil, bterr.New(bterr.XmlParse, "<BehaviorTree> element missing required ID attribute")
		}
		if len(bt.Nodes) != 1 {
			return nil, bterr.New(bterr.XmlParse, "<BehaviorTree ID=%q> must have exactly one root child element, found %d", bt.ID, len(bt.Nodes))
		}
		if _, dup := trees[bt.ID]; dup {
			return nil, bterr.New(bterr.DuplicateName, "tree %q defined more than once in this document", bt.ID)
		}
		trees[bt.ID] = bt
	}
	if len(trees) == 0 {
		return nil, bterr.New(bterr.XmlParse, "document defines no <BehaviorTree> elements")
	}
	return trees, nil
}

func isSubTreeTag(n rawNode) bool {
	return n.XMLName.Local == "SubTree"
}

func displayName(n rawNode) string {
	if v := n.Attr("name"); v != nil {
		return *v
	}
	return n.XMLName.Local
}

func subtreeID(n rawNode) (string, error) {
	v := n.Attr("ID")
	if v == nil {
		return "", fmt.Errorf("<SubTree> missing required ID attribute")
	}
	return *v, nil
}
