// Package hierarchy parses raw UI snapshot XML into the flat node lists
// the resolver and interruption detector work on.
package hierarchy

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/stepguard-dev/stepguard/pkg/core"
)

// node is the tree form used during parsing, flattened before return.
type node struct {
	core.UINode
	Children []*node
}

// Parse parses a UI hierarchy XML dump into a flat node list in document
// order. Both dump dialects are accepted: class-named element tags
// (<android.widget.FrameLayout ...>) and generic <node class="..."> tags.
// A malformed bounds attribute zeroes that node's bounds instead of
// failing the parse; one bad node must never abort the whole scan.
func Parse(xmlData string) ([]core.UINode, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	var roots []*node
	foundHierarchy := false
	var parseElement func() (*node, error)

	parseElement = func() (*node, error) {
		for {
			token, err := decoder.Token()
			if err != nil {
				return nil, err
			}

			switch t := token.(type) {
			case xml.StartElement:
				// The hierarchy wrapper itself is not a node
				if t.Name.Local == "hierarchy" {
					foundHierarchy = true
					continue
				}

				elem := &node{}
				elem.Class = t.Name.Local // class name is the element tag

				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "text":
						elem.Text = attr.Value
					case "resource-id":
						elem.ResourceID = attr.Value
					case "content-desc":
						elem.Desc = attr.Value
					case "class":
						elem.Class = attr.Value // override when class attr exists
					case "bounds":
						elem.Bounds = parseBounds(attr.Value)
					case "clickable":
						elem.Clickable = attr.Value == "true"
					case "focusable":
						elem.Focusable = attr.Value == "true"
					case "scrollable":
						elem.Scrollable = attr.Value == "true"
					}
				}

				for {
					child, err := parseElement()
					if err != nil || child == nil {
						break
					}
					elem.Children = append(elem.Children, child)
				}

				return elem, nil

			case xml.EndElement:
				return nil, nil // end of current element
			}
		}
	}

	var parseErr error
	for {
		elem, err := parseElement()
		if err != nil {
			// io.EOF is expected at end of document
			if err.Error() != "EOF" {
				parseErr = err
			}
			break
		}
		if elem != nil {
			roots = append(roots, elem)
		}
	}

	var nodes []core.UINode
	for _, root := range roots {
		nodes = flatten(root, 0, nodes)
	}

	if parseErr != nil && len(nodes) == 0 {
		return nil, core.ErrSnapshotParse.WithCause(parseErr)
	}
	if !foundHierarchy && len(nodes) == 0 {
		return nil, core.ErrSnapshotParse.WithCause(fmt.Errorf("no hierarchy element found"))
	}

	for i := range nodes {
		nodes[i].Index = i
	}
	return nodes, nil
}

// flatten appends the tree rooted at elem to out in document order.
func flatten(elem *node, depth int, out []core.UINode) []core.UINode {
	elem.Depth = depth
	out = append(out, elem.UINode)
	for _, child := range elem.Children {
		out = flatten(child, depth+1, out)
	}
	return out
}

// parseBounds parses the Android bounds attribute "[x1,y1][x2,y2]".
// Anything malformed yields zero bounds.
func parseBounds(s string) core.Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Bounds{}
	}

	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return core.Bounds{}
		}
		vals[i] = v
	}

	return core.BoundsFromCorners(vals[0], vals[1], vals[2], vals[3])
}
