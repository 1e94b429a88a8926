// Package selector implements a small CSS-like grammar for locating
// nodes in a widget.WidgetTree: type selectors, id selectors, text and
// property predicates, and the descendant/direct-child combinators.
package selector

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/richard-senior/mcp/pkg/widget"
)

// TokenKind distinguishes the predicate or combinator a SelectorToken
// carries.
type TokenKind int

const (
	Type TokenKind = iota
	Id
	TextEquals
	TextContains
	PropertyEquals
	DirectChild
	Descendant
)

// SelectorToken is one atom of a parsed selector: either a predicate
// that a single node must satisfy, or a combinator joining two
// compound selectors.
type SelectorToken struct {
	Kind     TokenKind
	Value    string // Type name, id, or text/property match value
	Property string // property name, only set for PropertyEquals
}

// Selector is a sequence of compound selectors joined by combinators,
// e.g. "Scaffold > ListView Text[contains=\"Save\"]" parses into three
// predicate groups joined by DirectChild then Descendant.
type Selector struct {
	groups      [][]SelectorToken
	combinators []TokenKind
}

// Parse compiles a selector string into a Selector. Grammar (informal):
//
//	selector    := compound ( combinator compound )*
//	combinator  := '>' | <whitespace>
//	compound    := predicate+
//	predicate   := type | '#' id | '[' attr ']'
//	attr        := 'contains' '=' string
//	             | 'text' '=' string
//	             | 'text' 'contains' string
//	             | ident '=' string
func Parse(input string) (*Selector, error) {
	tokens, err := tokenizeCompounds(input)
	if err != nil {
		return nil, err
	}
	if len(tokens.groups) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	return tokens, nil
}

func tokenizeCompounds(input string) (*Selector, error) {
	sel := &Selector{}
	parts := splitTopLevel(input)
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == ">" {
			sel.combinators = append(sel.combinators, DirectChild)
			continue
		}
		if part == "" {
			continue
		}
		group, err := parseCompound(part)
		if err != nil {
			return nil, fmt.Errorf("selector part %d (%q): %w", i, part, err)
		}
		if len(sel.groups) > 0 && len(sel.combinators) < len(sel.groups) {
			sel.combinators = append(sel.combinators, Descendant)
		}
		sel.groups = append(sel.groups, group)
	}
	return sel, nil
}

// splitTopLevel splits on whitespace while keeping a standalone '>'
// token and bracketed attribute selectors intact.
func splitTopLevel(input string) []string {
	var parts []string
	var cur strings.Builder
	depth := 0
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, r := range input {
		switch {
		case r == '[':
			depth++
			cur.WriteRune(r)
		case r == ']':
			depth--
			cur.WriteRune(r)
		case depth == 0 && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		case depth == 0 && r == '>':
			flush()
			parts = append(parts, ">")
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return parts
}

func parseCompound(part string) ([]SelectorToken, error) {
	var tokens []SelectorToken
	i := 0
	for i < len(part) {
		switch {
		case part[i] == '#':
			j := i + 1
			for j < len(part) && part[j] != '[' && part[j] != '#' {
				j++
			}
			tokens = append(tokens, SelectorToken{Kind: Id, Value: part[i+1 : j]})
			i = j
		case part[i] == '[':
			j := strings.IndexByte(part[i:], ']')
			if j < 0 {
				return nil, fmt.Errorf("unterminated attribute selector")
			}
			attr := part[i+1 : i+j]
			tok, err := parseAttribute(attr)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = i + j + 1
		default:
			j := i
			for j < len(part) && part[j] != '[' && part[j] != '#' {
				j++
			}
			name := part[i:j]
			if name != "" {
				tokens = append(tokens, SelectorToken{Kind: Type, Value: name})
			}
			i = j
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty compound selector")
	}
	return tokens, nil
}

func parseAttribute(attr string) (SelectorToken, error) {
	attr = strings.TrimSpace(attr)
	if strings.HasPrefix(attr, "contains=") {
		val, err := unquote(strings.TrimPrefix(attr, "contains="))
		if err != nil {
			return SelectorToken{}, err
		}
		return SelectorToken{Kind: TextContains, Value: val}, nil
	}
	if rest, ok := trimPrefixField(attr, "text"); ok {
		rest = strings.TrimSpace(rest)
		if strings.HasPrefix(rest, "contains") {
			val, err := unquote(strings.TrimSpace(strings.TrimPrefix(rest, "contains")))
			if err != nil {
				return SelectorToken{}, err
			}
			return SelectorToken{Kind: TextContains, Value: val}, nil
		}
		if strings.HasPrefix(rest, "=") {
			val, err := unquote(strings.TrimPrefix(rest, "="))
			if err != nil {
				return SelectorToken{}, err
			}
			return SelectorToken{Kind: TextEquals, Value: val}, nil
		}
		return SelectorToken{}, fmt.Errorf("malformed text predicate: %q", attr)
	}
	eq := strings.IndexByte(attr, '=')
	if eq < 0 {
		return SelectorToken{}, fmt.Errorf("malformed attribute selector: %q", attr)
	}
	name := strings.TrimSpace(attr[:eq])
	val, err := unquote(attr[eq+1:])
	if err != nil {
		return SelectorToken{}, err
	}
	return SelectorToken{Kind: PropertyEquals, Property: name, Value: val}, nil
}

func trimPrefixField(s, field string) (string, bool) {
	if !strings.HasPrefix(s, field) {
		return "", false
	}
	rest := s[len(field):]
	if rest == "" || rest[0] == ' ' || rest[0] == '=' {
		return rest, true
	}
	return "", false
}

func unquote(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return strconv.Unquote(`"` + strings.ReplaceAll(s[1:len(s)-1], `"`, `\"`) + `"`)
	}
	return s, nil
}

// Match returns every node in the tree matching the selector, in
// deterministic depth-first pre-order, with duplicates removed.
func (s *Selector) Match(tree *widget.WidgetTree) []*widget.WidgetNode {
	root := tree.Root()
	if root == nil {
		return nil
	}
	var order []*widget.WidgetNode
	seen := make(map[string]bool)
	s.walk(tree, root, nil, func(n *widget.WidgetNode) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		order = append(order, n)
	})
	return order
}

// MatchFirst returns the first matching node in depth-first pre-order,
// or nil if none match.
func (s *Selector) MatchFirst(tree *widget.WidgetTree) *widget.WidgetNode {
	matches := s.Match(tree)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// walk performs a depth-first pre-order traversal, invoking visit on
// every node satisfying the full combinator chain ending at that node.
func (s *Selector) walk(tree *widget.WidgetTree, node *widget.WidgetNode, ancestors []*widget.WidgetNode, visit func(*widget.WidgetNode)) {
	if s.matchesAt(tree, node, ancestors) {
		visit(node)
	}
	nextAncestors := append(append([]*widget.WidgetNode{}, ancestors...), node)
	for _, childID := range node.ChildrenIDs {
		child, ok := tree.Nodes[childID]
		if !ok {
			continue
		}
		s.walk(tree, child, nextAncestors, visit)
	}
}

// matchesAt checks whether node (with the given ancestor chain, root
// first) satisfies the full selector, honoring DirectChild/Descendant
// combinators between groups.
//
// Earlier groups are matched against the *set* of ancestor positions
// still reachable from the groups matched so far, not against a single
// greedily-chosen nearest ancestor: committing to the nearest match for
// an inner group can make an outer DirectChild/Descendant check fail
// even though a different, farther ancestor would have satisfied the
// whole chain. For "A > B C" against root(A) -> B1(B) -> B2(B) -> N(C),
// the C-then-B step must keep both B1 and B2 as live candidates so the
// B-then-A step can still find B1 as A's direct child.
func (s *Selector) matchesAt(tree *widget.WidgetTree, node *widget.WidgetNode, ancestors []*widget.WidgetNode) bool {
	lastGroup := s.groups[len(s.groups)-1]
	if !matchesCompound(node, lastGroup) {
		return false
	}
	if len(s.groups) == 1 {
		return true
	}

	// positions are indices into ancestors (0 = root); the node itself
	// starts as the single live position at len(ancestors).
	positions := []int{len(ancestors)}
	for groupIdx := len(s.groups) - 2; groupIdx >= 0; groupIdx-- {
		combinator := s.combinators[groupIdx]
		group := s.groups[groupIdx]

		var next []int
		added := make(map[int]bool)
		for _, pos := range positions {
			if combinator == DirectChild {
				idx := pos - 1
				if idx >= 0 && !added[idx] && matchesCompound(ancestors[idx], group) {
					added[idx] = true
					next = append(next, idx)
				}
				continue
			}
			for idx := pos - 1; idx >= 0; idx-- {
				if added[idx] {
					continue
				}
				if matchesCompound(ancestors[idx], group) {
					added[idx] = true
					next = append(next, idx)
				}
			}
		}
		if len(next) == 0 {
			return false
		}
		positions = next
	}
	return true
}

func matchesCompound(node *widget.WidgetNode, tokens []SelectorToken) bool {
	for _, tok := range tokens {
		if !matchesToken(node, tok) {
			return false
		}
	}
	return true
}

func matchesToken(node *widget.WidgetNode, tok SelectorToken) bool {
	switch tok.Kind {
	case Type:
		return tok.Value == "*" || node.Type == tok.Value
	case Id:
		return node.ID == tok.Value
	case TextEquals:
		return node.Text == tok.Value
	case TextContains:
		return strings.Contains(node.Text, tok.Value)
	case PropertyEquals:
		if node.Properties == nil {
			return false
		}
		val, ok := node.Properties[tok.Property]
		if !ok {
			return false
		}
		return fmt.Sprintf("%v", val) == tok.Value
	default:
		return false
	}
}
