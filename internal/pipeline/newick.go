package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidTree — дерево в seqfile не разбирается как Newick.
var ErrInvalidTree = errors.New("invalid newick tree")

// Node — узел филогенетического дерева.
type Node struct {
	Name      string
	Length    float64
	HasLength bool
	Children  []*Node
	Parent    *Node
}

// IsLeaf возвращает true для листа.
func (n *Node) IsLeaf() bool { return len(n.Children) == 0 }

// Tree — дерево видов из seqfile.
type Tree struct {
	Root *Node
}

// ParseNewick разбирает строку вида "((a:1,b:2)anc:0.5,c);".
func ParseNewick(s string) (*Tree, error) {
	p := &newickParser{src: strings.TrimSpace(s)}
	root, err := p.node(nil)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ';' {
		p.pos++
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return &Tree{Root: root}, nil
}

type newickParser struct {
	src string
	pos int
}

func (p *newickParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: at offset %d: %s", ErrInvalidTree, p.pos, fmt.Sprintf(format, args...))
}

func (p *newickParser) skipSpace() {
	for p.pos < len(p.src) && strings.ContainsRune(" \t\r\n", rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *newickParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *newickParser) node(parent *Node) (*Node, error) {
	n := &Node{Parent: parent}

	if p.peek() == '(' {
		p.pos++
		for {
			child, err := p.node(n)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)

			switch p.peek() {
			case ',':
				p.pos++
				continue
			case ')':
				p.pos++
			default:
				return nil, p.errorf("expected ',' or ')'")
			}
			break
		}
	}

	n.Name = p.label()
	if p.peek() == ':' {
		p.pos++
		raw := p.label()
		length, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, p.errorf("bad branch length %q", raw)
		}
		n.Length = length
		n.HasLength = true
	}

	if n.IsLeaf() && n.Name == "" {
		return nil, p.errorf("leaf without a name")
	}
	return n, nil
}

func (p *newickParser) label() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("(),:; \t\r\n", rune(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// Clone возвращает глубокую копию дерева.
func (t *Tree) Clone() *Tree {
	return &Tree{Root: cloneNode(t.Root, nil)}
}

func cloneNode(n *Node, parent *Node) *Node {
	c := &Node{Name: n.Name, Length: n.Length, HasLength: n.HasLength, Parent: parent}
	for _, child := range n.Children {
		c.Children = append(c.Children, cloneNode(child, c))
	}
	return c
}

// NameInternal присваивает безымянным внутренним узлам имена prefix+N в
// порядке обхода в ширину, пропуская занятые имена. Корень получает prefix+"0".
func (t *Tree) NameInternal(prefix string) {
	taken := make(map[string]bool)
	t.walk(func(n *Node) {
		if n.Name != "" {
			taken[n.Name] = true
		}
	})

	next := 0
	queue := []*Node{t.Root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if !n.IsLeaf() && n.Name == "" {
			for taken[prefix+strconv.Itoa(next)] {
				next++
			}
			n.Name = prefix + strconv.Itoa(next)
			taken[n.Name] = true
		}
		queue = append(queue, n.Children...)
	}
}

func (t *Tree) walk(fn func(*Node)) {
	var visit func(*Node)
	visit = func(n *Node) {
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(t.Root)
}

// Find возвращает узел по имени.
func (t *Tree) Find(name string) *Node {
	var found *Node
	t.walk(func(n *Node) {
		if found == nil && n.Name == name {
			found = n
		}
	})
	return found
}

// Leaves возвращает имена листьев под n в порядке обхода.
func Leaves(n *Node) []string {
	if n.IsLeaf() {
		return []string{n.Name}
	}
	var out []string
	for _, c := range n.Children {
		out = append(out, Leaves(c)...)
	}
	return out
}

// Names возвращает имена всех узлов под n (включая n).
func Names(n *Node) []string {
	out := []string{n.Name}
	for _, c := range n.Children {
		out = append(out, Names(c)...)
	}
	return out
}

// RemoveLeaf удаляет лист. Родитель, оставшийся с одним ребёнком,
// схлопывается: ребёнок занимает его место с суммарной длиной ветви.
func (t *Tree) RemoveLeaf(name string) bool {
	leaf := t.Find(name)
	if leaf == nil || !leaf.IsLeaf() || leaf.Parent == nil {
		return false
	}

	parent := leaf.Parent
	parent.Children = removeNode(parent.Children, leaf)
	if len(parent.Children) != 1 {
		return true
	}

	only := parent.Children[0]
	only.Length += parent.Length
	only.HasLength = only.HasLength || parent.HasLength
	only.Parent = parent.Parent
	if parent.Parent == nil {
		t.Root = only
		return true
	}
	for i, c := range parent.Parent.Children {
		if c == parent {
			parent.Parent.Children[i] = only
		}
	}
	return true
}

func removeNode(nodes []*Node, target *Node) []*Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// Distance возвращает длину пути между узлами. Ветви без длины считаются
// единичными.
func Distance(a, b *Node) float64 {
	depth := make(map[*Node]float64)
	var d float64
	for n := a; n != nil; n = n.Parent {
		depth[n] = d
		d += branch(n)
	}

	d = 0
	for n := b; n != nil; n = n.Parent {
		if da, ok := depth[n]; ok {
			return d + da
		}
		d += branch(n)
	}
	return d
}

func branch(n *Node) float64 {
	if n.HasLength {
		return n.Length
	}
	return 1
}

// IsAncestor возвращает true, если a лежит на пути от n к корню (или a == n).
func IsAncestor(a, n *Node) bool {
	for ; n != nil; n = n.Parent {
		if n == a {
			return true
		}
	}
	return false
}

// Newick сериализует поддерево с корнем n.
func Newick(n *Node) string {
	var b strings.Builder
	writeNewick(&b, n, nil)
	b.WriteByte(';')
	return b.String()
}

// SpanningNewick сериализует минимальное поддерево, содержащее root и все
// keep-узлы; его корень — наименьший общий предок.
func SpanningNewick(root *Node, keep []*Node) string {
	marked := make(map[*Node]bool)
	var mark func(*Node)
	mark = func(n *Node) {
		marked[n] = true
		for _, c := range n.Children {
			mark(c)
		}
	}
	mark(root)

	top := root
	for _, k := range keep {
		for n := k; n != nil; n = n.Parent {
			marked[n] = true
		}
		for !IsAncestor(top, k) {
			top = top.Parent
		}
	}

	var b strings.Builder
	writeNewick(&b, top, marked)
	b.WriteByte(';')
	return b.String()
}

func writeNewick(b *strings.Builder, n *Node, marked map[*Node]bool) {
	var children []*Node
	for _, c := range n.Children {
		if marked == nil || marked[c] {
			children = append(children, c)
		}
	}
	if len(children) > 0 {
		b.WriteByte('(')
		for i, c := range children {
			if i > 0 {
				b.WriteByte(',')
			}
			writeNewick(b, c, marked)
		}
		b.WriteByte(')')
	}
	b.WriteString(n.Name)
	if n.HasLength {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(n.Length, 'g', -1, 64))
	}
}

// sortedKeys возвращает ключи map в алфавитном порядке.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
