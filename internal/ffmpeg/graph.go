package ffmpeg

import (
	"fmt"
	"strings"
)

// StreamKind is the media type carried by a pad.
type StreamKind uint8

const (
	Video StreamKind = iota
	Audio
)

func (k StreamKind) String() string {
	if k == Audio {
		return "a"
	}
	return "v"
}

// Pad is a labelled edge in a filter graph.
type Pad struct {
	Label string
	Kind  StreamKind
}

func (p Pad) String() string { return "[" + p.Label + "]" }

// InputPad refers to stream kind of the index-th -i input.
func InputPad(index int, kind StreamKind) Pad {
	return Pad{Label: fmt.Sprintf("%d:%s", index, kind), Kind: kind}
}

// Node is one filter chain: inputs, comma-joined filters, one output.
type Node struct {
	Inputs  []Pad
	Filters []string
	Output  Pad
}

func (n Node) String() string {
	var b strings.Builder
	for _, in := range n.Inputs {
		b.WriteString(in.String())
	}
	b.WriteString(strings.Join(n.Filters, ","))
	b.WriteString(n.Output.String())
	return b.String()
}

// Graph accumulates filter chains and serializes them for -filter_complex.
type Graph struct {
	nodes []Node
	seq   map[string]int
	errs  []string
}

func NewGraph() *Graph {
	return &Graph{seq: make(map[string]int)}
}

// Pad allocates a fresh intermediate label such as "v3".
func (g *Graph) Pad(prefix string, kind StreamKind) Pad {
	n := g.seq[prefix]
	g.seq[prefix] = n + 1
	return Pad{Label: fmt.Sprintf("%s%d", prefix, n), Kind: kind}
}

// Add appends a chain reading inputs and writing out. Inputs must carry the
// same stream kind as the output.
func (g *Graph) Add(inputs []Pad, out Pad, filters ...string) Pad {
	for _, in := range inputs {
		if in.Kind != out.Kind {
			g.errs = append(g.errs, fmt.Sprintf("%s feeds %s chain %s", in, out.Kind, out))
		}
	}
	if len(filters) == 0 {
		filters = []string{passthrough(out.Kind)}
	}
	g.nodes = append(g.nodes, Node{Inputs: inputs, Filters: filters, Output: out})
	return out
}

// Source appends a chain with no inputs, e.g. a color generator.
func (g *Graph) Source(out Pad, filters ...string) Pad {
	return g.Add(nil, out, filters...)
}

// CountFilter reports how many times the named filter appears.
func (g *Graph) CountFilter(name string) int {
	count := 0
	for _, n := range g.nodes {
		for _, f := range n.Filters {
			fname, _, _ := strings.Cut(f, "=")
			if fname == name {
				count++
			}
		}
	}
	return count
}

// Validate checks that every intermediate label is produced once before it is
// consumed, and consumed at most once.
func (g *Graph) Validate() error {
	if len(g.errs) > 0 {
		return fmt.Errorf("filter graph: %s", strings.Join(g.errs, "; "))
	}
	produced := make(map[string]bool)
	consumed := make(map[string]bool)
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if isInputLabel(in.Label) {
				continue
			}
			if !produced[in.Label] {
				return fmt.Errorf("filter graph: %s consumed before it is produced", in)
			}
			if consumed[in.Label] {
				return fmt.Errorf("filter graph: %s consumed twice", in)
			}
			consumed[in.Label] = true
		}
		if produced[n.Output.Label] {
			return fmt.Errorf("filter graph: %s produced twice", n.Output)
		}
		produced[n.Output.Label] = true
	}
	return nil
}

func (g *Graph) String() string {
	parts := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		parts[i] = n.String()
	}
	return strings.Join(parts, ";")
}

func isInputLabel(label string) bool {
	idx, kind, ok := strings.Cut(label, ":")
	if !ok || (kind != "v" && kind != "a") {
		return false
	}
	for _, r := range idx {
		if r < '0' || r > '9' {
			return false
		}
	}
	return idx != ""
}

func passthrough(kind StreamKind) string {
	if kind == Audio {
		return "anull"
	}
	return "null"
}
