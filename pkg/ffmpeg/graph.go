package ffmpeg

import "strings"

// Chain 滤镜链：[in...]f1,f2[out...]
type Chain struct {
	In      []string
	Filters []Filter
	Out     []string
}

// String 渲染单条滤镜链
func (c Chain) String() string {
	var b strings.Builder
	for _, in := range c.In {
		b.WriteString("[" + in + "]")
	}
	for i, f := range c.Filters {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(f.String())
	}
	for _, out := range c.Out {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

// Graph 复杂滤镜图
type Graph struct {
	Chains []Chain
}

// Add 追加一条滤镜链
func (g *Graph) Add(in []string, out []string, filters ...Filter) *Graph {
	g.Chains = append(g.Chains, Chain{In: in, Filters: filters, Out: out})
	return g
}

// String 渲染为 -filter_complex 参数
func (g *Graph) String() string {
	parts := make([]string, 0, len(g.Chains))
	for _, c := range g.Chains {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ";")
}

// Find 返回第一个指定名称的滤镜
func (g *Graph) Find(name string) (Filter, bool) {
	for _, c := range g.Chains {
		for _, f := range c.Filters {
			if f.Name == name {
				return f, true
			}
		}
	}
	return Filter{}, false
}

// FindAll 返回所有指定名称的滤镜，按出现顺序
func (g *Graph) FindAll(name string) []Filter {
	var out []Filter
	for _, c := range g.Chains {
		for _, f := range c.Filters {
			if f.Name == name {
				out = append(out, f)
			}
		}
	}
	return out
}
