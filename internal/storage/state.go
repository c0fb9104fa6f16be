package storage

import "sort"

// State 记录每个站点已经通知过的指纹集合：source -> set(fingerprint)。
// 只在编排 goroutine 中修改，不做并发保护。
type State map[string]map[string]struct{}

func NewState() State {
	return make(State)
}

// Ensure 确保站点在状态中存在（即便还没有任何指纹）
func (s State) Ensure(source string) {
	if _, ok := s[source]; !ok {
		s[source] = make(map[string]struct{})
	}
}

// Contains 判断指纹是否已记录
func (s State) Contains(source, fp string) bool {
	set, ok := s[source]
	if !ok {
		return false
	}
	_, ok = set[fp]
	return ok
}

// Add 记录指纹，重复添加无副作用；返回是否为新增
func (s State) Add(source, fp string) bool {
	s.Ensure(source)
	if _, ok := s[source][fp]; ok {
		return false
	}
	s[source][fp] = struct{}{}
	return true
}

// Len 返回站点已记录的指纹数量
func (s State) Len(source string) int {
	return len(s[source])
}

// Sources 返回所有站点（排序后）
func (s State) Sources() []string {
	out := make([]string, 0, len(s))
	for src := range s {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// Fingerprints 返回站点的全部指纹（排序后，便于稳定输出）
func (s State) Fingerprints(source string) []string {
	set := s[source]
	out := make([]string, 0, len(set))
	for fp := range set {
		out = append(out, fp)
	}
	sort.Strings(out)
	return out
}

// Clone 深拷贝
func (s State) Clone() State {
	out := make(State, len(s))
	for src, set := range s {
		cp := make(map[string]struct{}, len(set))
		for fp := range set {
			cp[fp] = struct{}{}
		}
		out[src] = cp
	}
	return out
}

// Seen 返回站点的只读视图，供 Diff 使用
func (s State) Seen(source string) SeenView {
	return SeenView(s[source])
}

// SeenView 是单个站点指纹集合的只读视图
type SeenView map[string]struct{}

func (v SeenView) Has(fp string) bool {
	_, ok := v[fp]
	return ok
}

// toLists 转为持久化格式：source -> []fingerprint
func (s State) toLists() map[string][]string {
	out := make(map[string][]string, len(s))
	for src := range s {
		out[src] = s.Fingerprints(src)
	}
	return out
}
