package processor

import "github.com/LJTian/NoticeWatch/internal/collector"

// SeenSet 是某个站点已通知过的指纹集合（只读视图）
type SeenSet interface {
	Has(fp string) bool
}

// NewItem 是一条新公告及其指纹
type NewItem struct {
	Record      collector.Record
	Fingerprint string
}

// Delta 是一次抓取相对已知状态的差异
type Delta struct {
	Source  string
	Fetched int
	New     []NewItem
}

// Diff 按抓取顺序找出指纹不在 seen 中的记录。
// seen 是本轮开始时加载的状态；同一批次内重复出现的记录只标记一次。
func Diff(source string, records []collector.Record, seen SeenSet) Delta {
	d := Delta{Source: source, Fetched: len(records)}
	flagged := make(map[string]struct{})

	for _, r := range records {
		fp := Fingerprint(r)
		if seen != nil && seen.Has(fp) {
			continue
		}
		if _, ok := flagged[fp]; ok {
			continue
		}
		flagged[fp] = struct{}{}
		d.New = append(d.New, NewItem{Record: r, Fingerprint: fp})
	}
	return d
}

// Fingerprints 返回所有新记录的指纹
func (d Delta) Fingerprints() []string {
	out := make([]string, 0, len(d.New))
	for _, it := range d.New {
		out = append(out, it.Fingerprint)
	}
	return out
}
