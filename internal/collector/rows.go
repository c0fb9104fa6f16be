package collector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rowSelectors 描述列表页中一行公告的结构
type rowSelectors struct {
	Row      string
	Title    string
	Link     string
	LinkAttr string
	Date     string
}

// 通用公告板布局（表格形式：每行一条公告，标题列带链接）
var defaultBoardSelectors = rowSelectors{
	Row:      ".board-table tbody tr",
	Title:    "td.subject",
	Link:     "a",
	LinkAttr: "href",
}

// selectorsFor 用站点 params 覆盖默认选择器
func selectorsFor(src Source, def rowSelectors) rowSelectors {
	return rowSelectors{
		Row:      src.Param("row", def.Row),
		Title:    src.Param("title", def.Title),
		Link:     src.Param("link", def.Link),
		LinkAttr: src.Param("link_attr", def.LinkAttr),
		Date:     src.Param("date", def.Date),
	}
}

// parseRow 从一行中取出标题、链接与可选日期；取不到标题或链接时返回 false
func parseRow(row *goquery.Selection, sel rowSelectors) (Record, bool) {
	linkSel := row
	if sel.Link != "" {
		linkSel = row.Find(sel.Link).First()
	}
	if linkSel.Length() == 0 {
		return Record{}, false
	}
	attr := sel.LinkAttr
	if attr == "" {
		attr = "href"
	}
	link, ok := linkSel.Attr(attr)
	if !ok || strings.TrimSpace(link) == "" {
		return Record{}, false
	}

	// 未配置标题列时使用链接文字
	title := ""
	if sel.Title != "" {
		title = row.Find(sel.Title).First().Text()
	} else {
		title = linkSel.Text()
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Record{}, false
	}

	rec := Record{Title: title, Link: strings.TrimSpace(link)}
	if sel.Date != "" {
		if d := row.Find(sel.Date).First(); d.Length() > 0 {
			rec.Date = StrPtr(strings.TrimSpace(d.Text()))
		}
	}
	return rec, true
}

// parseRows 按文档顺序解析所有行
func parseRows(doc *goquery.Selection, sel rowSelectors) []Record {
	var out []Record
	doc.Find(sel.Row).Each(func(_ int, s *goquery.Selection) {
		if rec, ok := parseRow(s, sel); ok {
			out = append(out, rec)
		}
	})
	return out
}

// parseHTML 解析已渲染好的完整 HTML 页面
func parseHTML(html string, sel rowSelectors) ([]Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return parseRows(doc.Selection, sel), nil
}
