// Package builtin provides tools that ship with the assistant itself rather
// than with a business system.
package builtin

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/kgassist/model"
	"github.com/hupe1980/kgassist/tool"
)

// NavigateToolName is the registered name of the navigation tool.
const NavigateToolName = "navigate"

// Route is an admin page the assistant can send the user to.
type Route struct {
	Path  string `json:"path"`
	Title string `json:"title"`

	// Keywords drive the offline mock provider; real models ignore them.
	Keywords []string `json:"keywords,omitempty"`
}

// DefaultRoutes is the admin page table of the kindergarten console.
var DefaultRoutes = map[string]Route{
	"dashboard":  {Path: "/dashboard", Title: "工作台", Keywords: []string{"工作台", "首页"}},
	"students":   {Path: "/students", Title: "学生管理", Keywords: []string{"学生管理", "学生页面"}},
	"classes":    {Path: "/classes", Title: "班级管理", Keywords: []string{"班级管理", "班级页面"}},
	"attendance": {Path: "/attendance", Title: "考勤管理", Keywords: []string{"考勤"}},
	"reports":    {Path: "/reports", Title: "报表中心", Keywords: []string{"报表中心", "报表页面"}},
	"parents":    {Path: "/parents", Title: "家长通讯录", Keywords: []string{"家长通讯录"}},
	"meals":      {Path: "/meals", Title: "膳食安排", Keywords: []string{"膳食", "食谱"}},
	"notices":    {Path: "/notices", Title: "通知公告", Keywords: []string{"通知公告"}},
	"settings":   {Path: "/settings", Title: "系统设置", Keywords: []string{"系统设置"}},
}

// Navigate returns the navigation tool over routes. A nil table uses
// DefaultRoutes. The tool only resolves a page; the client performs the
// navigation.
func Navigate(routes map[string]Route) tool.Definition {
	if routes == nil {
		routes = DefaultRoutes
	}
	table := make(map[string]Route, len(routes))
	pages := make([]any, 0, len(routes))
	for k, r := range routes {
		table[k] = r
		pages = append(pages, k)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].(string) < pages[j].(string) })

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"page": map[string]any{
				"type":        "string",
				"description": "Admin page to open",
				"enum":        pages,
			},
		},
		"required": []string{"page"},
	}

	return tool.NewFunctionTool(
		NavigateToolName,
		"Open a page of the kindergarten admin console for the user",
		schema,
		func(ctx context.Context, params map[string]any) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			page, _ := params["page"].(string)
			r, ok := table[page]
			if !ok {
				return nil, fmt.Errorf("unknown page %q", page)
			}
			return map[string]any{"action": "navigate", "page": page, "path": r.Path, "title": r.Title}, nil
		},
		func(d *tool.Definition) {
			d.CapabilityTags = []string{"navigation"}
		},
	)
}

// MockRules maps the route keywords to navigate calls for model.MockProvider,
// sorted by page.
func MockRules(routes map[string]Route) []model.MockRule {
	if routes == nil {
		routes = DefaultRoutes
	}
	pages := make([]string, 0, len(routes))
	for k := range routes {
		pages = append(pages, k)
	}
	sort.Strings(pages)

	var rules []model.MockRule
	for _, page := range pages {
		if kw := routes[page].Keywords; len(kw) > 0 {
			rules = append(rules, model.MockRule{Keywords: kw, Tool: NavigateToolName, Params: map[string]any{"page": page}})
		}
	}
	return rules
}
