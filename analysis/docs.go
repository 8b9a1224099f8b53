package analysis

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

const maxReadmeSize = 512 << 10

type Documentation struct {
	HasReadme       bool
	HasLicense      bool
	HasContributing bool
	HasChangelog    bool
	DocFiles        int
	ReadmeHeadings  []string
	ReadmeHasUsage  bool
	HasCI           bool
	CIProviders     []string
	CIJobs          int
	Warnings        []string
}

func AssessDocumentation(inv *Inventory) (*Documentation, error) {
	d := &Documentation{}
	var readme *File
	providers := map[string]bool{}

	for i, f := range inv.Files {
		lower := strings.ToLower(f.Path)
		base := path.Base(lower)
		stem := strings.TrimSuffix(base, path.Ext(base))
		topLevel := !strings.Contains(lower, "/")

		switch {
		case topLevel && stem == "readme":
			d.HasReadme = true
			if readme == nil || strings.HasSuffix(base, ".md") {
				readme = &inv.Files[i]
			}
		case topLevel && (stem == "license" || stem == "licence" || stem == "copying"):
			d.HasLicense = true
		case topLevel && stem == "contributing":
			d.HasContributing = true
		case topLevel && (stem == "changelog" || stem == "changes"):
			d.HasChangelog = true
		}

		if strings.HasSuffix(base, ".md") || strings.HasSuffix(base, ".rst") || strings.HasPrefix(lower, "docs/") {
			d.DocFiles++
		}

		switch {
		case strings.HasPrefix(lower, ".github/workflows/") && (strings.HasSuffix(base, ".yml") || strings.HasSuffix(base, ".yaml")):
			providers["github_actions"] = true
			jobs, err := countWorkflowJobs(inv.Abs(f))
			if err != nil {
				d.Warnings = append(d.Warnings, fmt.Sprintf("%s: unreadable workflow", f.Path))
			}
			d.CIJobs += jobs
		case lower == ".gitlab-ci.yml":
			providers["gitlab_ci"] = true
		case strings.HasPrefix(lower, ".circleci/"):
			providers["circleci"] = true
		case lower == "jenkinsfile":
			providers["jenkins"] = true
		case lower == ".travis.yml":
			providers["travis"] = true
		}
	}

	for p := range providers {
		d.CIProviders = append(d.CIProviders, p)
	}
	d.HasCI = len(d.CIProviders) > 0
	sort.Strings(d.CIProviders)

	if readme != nil && readme.Size <= maxReadmeSize && strings.HasSuffix(strings.ToLower(readme.Path), ".md") {
		src, err := os.ReadFile(inv.Abs(*readme))
		if err != nil {
			return nil, err
		}
		d.ReadmeHeadings = markdownHeadings(src)
		for _, h := range d.ReadmeHeadings {
			lower := strings.ToLower(h)
			if strings.Contains(lower, "usage") || strings.Contains(lower, "install") || strings.Contains(lower, "getting started") || strings.Contains(lower, "quick start") {
				d.ReadmeHasUsage = true
			}
		}
	}
	return d, nil
}

func markdownHeadings(src []byte) []string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var headings []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		h, ok := n.(*ast.Heading)
		if !ok || !entering {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		for c := h.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(src))
			}
		}
		if title := strings.TrimSpace(buf.String()); title != "" {
			headings = append(headings, title)
		}
		return ast.WalkSkipChildren, nil
	})
	return headings
}

type workflowFile struct {
	Jobs map[string]yaml.Node `yaml:"jobs"`
}

func countWorkflowJobs(p string) (int, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return 0, err
	}
	var wf workflowFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return 0, err
	}
	return len(wf.Jobs), nil
}
