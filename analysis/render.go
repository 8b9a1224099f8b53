package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tnqbao/gau-repo-evaluator/entity"
)

const maxDiagramNodes = 12

// RenderDiagram draws the top-level layout as a Mermaid flowchart.
func RenderDiagram(repo entity.RepositoryRef, s *Structure) string {
	type dir struct {
		name  string
		lines int
	}
	dirs := make([]dir, 0, len(s.Directories))
	for name, lines := range s.Directories {
		dirs = append(dirs, dir{name, lines})
	}
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].lines != dirs[j].lines {
			return dirs[i].lines > dirs[j].lines
		}
		return dirs[i].name < dirs[j].name
	})
	if len(dirs) > maxDiagramNodes {
		dirs = dirs[:maxDiagramNodes]
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	fmt.Fprintf(&b, "  root[%q]\n", repo.String())
	for i, d := range dirs {
		label := fmt.Sprintf("%s (%s lines)", d.name, humanize.Comma(int64(d.lines)))
		fmt.Fprintf(&b, "  root --> n%d[%q]\n", i, label)
	}
	return b.String()
}

// BuildCharts returns the series the report UI plots.
func BuildCharts(m entity.Metrics) []entity.ChartSeries {
	languages := entity.ChartSeries{Label: "Lines of code by language"}
	for lang, lines := range m.Languages {
		languages.Points = append(languages.Points, entity.ChartPoint{Label: lang, Value: float64(lines)})
	}
	sortPoints(languages.Points, true)

	largest := entity.ChartSeries{Label: "Largest files"}
	for _, f := range m.LargestFiles {
		largest.Points = append(largest.Points, entity.ChartPoint{Label: f.Path, Value: float64(f.Lines)})
	}
	sortPoints(largest.Points, true)

	composition := entity.ChartSeries{
		Label: "Repository composition",
		Points: []entity.ChartPoint{
			{Label: "code lines", Value: float64(m.CodeLines)},
			{Label: "other lines", Value: float64(m.TotalLines - m.CodeLines)},
			{Label: "test files", Value: float64(m.TestFiles)},
			{Label: "doc files", Value: float64(m.DocFiles)},
		},
	}

	return []entity.ChartSeries{languages, largest, composition}
}

func sortPoints(points []entity.ChartPoint, byValue bool) {
	sort.Slice(points, func(i, j int) bool {
		if byValue && points[i].Value != points[j].Value {
			return points[i].Value > points[j].Value
		}
		return points[i].Label < points[j].Label
	})
}
