package analysis

import (
	"bufio"
	"context"
	"os"
	"sort"
	"strings"

	"github.com/tnqbao/gau-repo-evaluator/entity"
)

const (
	maxLineScanSize = 2 << 20
	largestFilesN   = 5
)

type Structure struct {
	TotalFiles      int
	SourceFiles     int
	TotalLines      int
	CodeLines       int
	CommentLines    int
	Languages       map[string]int
	PrimaryLanguage string
	LargestFiles    []entity.FileSize
	Directories     map[string]int
}

func AnalyzeStructure(ctx context.Context, inv *Inventory) (*Structure, error) {
	s := &Structure{
		TotalFiles:  len(inv.Files),
		Languages:   map[string]int{},
		Directories: map[string]int{},
	}
	var sizes []entity.FileSize

	for _, f := range inv.TextFiles(maxLineScanSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		total, code, comments, err := countLines(inv.Abs(f))
		if err != nil {
			return nil, err
		}
		s.TotalLines += total
		s.Directories[topDir(f.Path)] += total
		if f.Language == "" {
			continue
		}
		s.SourceFiles++
		s.CodeLines += code
		s.CommentLines += comments
		s.Languages[f.Language] += code
		sizes = append(sizes, entity.FileSize{Path: f.Path, Lines: total})
	}

	s.PrimaryLanguage = primaryLanguage(s.Languages)

	sort.Slice(sizes, func(i, j int) bool {
		if sizes[i].Lines != sizes[j].Lines {
			return sizes[i].Lines > sizes[j].Lines
		}
		return sizes[i].Path < sizes[j].Path
	})
	if len(sizes) > largestFilesN {
		sizes = sizes[:largestFilesN]
	}
	s.LargestFiles = sizes
	return s, nil
}

func (s *Structure) CommentRatio() float64 {
	if s.CodeLines+s.CommentLines == 0 {
		return 0
	}
	return float64(s.CommentLines) / float64(s.CodeLines+s.CommentLines)
}

func countLines(path string) (total, code, comments int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	inBlock := false
	for scanner.Scan() {
		total++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case inBlock:
			comments++
			if strings.Contains(line, "*/") {
				inBlock = false
			}
		case strings.HasPrefix(line, "/*"):
			comments++
			inBlock = !strings.Contains(line, "*/")
		case strings.HasPrefix(line, "//"), strings.HasPrefix(line, "#"), strings.HasPrefix(line, "--"):
			comments++
		default:
			code++
		}
	}
	// A line over 1MB stops the scan; what was counted so far stands.
	return total, code, comments, nil
}

func primaryLanguage(langs map[string]int) string {
	best, bestLines := "", -1
	for lang, lines := range langs {
		if lines > bestLines || (lines == bestLines && lang < best) {
			best, bestLines = lang, lines
		}
	}
	return best
}

func topDir(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}
