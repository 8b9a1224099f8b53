// Package analysis holds the heuristics the evaluation stages run over an
// unpacked repository. None of them aim for precision.
package analysis

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"__pycache__":  true,
	"dist":         true,
	"target":       true,
}

type File struct {
	Path     string
	Size     int64
	Language string
	Binary   bool
}

// Inventory is the file listing every analyzer works from.
type Inventory struct {
	Root  string
	Files []File
}

func BuildInventory(ctx context.Context, root string) (*Inventory, error) {
	inv := &Inventory{Root: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		inv.Files = append(inv.Files, File{
			Path:     filepath.ToSlash(rel),
			Size:     info.Size(),
			Language: LanguageOf(rel),
			Binary:   isBinary(path, info.Size()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(inv.Files, func(i, j int) bool { return inv.Files[i].Path < inv.Files[j].Path })
	return inv, nil
}

func (inv *Inventory) Abs(f File) string {
	return filepath.Join(inv.Root, filepath.FromSlash(f.Path))
}

// TextFiles skips binaries and anything larger than maxSize.
func (inv *Inventory) TextFiles(maxSize int64) []File {
	var out []File
	for _, f := range inv.Files {
		if f.Binary || (maxSize > 0 && f.Size > maxSize) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isBinary(path string, size int64) bool {
	if size == 0 {
		return false
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return true
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return false
		}
	}
	return true
}

var languageByExt = map[string]string{
	".go":    "Go",
	".py":    "Python",
	".js":    "JavaScript",
	".jsx":   "JavaScript",
	".mjs":   "JavaScript",
	".ts":    "TypeScript",
	".tsx":   "TypeScript",
	".java":  "Java",
	".kt":    "Kotlin",
	".rb":    "Ruby",
	".rs":    "Rust",
	".c":     "C",
	".h":     "C",
	".cc":    "C++",
	".cpp":   "C++",
	".hpp":   "C++",
	".cs":    "C#",
	".php":   "PHP",
	".swift": "Swift",
	".scala": "Scala",
	".sh":    "Shell",
	".sql":   "SQL",
	".html":  "HTML",
	".css":   "CSS",
	".scss":  "CSS",
	".vue":   "Vue",
	".dart":  "Dart",
	".ex":    "Elixir",
	".exs":   "Elixir",
}

// LanguageOf returns "" for files that are not source code.
func LanguageOf(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}
