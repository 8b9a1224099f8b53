package analysis

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const maxManifestSize = 1 << 20

type Dependencies struct {
	Manifests  []string
	Ecosystems []string
	Count      int
	Warnings   []string
}

type manifestParser struct {
	ecosystem string
	count     func(data []byte) (int, error)
}

var manifestParsers = map[string]manifestParser{
	"go.mod":           {"go", countGoMod},
	"package.json":     {"npm", countPackageJSON},
	"requirements.txt": {"pip", countRequirements},
	"pyproject.toml":   {"pip", countPyProject},
	"cargo.toml":       {"cargo", countCargo},
	"pom.xml":          {"maven", countPom},
	"gemfile":          {"bundler", countGemfile},
	"composer.json":    {"composer", countComposer},
}

func AnalyzeDependencies(inv *Inventory) (*Dependencies, error) {
	deps := &Dependencies{}
	ecosystems := map[string]bool{}

	for _, f := range inv.Files {
		parser, ok := manifestParsers[strings.ToLower(path.Base(f.Path))]
		if !ok || f.Size > maxManifestSize {
			continue
		}
		data, err := os.ReadFile(inv.Abs(f))
		if err != nil {
			return nil, err
		}
		n, err := parser.count(data)
		if err != nil {
			// An unparsable manifest still tells us the ecosystem.
			deps.Warnings = append(deps.Warnings, fmt.Sprintf("%s: unparsable manifest", f.Path))
			n = 0
		}
		deps.Manifests = append(deps.Manifests, f.Path)
		deps.Count += n
		ecosystems[parser.ecosystem] = true
	}

	for e := range ecosystems {
		deps.Ecosystems = append(deps.Ecosystems, e)
	}
	sort.Strings(deps.Ecosystems)
	return deps, nil
}

func countGoMod(data []byte) (int, error) {
	count := 0
	inRequire := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "//"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		switch {
		case line == "":
		case inRequire && line == ")":
			inRequire = false
		case inRequire:
			count++
		case line == "require (":
			inRequire = true
		case strings.HasPrefix(line, "require "):
			count++
		}
	}
	return count, scanner.Err()
}

func countPackageJSON(data []byte) (int, error) {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return 0, err
	}
	return len(pkg.Dependencies) + len(pkg.DevDependencies), nil
}

func countComposer(data []byte) (int, error) {
	var pkg struct {
		Require    map[string]string `json:"require"`
		RequireDev map[string]string `json:"require-dev"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return 0, err
	}
	return len(pkg.Require) + len(pkg.RequireDev), nil
}

func countRequirements(data []byte) (int, error) {
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		count++
	}
	return count, nil
}

func countPyProject(data []byte) (int, error) {
	var doc struct {
		Project struct {
			Dependencies []string `toml:"dependencies"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Dependencies    map[string]any `toml:"dependencies"`
				DevDependencies map[string]any `toml:"dev-dependencies"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return 0, err
	}
	poetry := len(doc.Tool.Poetry.Dependencies) + len(doc.Tool.Poetry.DevDependencies)
	if _, ok := doc.Tool.Poetry.Dependencies["python"]; ok {
		poetry--
	}
	return len(doc.Project.Dependencies) + poetry, nil
}

func countCargo(data []byte) (int, error) {
	var doc struct {
		Dependencies      map[string]any `toml:"dependencies"`
		DevDependencies   map[string]any `toml:"dev-dependencies"`
		BuildDependencies map[string]any `toml:"build-dependencies"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return 0, err
	}
	return len(doc.Dependencies) + len(doc.DevDependencies) + len(doc.BuildDependencies), nil
}

func countPom(data []byte) (int, error) {
	return bytes.Count(data, []byte("<dependency>")), nil
}

func countGemfile(data []byte) (int, error) {
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "gem ") {
			count++
		}
	}
	return count, nil
}
