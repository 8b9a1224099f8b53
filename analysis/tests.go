package analysis

import (
	"path"
	"sort"
	"strings"
)

type TestCoverage struct {
	TestFiles   int
	SourceFiles int
	Ratio       float64
	Frameworks  []string
}

var frameworkMarkers = map[string]string{
	"jest.config.js":       "jest",
	"jest.config.ts":       "jest",
	"vitest.config.ts":     "vitest",
	"pytest.ini":           "pytest",
	"conftest.py":          "pytest",
	"tox.ini":              "tox",
	"phpunit.xml":          "phpunit",
	".rspec":               "rspec",
	"karma.conf.js":        "karma",
	"cypress.config.ts":    "cypress",
	"playwright.config.ts": "playwright",
}

func DetectTests(inv *Inventory) TestCoverage {
	var tc TestCoverage
	frameworks := map[string]bool{}

	for _, f := range inv.Files {
		if fw, ok := frameworkMarkers[path.Base(f.Path)]; ok {
			frameworks[fw] = true
		}
		if f.Language == "" {
			continue
		}
		if IsTestFile(f.Path) {
			tc.TestFiles++
			if f.Language == "Go" {
				frameworks["go test"] = true
			}
			continue
		}
		tc.SourceFiles++
	}

	if tc.SourceFiles > 0 {
		tc.Ratio = float64(tc.TestFiles) / float64(tc.SourceFiles)
	} else if tc.TestFiles > 0 {
		tc.Ratio = 1
	}
	for fw := range frameworks {
		tc.Frameworks = append(tc.Frameworks, fw)
	}
	sort.Strings(tc.Frameworks)
	return tc
}

// IsTestFile matches the common naming conventions across ecosystems.
func IsTestFile(p string) bool {
	lower := strings.ToLower(p)
	base := path.Base(lower)
	stem := strings.TrimSuffix(base, path.Ext(base))

	switch {
	case strings.HasSuffix(stem, "_test"), strings.HasPrefix(stem, "test_"):
		return true
	case strings.HasSuffix(stem, ".test"), strings.HasSuffix(stem, ".spec"):
		return true
	case strings.HasSuffix(stem, "test") && (strings.HasSuffix(base, ".java") || strings.HasSuffix(base, ".kt") || strings.HasSuffix(base, ".cs")):
		return true
	case strings.HasSuffix(stem, "_spec"):
		return true
	}
	for _, dir := range strings.Split(path.Dir(lower), "/") {
		if dir == "test" || dir == "tests" || dir == "__tests__" || dir == "spec" {
			return true
		}
	}
	return false
}
