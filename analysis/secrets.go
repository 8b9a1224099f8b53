package analysis

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"sort"

	"github.com/sourcegraph/conc/pool"
)

const maxSecretScanSize = 1 << 20

type SecretFinding struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Rule string `json:"rule"`
}

type secretRule struct {
	name    string
	pattern *regexp.Regexp
}

var secretRules = []secretRule{
	{"aws_access_key", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"private_key", regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36}\b`)},
	{"slack_token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"generic_secret", regexp.MustCompile(`(?i)(api[_-]?key|secret|passwd|password|token)["']?\s*[:=]\s*["'][^"'\s]{12,}["']`)},
}

// ScanSecrets reports lines that look like committed credentials. Files are
// scanned in parallel.
func ScanSecrets(ctx context.Context, inv *Inventory) ([]SecretFinding, error) {
	p := pool.NewWithResults[[]SecretFinding]().WithContext(ctx).WithMaxGoroutines(8)
	for _, f := range inv.TextFiles(maxSecretScanSize) {
		f := f
		p.Go(func(ctx context.Context) ([]SecretFinding, error) {
			return scanFile(ctx, inv.Abs(f), f.Path)
		})
	}
	perFile, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var findings []SecretFinding
	for _, fs := range perFile {
		findings = append(findings, fs...)
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Path != findings[j].Path {
			return findings[i].Path < findings[j].Path
		}
		return findings[i].Line < findings[j].Line
	})
	return findings, nil
}

func scanFile(ctx context.Context, abs, rel string) ([]SecretFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var findings []SecretFinding
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxSecretScanSize)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		for _, rule := range secretRules {
			if rule.pattern.Match(text) {
				findings = append(findings, SecretFinding{Path: rel, Line: line, Rule: rule.name})
				break
			}
		}
	}
	return findings, nil
}
