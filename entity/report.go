package entity

import "time"

// Metrics is the aggregate of every analysis stage, sent to the scorer.
type Metrics struct {
	TotalFiles       int            `json:"total_files"`
	TotalLines       int            `json:"total_lines"`
	CodeLines        int            `json:"code_lines"`
	Languages        map[string]int `json:"languages"`
	PrimaryLanguage  string         `json:"primary_language"`
	SecretFindings   int            `json:"secret_findings"`
	TestFiles        int            `json:"test_files"`
	TestRatio        float64        `json:"test_ratio"`
	HasReadme        bool           `json:"has_readme"`
	HasLicense       bool           `json:"has_license"`
	DocFiles         int            `json:"doc_files"`
	CommentRatio     float64        `json:"comment_ratio"`
	DependencyFiles  []string       `json:"dependency_files"`
	DependencyCount  int            `json:"dependency_count"`
	HasCI            bool           `json:"has_ci"`
	LargestFiles     []FileSize     `json:"largest_files,omitempty"`
	PartialAnalysis  bool           `json:"partial_analysis,omitempty"`
	AnalysisWarnings []string       `json:"analysis_warnings,omitempty"`
}

type FileSize struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
}

// ScoreCard is what the scoring collaborator returns.
type ScoreCard struct {
	Overall    float64            `json:"overall"`
	Categories map[string]float64 `json:"categories"`
	Summary    string             `json:"summary"`
	Strengths  []string           `json:"strengths,omitempty"`
	Risks      []string           `json:"risks,omitempty"`
}

type ChartSeries struct {
	Label  string       `json:"label"`
	Points []ChartPoint `json:"points"`
}

type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type Diagram struct {
	Format string `json:"format"`
	Source string `json:"source,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Report is the document persisted in Artifact.Report.
type Report struct {
	Owner       string        `json:"owner"`
	Name        string        `json:"name"`
	Version     string        `json:"version"`
	Metrics     Metrics       `json:"metrics"`
	Score       ScoreCard     `json:"score"`
	Diagram     Diagram       `json:"diagram"`
	Charts      []ChartSeries `json:"charts"`
	Members     []MemberScore `json:"members,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// MemberScore is one repository inside an aggregate report.
type MemberScore struct {
	Repository string  `json:"repository"`
	Version    string  `json:"version"`
	Overall    float64 `json:"overall"`
	FromCache  bool    `json:"from_cache"`
}
