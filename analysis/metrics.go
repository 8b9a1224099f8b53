package analysis

import "github.com/tnqbao/gau-repo-evaluator/entity"

// BuildMetrics folds the analyzer outputs into the document sent to the scorer.
func BuildMetrics(s *Structure, secrets []SecretFinding, tests TestCoverage, docs *Documentation, deps *Dependencies) entity.Metrics {
	languages := make(map[string]int, len(s.Languages))
	for lang, lines := range s.Languages {
		languages[lang] = lines
	}

	var warnings []string
	warnings = append(warnings, docs.Warnings...)
	warnings = append(warnings, deps.Warnings...)

	return entity.Metrics{
		TotalFiles:       s.TotalFiles,
		TotalLines:       s.TotalLines,
		CodeLines:        s.CodeLines,
		Languages:        languages,
		PrimaryLanguage:  s.PrimaryLanguage,
		SecretFindings:   len(secrets),
		TestFiles:        tests.TestFiles,
		TestRatio:        tests.Ratio,
		HasReadme:        docs.HasReadme,
		HasLicense:       docs.HasLicense,
		DocFiles:         docs.DocFiles,
		CommentRatio:     s.CommentRatio(),
		DependencyFiles:  append([]string(nil), deps.Manifests...),
		DependencyCount:  deps.Count,
		HasCI:            docs.HasCI,
		LargestFiles:     append([]entity.FileSize(nil), s.LargestFiles...),
		PartialAnalysis:  len(warnings) > 0,
		AnalysisWarnings: warnings,
	}
}
