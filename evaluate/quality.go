package evaluate

import "github.com/npms-io/npms-analyzer/collectors"

// Quality is the sub-vector measuring how carefully a package is built and
// documented, independent of how popular or actively maintained it is.
type Quality struct {
	Carefulness float64 `json:"carefulness"`
	Tests       float64 `json:"tests"`
	Health      float64 `json:"health"`
	Branding    float64 `json:"branding"`
}

func evaluateQuality(c collectors.Collected) Quality {
	return Quality{
		Carefulness: carefulness(c),
		Tests:       tests(c),
		Health:      health(c),
		Branding:    branding(c),
	}
}

// carefulness rewards the hygiene markers a careful maintainer tends to
// leave behind: a license, a README, a changelog, npm-ignore, and the
// absence of broken links in the manifest.
func carefulness(c collectors.Collected) float64 {
	var points, total float64

	total += 3
	if c.SourceCode != nil {
		if c.SourceCode.Files.HasReadme {
			points++
		}
		if c.SourceCode.Files.HasChangelog {
			points++
		}
		if c.SourceCode.Files.HasNpmIgnore {
			points++
		}
	}

	total += 1
	if c.Metadata != nil && c.Metadata.License != "" {
		points++
	}

	total += 1
	if c.Metadata != nil && len(c.Metadata.BrokenLinks) == 0 {
		points++
	}

	return clamp01(points / total)
}

// tests rewards test presence and, when available, coverage — a package
// with tests but no measured coverage still scores above one with neither.
func tests(c collectors.Collected) float64 {
	if c.SourceCode == nil {
		return 0
	}
	hasTests := c.SourceCode.Files.TestsSize > 0
	if !hasTests {
		return 0
	}
	if c.SourceCode.Coverage > 0 {
		return clamp01(0.5 + 0.5*c.SourceCode.Coverage)
	}
	return 0.5
}

// health combines linter adoption with the absence of known
// vulnerabilities and a low count of outdated dependencies — a package
// can't be considered healthy if it ships unpatched, known-vulnerable
// dependencies regardless of how well-linted it is.
func health(c collectors.Collected) float64 {
	if c.SourceCode == nil {
		return 0
	}
	linterScore := 0.0
	if len(c.SourceCode.Linters) > 0 {
		linterScore = 1
	}
	vulnScore := 1.0
	if c.SourceCode.HasVulnerabilities {
		vulnScore = 0
	}
	outdatedScore := 1 - quasiLogNormal(float64(c.SourceCode.OutdatedDependencies), 20)

	return weightedAverage(
		[]float64{linterScore, vulnScore, outdatedScore},
		[]float64{1, 3, 1},
	)
}

// branding rewards a package having a dedicated homepage distinct from its
// repository, and having badges, both signals of a project presenting
// itself as more than a one-off script.
func branding(c collectors.Collected) float64 {
	var points, total float64

	total += 1
	if c.Metadata != nil {
		if homepage, ok := c.Metadata.Links["homepage"]; ok && homepage != "" {
			if repo, ok := c.Metadata.Links["repository"]; !ok || repo != homepage {
				points++
			}
		}
	}

	total += 1
	if c.SourceCode != nil && len(c.SourceCode.Badges) > 0 {
		points++
	}

	return clamp01(points / total)
}
