package collectors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/npms-io/npms-analyzer/common"
)

// SourceCode is the downloaded-tarball signal set: presence and rough size
// of tests and documentation, repository hygiene files, and the outcome of
// a handful of static scanners run against the extracted source.
type SourceCode struct {
	Files                FilesInfo `json:"files"`
	Linters              []string  `json:"linters,omitempty"`
	Badges               []string  `json:"badges,omitempty"`
	Coverage             float64   `json:"coverage"`
	HasVulnerabilities   bool      `json:"hasVulnerabilities"`
	OutdatedDependencies int       `json:"outdatedDependencies"`
}

// FilesInfo reports which hygiene markers are present in the downloaded
// source tree and how large the test/readme trees are.
type FilesInfo struct {
	HasReadme       bool  `json:"hasReadme"`
	HasChangelog    bool  `json:"hasChangelog"`
	HasContributing bool  `json:"hasContributing"`
	HasLicense      bool  `json:"hasLicense"`
	HasNpmIgnore    bool  `json:"hasNpmIgnore"`
	HasShrinkwrap   bool  `json:"hasShrinkwrap"`
	HasNpmRCFile    bool  `json:"hasNpmRcFile"`
	TestsSize       int64 `json:"testsSize"`
	GzippedSize     int64 `json:"gzippedSize"`
}

// CollectSourceCode statically inspects the already-extracted download at
// in.WorkDir. It is skipped entirely (KindUnavailable) if the download
// stage never produced a working directory, e.g. because every downloader
// failed, per spec.md §4.5's "no source to inspect" case.
func CollectSourceCode(ctx context.Context, in Input) (interface{}, error) {
	if in.WorkDir == "" {
		return nil, &common.Classified{Kind: common.KindUnavailable, Origin: "collectors.sourceCode", Reason: "no downloaded source available"}
	}

	sc := &SourceCode{}
	sc.Files = inspectFiles(in.WorkDir)
	sc.Linters = detectLinters(in.Manifest)
	sc.Badges = detectBadges(in.WorkDir, sc.Files)
	sc.Coverage = detectCoverage(in.WorkDir)

	if out, err := common.Exec(ctx, 60*time.Second, in.WorkDir, "npm", "audit", "--json"); err == nil {
		sc.HasVulnerabilities = strings.Contains(out.Stdout, `"vulnerabilities"`) && !strings.Contains(out.Stdout, `"vulnerabilities":{}`)
	}

	if out, err := common.Exec(ctx, 60*time.Second, in.WorkDir, "npm", "outdated", "--json"); err == nil {
		sc.OutdatedDependencies = strings.Count(out.Stdout, `"current"`)
	}

	return sc, nil
}

func inspectFiles(dir string) FilesInfo {
	info := FilesInfo{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return info
	}

	for _, e := range entries {
		name := strings.ToLower(e.Name())
		switch {
		case strings.HasPrefix(name, "readme"):
			info.HasReadme = true
		case strings.HasPrefix(name, "changelog") || strings.HasPrefix(name, "history"):
			info.HasChangelog = true
		case strings.HasPrefix(name, "contributing"):
			info.HasContributing = true
		case strings.HasPrefix(name, "license") || strings.HasPrefix(name, "licence"):
			info.HasLicense = true
		case name == ".npmignore":
			info.HasNpmIgnore = true
		case name == "npm-shrinkwrap.json":
			info.HasShrinkwrap = true
		case name == ".npmrc":
			info.HasNpmRCFile = true
		}
	}

	for _, dirname := range []string{"test", "tests", "__tests__", "spec"} {
		if size, ok := dirSize(filepath.Join(dir, dirname)); ok {
			info.TestsSize += size
		}
	}
	if size, ok := dirSize(dir); ok {
		info.GzippedSize = size
	}

	return info
}

func dirSize(path string) (int64, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	if !fi.IsDir() {
		return fi.Size(), true
	}
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, true
}

// detectLinters inspects the manifest's devDependencies for the handful of
// JavaScript linters npms-style quality scoring recognizes.
func detectLinters(manifest map[string]interface{}) []string {
	dev, _ := manifest["devDependencies"].(map[string]interface{})
	known := []string{"eslint", "jshint", "jslint", "tslint", "standard", "xo"}
	var found []string
	for _, name := range known {
		if _, ok := dev[name]; ok {
			found = append(found, name)
		}
	}
	return found
}

// badgeHosts maps well-known badge-image hosts to the shorthand name
// reported in SourceCode.Badges.
var badgeHosts = map[string]string{
	"shields.io":      "shields",
	"travis-ci.org":   "travis",
	"travis-ci.com":   "travis",
	"coveralls.io":    "coveralls",
	"codecov.io":      "codecov",
	"npmjs.com":       "npm",
	"david-dm.org":    "david",
	"codeclimate.com": "codeclimate",
}

// detectBadges reports which well-known README badge families are
// referenced, by scanning the readme's raw text for each host's domain.
func detectBadges(dir string, files FilesInfo) []string {
	if !files.HasReadme {
		return nil
	}
	contents := readReadme(dir)
	if contents == "" {
		return nil
	}
	var found []string
	for host, name := range badgeHosts {
		if strings.Contains(contents, host) {
			found = append(found, name)
		}
	}
	return found
}

// detectCoverage reads a pre-existing lcov summary line if the package
// ships one (some publish coverage/lcov-report alongside source). This
// deliberately never invokes `npm test`: the downloaded source is
// attacker-controlled, and running its test script to produce fresh
// coverage would execute arbitrary code from an untrusted package.
func detectCoverage(dir string) float64 {
	data, err := os.ReadFile(filepath.Join(dir, "coverage", "lcov.info"))
	if err != nil {
		return 0
	}
	var hit, found int
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "LH:"):
			n := parseInt(strings.TrimPrefix(line, "LH:"))
			hit += n
		case strings.HasPrefix(line, "LF:"):
			n := parseInt(strings.TrimPrefix(line, "LF:"))
			found += n
		}
	}
	if found == 0 {
		return 0
	}
	return float64(hit) / float64(found)
}

func parseInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

func readReadme(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if strings.HasPrefix(strings.ToLower(e.Name()), "readme") {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err == nil {
				return string(data)
			}
		}
	}
	return ""
}
