package collectors

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Metadata is the normalized package.json/registry-metadata signal set:
// license, release history buckets, people, and links.
type Metadata struct {
	License      string            `json:"license,omitempty"`
	ReleasesLast map[string]int    `json:"releases,omitempty"`
	Maintainers  []Person          `json:"maintainers,omitempty"`
	Author       *Person           `json:"author,omitempty"`
	Publisher    *Person           `json:"publisher,omitempty"`
	Scope        string            `json:"scope,omitempty"`
	Links        map[string]string `json:"links,omitempty"`
	BrokenLinks  []string          `json:"brokenLinks,omitempty"`
	HasTests     bool              `json:"hasTests"`
	HasREADME    bool              `json:"hasReadme"`
}

// Person is a normalized maintainer/author/publisher record.
type Person struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

// CollectMetadata extracts metadata signals from the manifest and the raw
// upstream package document. It never makes a network call, so it cannot
// fail transiently — any error returned here is unrecoverable.
func CollectMetadata(ctx context.Context, in Input) (interface{}, error) {
	m := &Metadata{
		License:     normalizeLicense(in.Manifest["license"]),
		Scope:       packageScope(in.Name),
		Maintainers: people(in.Manifest["maintainers"]),
		Links:       extractLinks(in.Manifest),
	}
	if a := personFrom(in.Manifest["author"]); a != nil {
		m.Author = a
	}
	if p := personFrom(in.PackageDoc["_npmUser"]); p != nil {
		m.Publisher = p
	}
	m.ReleasesLast = releaseBuckets(in.PackageDoc)
	m.BrokenLinks = detectBrokenLinks(m.Links)
	return m, nil
}

// releaseBuckets aggregates every version's publish time from the package
// document's `time` map into the fixed {30, 90, 180, 365, 730} day buckets,
// per spec.md §8's bucket-completeness property.
func releaseBuckets(packageDoc map[string]interface{}) map[string]int {
	timesField, _ := packageDoc["time"].(map[string]interface{})
	var releases []time.Time
	for version, raw := range timesField {
		if version == "created" || version == "modified" {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			releases = append(releases, t)
		}
	}
	return bucketCounts(releases, time.Now(), ReleaseBuckets)
}

// normalizeLicense best-effort corrects common license expression shapes
// into a single SPDX-like string, per spec.md §8 property 7.
func normalizeLicense(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return ""
		}
		v = strings.ReplaceAll(v, "/", " OR ")
		if v == "MIT OR X11" {
			return "MIT"
		}
		return v
	case map[string]interface{}:
		t, _ := v["type"].(string)
		return t
	case []interface{}:
		var types []string
		for _, entry := range v {
			if m, ok := entry.(map[string]interface{}); ok {
				if t, ok := m["type"].(string); ok && t != "" {
					types = append(types, t)
				}
			}
		}
		if len(types) == 0 {
			return ""
		}
		return strings.Join(types, " OR ")
	default:
		return ""
	}
}

func packageScope(name string) string {
	if strings.HasPrefix(name, "@") {
		if i := strings.Index(name, "/"); i > 0 {
			return name[1:i]
		}
	}
	return ""
}

func people(raw interface{}) []Person {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	people := make([]Person, 0, len(list))
	for _, entry := range list {
		if p := personFrom(entry); p != nil {
			people = append(people, *p)
		}
	}
	sort.Slice(people, func(i, j int) bool { return people[i].Name < people[j].Name })
	return people
}

func personFrom(raw interface{}) *Person {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return &Person{Name: v}
	case map[string]interface{}:
		p := &Person{}
		p.Name, _ = v["name"].(string)
		p.Email, _ = v["email"].(string)
		p.URL, _ = v["url"].(string)
		if p.Name == "" && p.Email == "" {
			return nil
		}
		return p
	default:
		return nil
	}
}

func extractLinks(manifest map[string]interface{}) map[string]string {
	links := make(map[string]string)
	if homepage, ok := manifest["homepage"].(string); ok && homepage != "" {
		links["homepage"] = homepage
	}
	if repo, ok := manifest["repository"]; ok {
		switch v := repo.(type) {
		case string:
			links["repository"] = v
		case map[string]interface{}:
			if u, ok := v["url"].(string); ok {
				links["repository"] = u
			}
		}
	}
	if bugs, ok := manifest["bugs"]; ok {
		switch v := bugs.(type) {
		case string:
			links["bugs"] = v
		case map[string]interface{}:
			if u, ok := v["url"].(string); ok {
				links["bugs"] = u
			}
		}
	}
	return links
}

// detectBrokenLinks flags links that aren't well-formed absolute URLs. It
// never dials out — spec.md scopes "broken-link detection" at the
// structural level here, leaving network reachability to the source-host
// collector, which already probes the repository URL.
func detectBrokenLinks(links map[string]string) []string {
	var broken []string
	for name, link := range links {
		u, err := url.Parse(link)
		if err != nil || u.Scheme == "" || u.Host == "" {
			broken = append(broken, name)
		}
	}
	sort.Strings(broken)
	return broken
}
