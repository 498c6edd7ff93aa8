package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// DefaultDenylist holds the social and map hosts never taken as a website.
var DefaultDenylist = []string{
	"facebook.com", "fb.com", "instagram.com", "twitter.com", "x.com",
	"tiktok.com", "youtube.com", "youtu.be", "linkedin.com", "goo.gl",
	"pinterest.com", "wa.me",
}

// WebsitePolicy decides which link counts as a shop's own website.
type WebsitePolicy struct {
	siteDomain string
	denylist   []string
}

// NewWebsitePolicy builds a policy that rejects siteDomain (and its
// subdomains) plus every denylisted domain.
func NewWebsitePolicy(siteDomain string, denylist []string) WebsitePolicy {
	deny := make([]string, 0, len(denylist))
	for _, d := range denylist {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			deny = append(deny, strings.TrimPrefix(d, "www."))
		}
	}
	return WebsitePolicy{
		siteDomain: strings.TrimPrefix(strings.ToLower(siteDomain), "www."),
		denylist:   deny,
	}
}

// Accept reports whether href is an absolute external website link.
func (p WebsitePolicy) Accept(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if p.siteDomain != "" && matchesDomain(host, p.siteDomain) {
		return false
	}
	for _, d := range p.denylist {
		if matchesDomain(host, d) {
			return false
		}
	}
	if strings.HasPrefix(host, "maps.") {
		return false
	}
	if isGoogleHost(host) && strings.HasPrefix(u.Path, "/maps") {
		return false
	}
	return true
}

// First returns the first accepted link.
func (p WebsitePolicy) First(hrefs []string) (string, bool) {
	for _, h := range hrefs {
		if p.Accept(h) {
			return strings.TrimSpace(h), true
		}
	}
	return "", false
}

func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func isGoogleHost(host string) bool {
	labels := strings.Split(host, ".")
	for i, l := range labels {
		if l == "google" && i >= len(labels)-3 {
			return true
		}
	}
	return false
}

// CategoryRule maps a case-insensitive text pattern to a category label.
type CategoryRule struct {
	Pattern string `mapstructure:"pattern"`
	Label   string `mapstructure:"label"`
}

// DefaultCategoryRules are checked in order; the first match wins.
var DefaultCategoryRules = []CategoryRule{
	{Pattern: "marktstand", Label: "Marktstand"},
	{Pattern: "liefer", Label: "Lieferservice"},
}

// DefaultCategory is used when no rule matches.
const DefaultCategory = "Bioladen"

type vocabulary struct {
	rules    []*regexp.Regexp
	labels   []string
	fallback string
}

func newVocabulary(rules []CategoryRule, fallback string) (vocabulary, error) {
	v := vocabulary{fallback: fallback}
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return vocabulary{}, fmt.Errorf("category pattern %q: %w", r.Pattern, err)
		}
		v.rules = append(v.rules, re)
		v.labels = append(v.labels, r.Label)
	}
	if v.fallback == "" {
		v.fallback = DefaultCategory
	}
	return v, nil
}

// classify returns the label of the first matching rule, else the fallback.
func (v vocabulary) classify(text string) string {
	for i, re := range v.rules {
		if re.MatchString(text) {
			return v.labels[i]
		}
	}
	return v.fallback
}
