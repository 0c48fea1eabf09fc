package capture

import (
	"strings"

	"github.com/harvard-lil/perma-capture/pkg/models"
)

// MetaTags is the ordered set of <meta name=... content=...> pairs
// collected from a DOM snapshot; later tags overwrite earlier ones for a
// given name, per spec §4.5 step 7.
type MetaTags map[string]string

// Directive is one noarchive-style directive parsed out of an
// x-robots-tag header value or a robots/perma meta tag: an optional
// user-agent scope plus the directive name.
type Directive struct {
	Agent string // "" means unscoped / all agents
	Name  string
}

// ParseRobotsDirectives joins multiple header values and splits on ';',
// per spec §8's testable property for x-robots-tag parsing.
func ParseRobotsDirectives(headerValues []string) []Directive {
	joined := strings.Join(headerValues, ";")

	var directives []Directive
	for _, part := range strings.Split(joined, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if idx := strings.Index(part, ":"); idx >= 0 {
			directives = append(directives, Directive{
				Agent: strings.TrimSpace(part[:idx]),
				Name:  strings.ToLower(strings.TrimSpace(part[idx+1:])),
			})
		} else {
			directives = append(directives, Directive{Name: strings.ToLower(part)})
		}
	}
	return directives
}

func hasNoarchiveFor(directives []Directive, agent string) bool {
	for _, d := range directives {
		if d.Name != "noarchive" {
			continue
		}
		if strings.EqualFold(d.Agent, agent) {
			return true
		}
	}
	return false
}

// PolicyInputs bundles every signal the policy check phase (spec §4.5 step
// 6) and the metadata-persistence phase (step 11) need.
type PolicyInputs struct {
	XRobotsTagHeaderValues []string
	MetaTags               MetaTags
	RobotsDisallowed       bool
	GenericNoarchiveOptIn  bool // PRIVATE_LINKS_IF_GENERIC_NOARCHIVE
}

// ApplyPolicy marks link private per spec §4.5 step 6 / §4.5 step 11 / §9
// Open Question 1.
//
// A "perma"-scoped noarchive directive in the x-robots-tag header is always
// honored; a generic (unscoped) noarchive directive in the header is honored
// only when GenericNoarchiveOptIn is set. The <meta
// name="robots"> tag, by contrast, is only consulted when no
// <meta name="perma"> tag is present: a bare "robots" meta tag is commonly
// present for reasons unrelated to archival (e.g. search-engine noindex)
// and is honored as an archival opt-out only as a fallback, gated further
// by GenericNoarchiveOptIn. This asymmetry is intentional — see
// DESIGN.md Open Question 1 — not a bug to "fix" for consistency.
func ApplyPolicy(link *models.Link, in PolicyInputs) {
	if in.RobotsDisallowed {
		link.MarkPrivate(models.PrivateReasonPolicy)
	}

	headerDirectives := ParseRobotsDirectives(in.XRobotsTagHeaderValues)
	if hasNoarchiveFor(headerDirectives, "perma") {
		link.MarkPrivate(models.PrivateReasonPolicy)
	}
	if in.GenericNoarchiveOptIn && hasNoarchiveFor(headerDirectives, "") {
		link.MarkPrivate(models.PrivateReasonPolicy)
	}

	permaMeta, hasPermaMeta := in.MetaTags["perma"]
	if hasPermaMeta && strings.Contains(strings.ToLower(permaMeta), "noarchive") {
		link.MarkPrivate(models.PrivateReasonPolicy)
		return
	}

	if !hasPermaMeta && in.GenericNoarchiveOptIn {
		if robotsMeta, ok := in.MetaTags["robots"]; ok && strings.Contains(strings.ToLower(robotsMeta), "noarchive") {
			link.MarkPrivate(models.PrivateReasonPolicy)
		}
	}
}
