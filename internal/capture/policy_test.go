package capture

import (
	"testing"

	"github.com/harvard-lil/perma-capture/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPolicy_PermaMetaAlwaysWins(t *testing.T) {
	link := &models.Link{GUID: "abc"}
	ApplyPolicy(link, PolicyInputs{
		MetaTags: MetaTags{"perma": "noarchive"},
	})

	require.True(t, link.IsPrivate)
	assert.Equal(t, models.PrivateReasonPolicy, link.PrivateReason)
}

func TestApplyPolicy_GenericMetaOnlyWhenOptedInAndNoPermaMeta(t *testing.T) {
	// Generic robots meta present, opt-in off: no effect.
	link := &models.Link{GUID: "abc"}
	ApplyPolicy(link, PolicyInputs{
		MetaTags:              MetaTags{"robots": "noarchive"},
		GenericNoarchiveOptIn: false,
	})
	assert.False(t, link.IsPrivate)

	// Generic robots meta present, opt-in on, no perma meta: applies.
	link2 := &models.Link{GUID: "def"}
	ApplyPolicy(link2, PolicyInputs{
		MetaTags:              MetaTags{"robots": "noarchive"},
		GenericNoarchiveOptIn: true,
	})
	assert.True(t, link2.IsPrivate)

	// Perma meta present but not noarchive, opt-in on: generic robots meta
	// is NOT consulted because a perma meta tag exists at all (asymmetry
	// pinned by DESIGN.md Open Question 1).
	link3 := &models.Link{GUID: "ghi"}
	ApplyPolicy(link3, PolicyInputs{
		MetaTags:              MetaTags{"perma": "index", "robots": "noarchive"},
		GenericNoarchiveOptIn: true,
	})
	assert.False(t, link3.IsPrivate)
}

func TestApplyPolicy_HeaderDirectivesAlwaysHonored(t *testing.T) {
	link := &models.Link{GUID: "abc"}
	ApplyPolicy(link, PolicyInputs{
		XRobotsTagHeaderValues: []string{"perma: noarchive"},
		GenericNoarchiveOptIn:  false,
	})
	require.True(t, link.IsPrivate)
	assert.Equal(t, models.PrivateReasonPolicy, link.PrivateReason)
}

func TestApplyPolicy_GenericHeaderRequiresOptIn(t *testing.T) {
	link := &models.Link{GUID: "abc"}
	ApplyPolicy(link, PolicyInputs{
		XRobotsTagHeaderValues: []string{"noarchive"},
		GenericNoarchiveOptIn:  false,
	})
	assert.False(t, link.IsPrivate)

	link2 := &models.Link{GUID: "def"}
	ApplyPolicy(link2, PolicyInputs{
		XRobotsTagHeaderValues: []string{"noarchive"},
		GenericNoarchiveOptIn:  true,
	})
	assert.True(t, link2.IsPrivate)
}

func TestApplyPolicy_RobotsDisallowed(t *testing.T) {
	link := &models.Link{GUID: "abc"}
	ApplyPolicy(link, PolicyInputs{RobotsDisallowed: true})
	require.True(t, link.IsPrivate)
	assert.Equal(t, models.PrivateReasonPolicy, link.PrivateReason)
}

func TestParseRobotsDirectives_JoinsAndSplits(t *testing.T) {
	directives := ParseRobotsDirectives([]string{"perma: noarchive", "googlebot: noindex"})
	require.Len(t, directives, 2)
	assert.Equal(t, "perma", directives[0].Agent)
	assert.Equal(t, "noarchive", directives[0].Name)
	assert.Equal(t, "googlebot", directives[1].Agent)
	assert.Equal(t, "noindex", directives[1].Name)
}
