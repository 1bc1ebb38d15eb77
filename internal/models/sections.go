package models

import (
	"regexp"
	"strings"
)

// CanonicalSection is one entry of the fixed IEP section vocabulary.
type CanonicalSection struct {
	Name        string
	DisplayName string
	aliases     []string
}

// CanonicalSections lists the section vocabulary in presentation order.
var CanonicalSections = []CanonicalSection{
	{Name: "strengths", DisplayName: "Strengths", aliases: []string{
		"strengths", "student strengths", "strengths and interests", "student profile", "vision",
	}},
	{Name: "eligibility", DisplayName: "Eligibility", aliases: []string{
		"eligibility", "disability", "primary disability", "eligibility determination", "disability category",
	}},
	{Name: "present_levels", DisplayName: "Present Levels", aliases: []string{
		"present levels", "present levels of performance", "plaafp", "plep",
		"present levels of academic achievement and functional performance", "present level of performance",
	}},
	{Name: "goals", DisplayName: "Goals", aliases: []string{
		"goals", "annual goals", "measurable annual goals", "goals and objectives", "benchmarks",
	}},
	{Name: "services", DisplayName: "Services", aliases: []string{
		"services", "special education services", "related services", "service delivery", "service delivery grid",
	}},
	{Name: "accommodations", DisplayName: "Accommodations", aliases: []string{
		"accommodations", "accommodations and modifications", "modifications", "testing accommodations",
		"state assessment", "assessment participation",
	}},
	{Name: "placement", DisplayName: "Placement", aliases: []string{
		"placement", "least restrictive environment", "lre", "educational placement", "placement decision",
	}},
	{Name: "key_people", DisplayName: "Key People", aliases: []string{
		"key people", "team members", "iep team", "iep team members", "contacts", "participants",
	}},
	{Name: "informed_consent", DisplayName: "Informed Consent", aliases: []string{
		"informed consent", "consent", "parent consent", "parental consent", "signatures", "response section",
	}},
}

var (
	nonAlphanumericRegex = regexp.MustCompile(`[^a-z0-9]+`)
	sectionLookup        = buildSectionLookup()
)

func buildSectionLookup() map[string]int {
	lookup := make(map[string]int)
	for i, s := range CanonicalSections {
		lookup[normalizeSectionKey(s.Name)] = i
		lookup[normalizeSectionKey(s.DisplayName)] = i
		for _, alias := range s.aliases {
			lookup[normalizeSectionKey(alias)] = i
		}
	}
	return lookup
}

func normalizeSectionKey(title string) string {
	lower := strings.ToLower(title)
	return strings.Trim(nonAlphanumericRegex.ReplaceAllString(lower, " "), " ")
}

// LookupSection maps a free-form section title onto the canonical vocabulary.
// It returns the canonical entry, its position in presentation order, and
// false if the title matches nothing.
func LookupSection(title string) (CanonicalSection, int, bool) {
	i, ok := sectionLookup[normalizeSectionKey(title)]
	if !ok {
		return CanonicalSection{}, -1, false
	}
	return CanonicalSections[i], i, true
}
