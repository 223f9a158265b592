// Package policy classifies visited hosts and masks domain payload
// fields before they are sent to the collection API. Rules arrive from
// the server via host sync; private mode overrides every rule.
package policy

// Classification decides how much of a visit may leave the machine.
type Classification string

const (
	// ClassificationFullAllow reports title, URL and favicon as-is.
	ClassificationFullAllow Classification = "full_allow"

	// ClassificationFullDeny replaces every reportable field with the
	// classification token.
	ClassificationFullDeny Classification = "full_deny"

	// ClassificationOnlyHost reports the bare hostname and masks the
	// rest.
	ClassificationOnlyHost Classification = "only_host"
)

// MaskPrivateMode is the token substituted for every field while
// private mode is active.
const MaskPrivateMode = "Private-Mode"

// Defaults for fields the browser did not populate.
const (
	DefaultTitle   = "No Title"
	DefaultFavIcon = "Not found"
)

// HostRule is one server-provided classification rule. Hostname is
// matched exactly against the visited URL's host; Condition, when set,
// is a CEL expression evaluated against the visit and must also hold
// for the rule to apply.
type HostRule struct {
	ID             int64          `json:"id"`
	Hostname       string         `json:"hostname"`
	Classification Classification `json:"classification"`
	Condition      string         `json:"condition,omitempty"`
}

// DomainFields are the reportable fields of a site visit, before or
// after masking.
type DomainFields struct {
	Title   string
	URL     string
	FavIcon string
}

// ConditionInput is what a rule condition can inspect.
type ConditionInput struct {
	Host    string
	URL     string
	Private bool
}

// ConditionEvaluator evaluates a rule's condition expression.
type ConditionEvaluator interface {
	Evaluate(condition string, input ConditionInput) (bool, error)
}
