package crawler

import (
	"encoding/json"
	"fmt"
)

// Page timeout bounds in milliseconds. Requests outside the range are
// clamped rather than rejected.
const (
	MinPageTimeoutMs     = 1000
	MaxPageTimeoutMs     = 30000
	DefaultPageTimeoutMs = 30000
)

// Default request knobs applied during normalization.
const (
	DefaultPriority        = 1
	DefaultFilterThreshold = 0.5
)

// URLList accepts either a single JSON string or an array of strings.
type URLList []string

// UnmarshalJSON implements the string-or-array contract of the submit API.
func (u *URLList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*u = URLList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("urls must be a string or an array of strings")
	}
	*u = URLList(many)
	return nil
}

// CrawlRequest is one crawl submission. It is consumed at submit time:
// normalization produces the concrete options a worker executes with.
type CrawlRequest struct {
	URLs            URLList         `json:"urls"`
	Priority        int             `json:"priority"`
	UseLLM          bool            `json:"use_llm"`
	CustomSchema    json.RawMessage `json:"custom_schema,omitempty"`
	SearchQuery     string          `json:"search_query,omitempty"`
	ExtractJSON     *bool           `json:"extract_json,omitempty"`
	ContentFilter   FilterKind      `json:"content_filter,omitempty"`
	FilterThreshold *float64        `json:"filter_threshold,omitempty"`
	WaitFor         WaitCondition   `json:"wait_for,omitempty"`
	PageTimeoutMs   int             `json:"page_timeout,omitempty"`
}

// Validate rejects structurally invalid or feature-disabled submissions.
// Validation failures surface synchronously; no task is created for them.
func (r CrawlRequest) Validate() error {
	if r.UseLLM {
		return fmt.Errorf("%w: LLM support is currently disabled", ErrUnsupportedFeature)
	}
	if len(r.URLs) == 0 {
		return fmt.Errorf("at least one URL is required")
	}
	for _, u := range r.URLs {
		if u == "" {
			return fmt.Errorf("urls must not contain empty entries")
		}
	}
	if r.Priority < 0 || r.Priority > 10 {
		return fmt.Errorf("priority must be between 1 and 10")
	}
	switch r.ContentFilter {
	case "", FilterPruning, FilterBM25, FilterNone:
	default:
		return fmt.Errorf("unknown content_filter %q", r.ContentFilter)
	}
	switch r.WaitFor {
	case "", WaitDOMContentLoaded, WaitLoad, WaitNetworkIdle0, WaitNetworkIdle2:
	default:
		return fmt.Errorf("unknown wait_for condition %q", r.WaitFor)
	}
	if r.CustomSchema != nil {
		if _, err := ParseSchema(r.CustomSchema); err != nil {
			return err
		}
	}
	return nil
}

// Normalize fills defaults, clamps the page timeout into its bounds, and
// remaps networkidle0 to the more reliable domcontentloaded condition.
func (r CrawlRequest) Normalize() CrawlRequest {
	out := r
	if out.Priority == 0 {
		out.Priority = DefaultPriority
	}
	if out.ContentFilter == "" {
		out.ContentFilter = FilterPruning
	}
	if out.FilterThreshold == nil {
		th := DefaultFilterThreshold
		out.FilterThreshold = &th
	}
	if out.ExtractJSON == nil {
		yes := true
		out.ExtractJSON = &yes
	}
	switch out.WaitFor {
	case "", WaitNetworkIdle0:
		out.WaitFor = WaitDOMContentLoaded
	}
	if out.PageTimeoutMs == 0 {
		out.PageTimeoutMs = DefaultPageTimeoutMs
	}
	if out.PageTimeoutMs < MinPageTimeoutMs {
		out.PageTimeoutMs = MinPageTimeoutMs
	}
	if out.PageTimeoutMs > MaxPageTimeoutMs {
		out.PageTimeoutMs = MaxPageTimeoutMs
	}
	return out
}

// Filter builds the FilterSpec the extraction pipeline runs with.
func (r CrawlRequest) Filter() FilterSpec {
	spec := FilterSpec{Kind: r.ContentFilter, Query: r.SearchQuery}
	if r.FilterThreshold != nil {
		spec.Threshold = *r.FilterThreshold
	}
	return spec
}

// Schema decodes the custom schema if structured extraction was requested.
// It returns nil when extraction is disabled or no schema was supplied.
func (r CrawlRequest) Schema() *Schema {
	if r.ExtractJSON != nil && !*r.ExtractJSON {
		return nil
	}
	if r.CustomSchema == nil {
		return nil
	}
	s, err := ParseSchema(r.CustomSchema)
	if err != nil {
		return nil
	}
	return s
}
