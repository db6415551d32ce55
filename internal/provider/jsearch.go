package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"jobboard/ingestion-service/internal/model"
)

const (
	jsearchName        = "jsearch"
	jsearchDefaultHost = "jsearch.p.rapidapi.com"
	jsearchMaxPages    = 20
)

// JSearchConfig configures the JSearch (RapidAPI) client.
type JSearchConfig struct {
	APIKey     string
	Host       string // RapidAPI host header; defaults to jsearch.p.rapidapi.com
	BaseURL    string // defaults to https://<Host>
	Pages      int    // num_pages per request; each page is billed as one call
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// JSearch queries the JSearch /search endpoint. A single request can return
// several pages, and the provider bills every page, so Cost equals Pages.
type JSearch struct {
	apiKey  string
	host    string
	baseURL string
	pages   int
	http    transport
}

// NewJSearch validates cfg and returns a client.
func NewJSearch(cfg JSearchConfig) (*JSearch, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("jsearch: api key is required")
	}
	host := cfg.Host
	if host == "" {
		host = jsearchDefaultHost
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + host
	}
	pages := cfg.Pages
	if pages <= 0 {
		pages = 1
	}
	if pages > jsearchMaxPages {
		pages = jsearchMaxPages
	}

	return &JSearch{
		apiKey:  cfg.APIKey,
		host:    host,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		pages:   pages,
		http:    newTransport(jsearchName, cfg.HTTPClient, cfg.Limiter),
	}, nil
}

func (c *JSearch) Name() string { return jsearchName }

func (c *JSearch) Cost(model.Query) int { return c.pages }

// jsearchResponse mirrors the top-level JSearch JSON response.
type jsearchResponse struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      []jsearchResult `json:"data"`
}

// jsearchResult mirrors a single JSearch job listing.
type jsearchResult struct {
	JobID              string   `json:"job_id"`
	JobTitle           string   `json:"job_title"`
	JobDescription     string   `json:"job_description"`
	JobLocation        string   `json:"job_location"`
	JobCity            string   `json:"job_city"`
	JobState           string   `json:"job_state"`
	JobCountry         string   `json:"job_country"`
	JobMinSalary       *float64 `json:"job_min_salary"`
	JobMaxSalary       *float64 `json:"job_max_salary"`
	JobSalary          *float64 `json:"job_salary"`
	JobEmploymentType  string   `json:"job_employment_type"`
	JobEmploymentTypes []string `json:"job_employment_types"`
	EmployerName       string   `json:"employer_name"`
	EmployerLogo       string   `json:"employer_logo"`
	JobApplyLink       string   `json:"job_apply_link"`
}

// Search fetches up to Pages pages of listings for q in one request.
func (c *JSearch) Search(ctx context.Context, q model.Query) ([]model.ExternalListing, error) {
	params := url.Values{}
	params.Set("query", q.Role)
	params.Set("page", "1")
	params.Set("num_pages", strconv.Itoa(c.pages))
	if q.EmploymentType != "" {
		params.Set("employment_types", string(q.EmploymentType))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Provider: jsearchName, Err: err}
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.host)

	var apiResp jsearchResponse
	if err := c.http.getJSON(req, &apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status != "" && !strings.EqualFold(apiResp.Status, "OK") {
		return nil, &Error{Kind: KindUnavailable, Provider: jsearchName,
			Err: errors.Newf("jsearch status %q (request %s)", apiResp.Status, apiResp.RequestID)}
	}

	results := make([]model.ExternalListing, 0, len(apiResp.Data))
	for _, r := range apiResp.Data {
		results = append(results, model.ExternalListing{
			ExternalID:      r.JobID,
			Title:           r.JobTitle,
			Description:     r.JobDescription,
			Location:        r.location(),
			Salary:          r.salary(),
			EmploymentTypes: r.employmentTypes(),
			EmployerName:    r.EmployerName,
			EmployerLogo:    r.EmployerLogo,
			ApplyURL:        r.JobApplyLink,
			Source:          jsearchName,
		})
	}
	return results, nil
}

func (r jsearchResult) location() string {
	if r.JobLocation != "" {
		return r.JobLocation
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{r.JobCity, r.JobState, r.JobCountry} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// salary prefers an explicit figure, then the midpoint of the range.
func (r jsearchResult) salary() *float64 {
	switch {
	case r.JobSalary != nil:
		return r.JobSalary
	case r.JobMinSalary != nil && r.JobMaxSalary != nil:
		mid := (*r.JobMinSalary + *r.JobMaxSalary) / 2
		return &mid
	case r.JobMaxSalary != nil:
		return r.JobMaxSalary
	default:
		return r.JobMinSalary
	}
}

func (r jsearchResult) employmentTypes() []string {
	if len(r.JobEmploymentTypes) > 0 {
		return r.JobEmploymentTypes
	}
	if r.JobEmploymentType != "" {
		return []string{r.JobEmploymentType}
	}
	return []string{}
}
