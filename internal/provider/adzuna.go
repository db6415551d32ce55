package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"jobboard/ingestion-service/internal/model"
)

const (
	adzunaName        = "adzuna"
	adzunaBaseURL     = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize    = 50
	adzunaDefaultPage = 1
)

// AdzunaConfig configures the Adzuna client.
type AdzunaConfig struct {
	AppID      string
	AppKey     string
	Country    string // "fr", "gb", "us", …
	BaseURL    string // defaults to the public API
	MaxPages   int    // each page is one billed request
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// AdzunaFetcher fetches job offers from the Adzuna public API, one request
// per page.
type AdzunaFetcher struct {
	appID    string
	appKey   string
	country  string
	baseURL  string
	maxPages int
	http     transport
}

// NewAdzunaFetcher validates cfg and returns a client.
func NewAdzunaFetcher(cfg AdzunaConfig) (*AdzunaFetcher, error) {
	if cfg.AppID == "" || cfg.AppKey == "" {
		return nil, errors.New("adzuna: app_id and app_key are required")
	}
	country := cfg.Country
	if country == "" {
		country = "us"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = adzunaBaseURL
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = adzunaDefaultPage
	}

	return &AdzunaFetcher{
		appID:    cfg.AppID,
		appKey:   cfg.AppKey,
		country:  country,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		maxPages: maxPages,
		http:     newTransport(adzunaName, cfg.HTTPClient, cfg.Limiter),
	}, nil
}

func (f *AdzunaFetcher) Name() string { return adzunaName }

// Cost reserves the worst case; pages never requested are still charged.
func (f *AdzunaFetcher) Cost(model.Query) int { return f.maxPages }

// adzunaResponse mirrors the top-level Adzuna JSON response.
type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

// adzunaResult mirrors a single Adzuna job listing.
type adzunaResult struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Company      adzunaCompany  `json:"company"`
	Location     adzunaLocation `json:"location"`
	SalaryMin    float64        `json:"salary_min"`
	SalaryMax    float64        `json:"salary_max"`
	RedirectURL  string         `json:"redirect_url"`
	ContractTime string         `json:"contract_time"`
	ContractType string         `json:"contract_type"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string `json:"display_name"`
}

// Search retrieves offers for q, iterating through pages until a short
// page or maxPages is reached.
func (f *AdzunaFetcher) Search(ctx context.Context, q model.Query) ([]model.ExternalListing, error) {
	var results []model.ExternalListing

	for page := 1; page <= f.maxPages; page++ {
		batch, err := f.fetchPage(ctx, q, page)
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
		if len(batch) < adzunaPageSize {
			break // Last page
		}
	}

	return results, nil
}

func (f *AdzunaFetcher) fetchPage(ctx context.Context, q model.Query, page int) ([]model.ExternalListing, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", f.baseURL, f.country, page)

	what := q.Role
	params := url.Values{}
	params.Set("app_id", f.appID)
	params.Set("app_key", f.appKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")
	switch q.EmploymentType {
	case model.EmploymentFullTime:
		params.Set("full_time", "1")
	case model.EmploymentPartTime:
		params.Set("part_time", "1")
	case model.EmploymentContractor:
		params.Set("contract", "1")
	case model.EmploymentIntern:
		// Adzuna has no internship filter; narrow by keyword instead.
		what += " intern"
	}
	params.Set("what", what)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Provider: adzunaName, Err: err}
	}

	var apiResp adzunaResponse
	if err := f.http.getJSON(req, &apiResp); err != nil {
		return nil, err
	}

	results := make([]model.ExternalListing, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		results = append(results, model.ExternalListing{
			ExternalID:      r.ID,
			Title:           r.Title,
			Description:     r.Description,
			Location:        r.Location.DisplayName,
			Salary:          r.salary(),
			EmploymentTypes: r.employmentTypes(q.EmploymentType),
			EmployerName:    r.Company.DisplayName,
			ApplyURL:        r.RedirectURL,
			Source:          adzunaName,
		})
	}
	return results, nil
}

func (r adzunaResult) salary() *float64 {
	switch {
	case r.SalaryMin > 0 && r.SalaryMax > 0:
		mid := (r.SalaryMin + r.SalaryMax) / 2
		return &mid
	case r.SalaryMax > 0:
		v := r.SalaryMax
		return &v
	case r.SalaryMin > 0:
		v := r.SalaryMin
		return &v
	}
	return nil
}

func (r adzunaResult) employmentTypes(requested model.EmploymentType) []string {
	types := []string{}
	switch r.ContractTime {
	case "full_time":
		types = append(types, string(model.EmploymentFullTime))
	case "part_time":
		types = append(types, string(model.EmploymentPartTime))
	}
	if r.ContractType == "contract" {
		types = append(types, string(model.EmploymentContractor))
	}
	if len(types) == 0 && requested != "" {
		types = append(types, string(requested))
	}
	return types
}
