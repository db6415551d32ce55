package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobboard/ingestion-service/internal/model"
)

const jsearchBody = `{
  "status": "OK",
  "request_id": "req-1",
  "data": [
    {
      "job_id": "abc123",
      "job_title": "Backend Developer",
      "job_description": "Build APIs",
      "job_city": "Austin",
      "job_state": "TX",
      "job_country": "US",
      "job_min_salary": 100000,
      "job_max_salary": 140000,
      "job_employment_type": "FULLTIME",
      "employer_name": "Acme",
      "employer_logo": "https://logo.example/acme.png",
      "job_apply_link": "https://apply.example/abc123"
    },
    {
      "job_id": "def456",
      "job_title": "Platform Engineer",
      "job_location": "Remote",
      "job_employment_types": ["FULLTIME", "CONTRACTOR"],
      "employer_name": "Globex",
      "job_apply_link": "https://apply.example/def456"
    }
  ]
}`

func newJSearchForTest(t *testing.T, srv *httptest.Server, pages int) *JSearch {
	t.Helper()
	c, err := NewJSearch(JSearchConfig{APIKey: "k", Host: "jsearch.test", BaseURL: srv.URL, Pages: pages})
	require.NoError(t, err)
	return c
}

func TestJSearch_SearchMapsListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Backend Developer", r.URL.Query().Get("query"))
		assert.Equal(t, "FULLTIME", r.URL.Query().Get("employment_types"))
		assert.Equal(t, "2", r.URL.Query().Get("num_pages"))
		assert.Equal(t, "k", r.Header.Get("X-RapidAPI-Key"))
		assert.Equal(t, "jsearch.test", r.Header.Get("X-RapidAPI-Host"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jsearchBody))
	}))
	defer srv.Close()

	c := newJSearchForTest(t, srv, 2)
	assert.Equal(t, 2, c.Cost(backend))

	got, err := c.Search(context.Background(), backend)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "abc123", first.ExternalID)
	assert.Equal(t, "Austin, TX, US", first.Location)
	require.NotNil(t, first.Salary)
	assert.InDelta(t, 120000, *first.Salary, 0.001)
	assert.Equal(t, []string{"FULLTIME"}, first.EmploymentTypes)
	assert.Equal(t, "https://logo.example/acme.png", first.EmployerLogo)
	assert.Equal(t, "jsearch", first.Source)

	second := got[1]
	assert.Equal(t, "Remote", second.Location)
	assert.Nil(t, second.Salary)
	assert.Equal(t, []string{"FULLTIME", "CONTRACTOR"}, second.EmploymentTypes)
}

func TestJSearch_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		header map[string]string
		want   Kind
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"message":"slow down"}`,
			header: map[string]string{"Retry-After": "30"}, want: KindRateLimited},
		{name: "server error", status: http.StatusBadGateway, body: "bad gateway", want: KindUnavailable},
		{name: "garbage body", status: http.StatusOK, body: "<html>not json", want: KindMalformed},
		{name: "provider status error", status: http.StatusOK, body: `{"status":"ERROR","data":[]}`, want: KindUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := newJSearchForTest(t, srv, 1).Search(context.Background(), backend)
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.want, kind)

			if tc.want == KindRateLimited {
				var pe *Error
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, 30*time.Second, pe.RetryAfter)
				assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
			}
		})
	}
}

func TestJSearch_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newJSearchForTest(t, srv, 1).Search(ctx, backend)
	kind, _ := KindOf(err)
	assert.Equal(t, KindTimeout, kind)
}

func TestJSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewJSearch(JSearchConfig{APIKey: "k", BaseURL: url})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), backend)
	kind, _ := KindOf(err)
	assert.Equal(t, KindUnavailable, kind)
}

func TestNewJSearch_RequiresKey(t *testing.T) {
	_, err := NewJSearch(JSearchConfig{})
	assert.Error(t, err)
}

func TestAdzuna_PagesUntilShortPage(t *testing.T) {
	var (
		mu    sync.Mutex
		pages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pages = append(pages, r.URL.Path)
		mu.Unlock()
		assert.Equal(t, "1", r.URL.Query().Get("full_time"))
		assert.Equal(t, "Backend Developer", r.URL.Query().Get("what"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/us/search/1" {
			// A full page forces a second request.
			_, _ = w.Write([]byte(adzunaPage(adzunaPageSize, "p1")))
			return
		}
		_, _ = w.Write([]byte(adzunaPage(2, "p2")))
	}))
	defer srv.Close()

	f, err := NewAdzunaFetcher(AdzunaConfig{AppID: "id", AppKey: "key", BaseURL: srv.URL, MaxPages: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Cost(backend))

	got, err := f.Search(context.Background(), backend)
	require.NoError(t, err)
	assert.Len(t, got, adzunaPageSize+2)
	mu.Lock()
	assert.Equal(t, []string{"/us/search/1", "/us/search/2"}, pages)
	mu.Unlock()
	assert.Equal(t, "adzuna", got[0].Source)
	assert.Equal(t, []string{"FULLTIME"}, got[0].EmploymentTypes)
}

func TestAdzuna_InternQueryUsesKeyword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Data Analyst intern", r.URL.Query().Get("what"))
		assert.Empty(t, r.URL.Query().Get("full_time"))
		_, _ = w.Write([]byte(`{"results":[],"count":0}`))
	}))
	defer srv.Close()

	f, err := NewAdzunaFetcher(AdzunaConfig{AppID: "id", AppKey: "key", BaseURL: srv.URL})
	require.NoError(t, err)
	got, err := f.Search(context.Background(), model.Query{Role: "Data Analyst", EmploymentType: model.EmploymentIntern})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewAdzunaFetcher_RequiresCredentials(t *testing.T) {
	_, err := NewAdzunaFetcher(AdzunaConfig{AppID: "id"})
	assert.Error(t, err)
}

func adzunaPage(n int, prefix string) string {
	body := `{"count":999,"results":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			body += ","
		}
		body += `{"id":"` + prefix + `-` + strconv.Itoa(i) + `","title":"Backend Developer","company":{"display_name":"Acme"},` +
			`"location":{"display_name":"London"},"salary_min":50000,"salary_max":60000,` +
			`"redirect_url":"https://adzuna.example/` + strconv.Itoa(i) + `","contract_time":"full_time"}`
	}
	return body + `]}`
}

