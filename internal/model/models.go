// Package model defines shared data structures for the ingestion service.
package model

import (
	"fmt"
	"strings"
	"time"
)

// EmploymentType mirrors the provider's employment_types filter values.
type EmploymentType string

const (
	EmploymentIntern     EmploymentType = "INTERN"
	EmploymentFullTime   EmploymentType = "FULLTIME"
	EmploymentPartTime   EmploymentType = "PARTTIME"
	EmploymentContractor EmploymentType = "CONTRACTOR"
)

// ParseEmploymentType converts a raw (case-insensitive) string to an
// EmploymentType, returning an error for unknown values.
func ParseEmploymentType(s string) (EmploymentType, error) {
	et := EmploymentType(strings.ToUpper(strings.TrimSpace(s)))
	switch et {
	case EmploymentIntern, EmploymentFullTime, EmploymentPartTime, EmploymentContractor:
		return et, nil
	}
	return "", fmt.Errorf("unknown employment type %q", s)
}

// Query is the (role, employment-type) pair one ingestion cycle fetches.
type Query struct {
	Role           string         `json:"role"`
	EmploymentType EmploymentType `json:"type"`
}

func (q Query) String() string {
	return fmt.Sprintf("%s/%s", q.Role, q.EmploymentType)
}

// ExternalListing is a normalised offer fetched from an external job board.
// It is built fresh on every fetch and never mutated afterwards.
type ExternalListing struct {
	ExternalID      string   `json:"externalId"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Location        string   `json:"location"`
	Salary          *float64 `json:"salary,omitempty"`
	EmploymentTypes []string `json:"employmentTypes"`
	EmployerName    string   `json:"employerName"`
	EmployerLogo    string   `json:"employerLogo,omitempty"`
	ApplyURL        string   `json:"applyUrl"`
	Source          string   `json:"source"`
}

// JobStatusApproved is the status given to externally sourced jobs; they are
// visible immediately, like user-created ones.
const JobStatusApproved = "Approved"

// PersistedJob is the stored shape of a job, as returned by the job-listing
// read endpoint and pushed to live sessions.
type PersistedJob struct {
	ID              string    `json:"id"`
	ExternalID      *string   `json:"externalId"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Location        string    `json:"location"`
	Salary          *float64  `json:"salary"`
	EmploymentTypes []string  `json:"employmentTypes"`
	EmployerName    string    `json:"employerName"`
	EmployerLogo    string    `json:"employerLogo"`
	ApplyURL        string    `json:"applyUrl"`
	Source          string    `json:"source"`
	Likes           int       `json:"likes"`
	Applicants      []string  `json:"applicants"`
	Status          string    `json:"status"`
	PostedBy        *string   `json:"postedBy"` // nil for externally sourced jobs
	CreatedAt       time.Time `json:"createdAt"`
}
