package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Analysis modes. Standard runs the full pipeline; deep is reserved for
// future higher-depth insight passes and cached under its own key.
const (
	ModeStandard = "standard"
	ModeDeep     = "deep"
)

// Result status: full means the insight stage succeeded, basic means the
// result was synthesized from metadata only after the insight stage failed.
const (
	ResultStatusFull  = "full"
	ResultStatusBasic = "basic"
)

// InsightsUnavailable marks a degraded result whose narrative insights
// could not be produced.
const InsightsUnavailable = "unavailable"

// RepoMetadata is what the source provider knows about a repository
// before any clone happens.
type RepoMetadata struct {
	Owner         string   `json:"owner"`
	Name          string   `json:"name"`
	FullName      string   `json:"full_name"`
	Description   string   `json:"description,omitempty"`
	DefaultBranch string   `json:"default_branch,omitempty"`
	Language      string   `json:"language,omitempty"`
	Stars         int      `json:"stars"`
	Forks         int      `json:"forks"`
	OpenIssues    int      `json:"open_issues"`
	SizeKB        int64    `json:"size_kb"`
	Topics        []string `json:"topics,omitempty"`
}

func (m RepoMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *RepoMetadata) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// FileStat describes one of the largest files in the working copy.
type FileStat struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// RepoStructure holds filesystem-derived facts about the working copy.
type RepoStructure struct {
	TotalFiles     int            `json:"total_files"`
	TotalDirs      int            `json:"total_dirs"`
	TotalSizeBytes int64          `json:"total_size_bytes"`
	Languages      map[string]int `json:"languages,omitempty"` // extension -> file count
	LargestFiles   []FileStat     `json:"largest_files,omitempty"`
}

func (s RepoStructure) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *RepoStructure) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Dependency is one entry parsed from a dependency manifest.
type Dependency struct {
	Name      string `json:"name"`
	Version   string `json:"version,omitempty"`
	Ecosystem string `json:"ecosystem"` // go, npm, pip
}

type DependencyList []Dependency

func (d DependencyList) Value() (driver.Value, error) {
	if d == nil {
		return "[]", nil
	}
	return json.Marshal(d)
}

func (d *DependencyList) Scan(value interface{}) error {
	if value == nil {
		*d = DependencyList{}
		return nil
	}
	return scanJSON(value, d)
}

// CodeQuality holds cheap heuristics derived from the working copy.
type CodeQuality struct {
	HasReadme        bool    `json:"has_readme"`
	HasLicense       bool    `json:"has_license"`
	HasCI            bool    `json:"has_ci"`
	TestFileRatio    float64 `json:"test_file_ratio"`
	AvgFileSizeBytes int64   `json:"avg_file_size_bytes"`
}

func (q CodeQuality) Value() (driver.Value, error) {
	return json.Marshal(q)
}

func (q *CodeQuality) Scan(value interface{}) error {
	return scanJSON(value, q)
}

// AnalysisResult is the consolidated output of one pipeline run,
// upserted by (repo_url, mode).
type AnalysisResult struct {
	ID             int64          `gorm:"primaryKey" json:"id"`
	RepoURL        string         `gorm:"size:500;not null;uniqueIndex:idx_results_repo_mode" json:"repo_url"`
	Mode           string         `gorm:"size:20;not null;default:standard;uniqueIndex:idx_results_repo_mode" json:"mode"`
	Status         string         `gorm:"size:20;not null" json:"status"` // full, basic
	Metadata       RepoMetadata   `gorm:"type:json" json:"metadata"`
	Structure      RepoStructure  `gorm:"type:json" json:"structure"`
	Dependencies   DependencyList `gorm:"type:json" json:"dependencies"`
	CodeQuality    CodeQuality    `gorm:"type:json" json:"code_quality"`
	Insights       string         `gorm:"type:text" json:"insights"`
	InsightsURL    string         `gorm:"size:500" json:"insights_url,omitempty"`
	ElapsedSeconds int            `json:"elapsed_seconds"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (AnalysisResult) TableName() string {
	return "analysis_results"
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return nil
	}
}
