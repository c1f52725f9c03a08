package model

import "time"

// ComponentStatus is the lifecycle state of a component. Components are never
// physically deleted; archiving hides them from listings and search.
type ComponentStatus string

const (
	StatusDraft     ComponentStatus = "draft"
	StatusPublished ComponentStatus = "published"
	StatusArchived  ComponentStatus = "archived"
)

// Valid reports whether s is a known component status.
func (s ComponentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Component is a stored UI snippet: source code, styles, a free-form props
// map, and the scoring fields used by search ranking.
type Component struct {
	ID                 string                 `json:"id"`
	Name               string                 `json:"name"`
	Slug               string                 `json:"slug"`
	Description        string                 `json:"description"`
	Category           string                 `json:"category"`
	Framework          string                 `json:"framework"`
	Code               string                 `json:"code"`
	Styles             string                 `json:"styles,omitempty"`
	Props              map[string]interface{} `json:"props"`
	Tags               []string               `json:"tags"`
	UsageCount         int64                  `json:"usage_count"`
	Rating             float64                `json:"rating"`
	ComplexityScore    int                    `json:"complexity_score"`
	PerformanceScore   int                    `json:"performance_score"`
	AccessibilityScore int                    `json:"accessibility_score"`
	IsPublic           bool                   `json:"is_public"`
	Featured           bool                   `json:"featured"`
	Status             ComponentStatus        `json:"status"`
	OwnerID            string                 `json:"owner_id"`
	Version            string                 `json:"version"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// ComponentVariant is an alternate rendering of the same logical component.
type ComponentVariant struct {
	ID          string                 `json:"id"`
	ComponentID string                 `json:"component_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Code        string                 `json:"code"`
	Styles      string                 `json:"styles,omitempty"`
	Props       map[string]interface{} `json:"props,omitempty"`
	IsDefault   bool                   `json:"is_default"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// DependencyType classifies a dependency edge.
type DependencyType string

const (
	DependencyRuntime  DependencyType = "runtime"
	DependencyBuild    DependencyType = "build"
	DependencyPeer     DependencyType = "peer"
	DependencyOptional DependencyType = "optional"
)

// Valid reports whether t is a known dependency type.
func (t DependencyType) Valid() bool {
	switch t {
	case DependencyRuntime, DependencyBuild, DependencyPeer, DependencyOptional:
		return true
	}
	return false
}

// ComponentDependency is a directed edge from a component to either another
// stored component (DependsOnID) or an external package (PackageName).
type ComponentDependency struct {
	ID           string         `json:"id"`
	ComponentID  string         `json:"component_id"`
	DependsOnID  string         `json:"depends_on_id,omitempty"`
	PackageName  string         `json:"package_name,omitempty"`
	Type         DependencyType `json:"type"`
	VersionRange string         `json:"version_range"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Target returns the name this dependency points at, preferring the
// external package name when one is set.
func (d ComponentDependency) Target() string {
	if d.PackageName != "" {
		return d.PackageName
	}
	return d.DependsOnID
}

// ComponentFilter narrows component listings and search queries.
type ComponentFilter struct {
	Query      string
	Category   string
	Framework  string
	Tags       []string
	MinRating  float64
	Featured   *bool
	OwnerID    string
	Status     ComponentStatus
	ViewerID   string // private components owned by the viewer are included
	IncludeAll bool   // admins see everything
	Order      string
	Limit      int
	Offset     int
}
