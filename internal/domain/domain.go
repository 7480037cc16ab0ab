package domain

// Attitude is a stakeholder's stance toward the project.
type Attitude string

const (
	AttitudeSupportive Attitude = "Supportive"
	AttitudeNeutral    Attitude = "Neutral"
	AttitudeResistant  Attitude = "Resistant"
)

// Valid reports whether a is one of the known attitudes.
func (a Attitude) Valid() bool {
	switch a {
	case AttitudeSupportive, AttitudeNeutral, AttitudeResistant:
		return true
	}
	return false
}

// Metric names one of the four constraint gauges.
type Metric string

const (
	MetricSchedule Metric = "schedule"
	MetricBudget   Metric = "budget"
	MetricMorale   Metric = "morale"
	MetricScope    Metric = "scope"
)

// Metrics lists the constraint gauges in display order.
var Metrics = []Metric{MetricSchedule, MetricBudget, MetricMorale, MetricScope}

// Valid reports whether m names a known gauge.
func (m Metric) Valid() bool {
	switch m {
	case MetricSchedule, MetricBudget, MetricMorale, MetricScope:
		return true
	}
	return false
}

// Severity is the visual weight of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Stakeholder struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	Role                string   `json:"role" yaml:"role"`
	Power               string   `json:"power,omitempty" yaml:"power"`
	Interest            string   `json:"interest,omitempty" yaml:"interest"`
	Attitude            Attitude `json:"attitude" yaml:"attitude" enum:"Supportive,Neutral,Resistant"`
	IsIdentified        bool     `json:"is_identified" yaml:"identified"`
	IsAnalyzed          bool     `json:"is_analyzed" yaml:"analyzed"`
	ParentStakeholderID string   `json:"parent_stakeholder_id,omitempty" yaml:"parent"`
	Secret              string   `json:"-" yaml:"secret"`
}

type EvidenceItem struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description,omitempty" yaml:"description"`
	Type         string `json:"type" yaml:"type"`
	IsDistractor bool   `json:"is_distractor" yaml:"distractor"`
	QualityScore int    `json:"quality_score" yaml:"quality"`
}

type Contact struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Role        string `json:"role,omitempty" yaml:"role"`
	IsUnlocked  bool   `json:"is_unlocked" yaml:"unlocked"`
	HasUnread   bool   `json:"has_unread_messages" yaml:"unread"`
	LastMessage string `json:"last_message,omitempty" yaml:"-"`
}

type Notification struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Message    string   `json:"message"`
	Severity   Severity `json:"severity" enum:"info,success,warning,error"`
	DurationMs int      `json:"duration_ms"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

type Constraints struct {
	Schedule int `json:"schedule" yaml:"schedule"`
	Budget   int `json:"budget" yaml:"budget"`
	Morale   int `json:"morale" yaml:"morale"`
	Scope    int `json:"scope" yaml:"scope"`
}

// Get returns the value of one gauge.
func (c Constraints) Get(m Metric) int {
	switch m {
	case MetricSchedule:
		return c.Schedule
	case MetricBudget:
		return c.Budget
	case MetricMorale:
		return c.Morale
	case MetricScope:
		return c.Scope
	}
	return 0
}

// Set assigns one gauge. Unknown metrics are ignored.
func (c *Constraints) Set(m Metric, v int) {
	switch m {
	case MetricSchedule:
		c.Schedule = v
	case MetricBudget:
		c.Budget = v
	case MetricMorale:
		c.Morale = v
	case MetricScope:
		c.Scope = v
	}
}

type GameOver struct {
	Reason  string `json:"reason"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Lesson  string `json:"lesson,omitempty"`
	At      string `json:"at" format:"date-time"`
}

// GameSnapshot is the read model of a session's collaborators.
type GameSnapshot struct {
	Level             int            `json:"level"`
	LevelTitle        string         `json:"level_title"`
	Constraints       Constraints    `json:"constraints"`
	UnlockedApps      []string       `json:"unlocked_apps"`
	UnlockedProcesses []string       `json:"unlocked_processes"`
	Inventory         []EvidenceItem `json:"inventory"`
	Stakeholders      []Stakeholder  `json:"stakeholders"`
	Contacts          []Contact      `json:"contacts"`
	Notifications     []Notification `json:"notifications"`
	Objectives        []string       `json:"completed_objectives"`
	GameOver          *GameOver      `json:"game_over,omitempty"`
}

type Session struct {
	ID        string `json:"id"`
	PlayerID  string `json:"player_id"`
	Status    string `json:"status" enum:"active,game_over,closed"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	ContactID *string        `json:"contact_id,omitempty"`
	EntityID  *string        `json:"entity_id,omitempty"`
	Payload   map[string]any `json:"payload"`
}
