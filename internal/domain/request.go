package domain

import "time"

// RequestStatus is the lifecycle status of a TranslationRequest.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusFailed     RequestStatus = "failed"
	StatusCancelled  RequestStatus = "cancelled"
	StatusCompleted  RequestStatus = "completed"
)

// Active reports whether a request with this status still holds a dedupe slot.
func (s RequestStatus) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// TranslationRequest is the unit of work the scheduler, request service and
// job runner coordinate over. At most one active (Pending/InProgress) row may
// exist for a given (MediaID, MediaKind, SourceLang, TargetLang) tuple — the
// store enforces this with a partial unique index, not application locking.
type TranslationRequest struct {
	ID                 string // client-generated UUID, see internal/store
	TitleSnapshot      string
	MediaID            int64
	MediaKind          MediaKind
	SourceLang         string
	TargetLang         string
	SourcePath         string // empty means "resolve from embedded subtitle"
	TranslatedPath     string
	Status             RequestStatus
	Progress           int
	IsPriority         bool
	IsActive           bool
	CompletedAt        *time.Time
	Stamps
}

// LogLevel mirrors the severity vocabulary TranslationRequestLog rows carry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// TranslationRequestLog is one structured line attached to a request. It is
// the single channel of user-visible progress; duplicates are
// never deduplicated.
type TranslationRequestLog struct {
	ID        int64
	RequestID string
	Level     LogLevel
	Message   string
	Details   string
	CreatedAt time.Time
}

// RequestAttrs is the input to the request service's create operation.
type RequestAttrs struct {
	TitleSnapshot string
	MediaID       int64
	MediaKind     MediaKind
	SourceLang    string
	TargetLang    string
	SourcePath    string
	IsPriority    bool
}
