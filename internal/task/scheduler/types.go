package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"skillswap/internal/task/engine"
	logx "skillswap/pkg/logx"
)

// Config controls the trigger service.
type Config struct {
	Enabled bool
	// Timezone is the default location for cron specs without a CRON_TZ prefix.
	Timezone string
	// OnceRetryDelay re-arms a one-shot trigger whose enqueue hit a full queue.
	OnceRetryDelay time.Duration
}

// Re-export execution types from engine.
type OverlapPolicy = engine.OverlapPolicy

type TaskOptions = engine.TaskOptions

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Job is the unit a trigger enqueues.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec or @every
	sched   cron.Schedule
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	opt     TaskOptions
	state   *engine.RunState
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	opt     TaskOptions
	job     Job
	ver     uint64
	timer   *time.Timer
}

// Enqueuer is the execution side the scheduler hands fired triggers to.
// *engine.Service satisfies it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	// Enqueue error throttling: key is schedule name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	// One-time triggers. Definitions outlive Stop() and are re-armed on Start().
	tmu     sync.Mutex
	started bool
	once    map[string]*onceDef
	onceSeq uint64
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Once    bool
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
