package schedule

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule a cron trigger registered by a script
type Schedule struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	ScriptID   string    `json:"scriptId"`
	Handler    string    `json:"handler"`
	Next       time.Time `json:"next,omitempty"`
	LastFired  time.Time `json:"lastFired,omitempty"`
	id         cron.EntryID
	registered time.Time
}

// Job a schedule waiting to be registered
type Job struct {
	Name     string
	Schedule string
	Handler  string
}

// Runner invokes the guest handler of a fired schedule
type Runner func(sch Schedule, firedAt time.Time)

// Scheduler one cron for every script schedule
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	parser    cron.Parser
	schedules map[string]*Schedule
	run       Runner
	started   bool
}
