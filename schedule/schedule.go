package schedule

import (
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yaoapp/kun/log"
	"github.com/yaoapp/weave/failure"
)

// New create a scheduler. Expressions take an optional seconds field and the
// @every / @hourly descriptors.
func New(run Runner) *Scheduler {
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser)),
		parser:    parser,
		schedules: map[string]*Schedule{},
		run:       run,
	}
}

// Check validates a schedule without registering it
func (s *Scheduler) Check(name, expression, handler string) error {
	if name == "" || handler == "" {
		return failure.New(failure.BadRequest, "a schedule needs a name and a handler")
	}
	if _, err := s.parser.Parse(expression); err != nil {
		return failure.New(failure.BadRequest, "schedule %s: %s", name, err.Error())
	}
	return nil
}

// Register a schedule, replacing one with the same name
func (s *Scheduler) Register(scriptID, name, expression, handler string) error {
	if err := s.Check(name, expression, handler); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(scriptID, name, expression, handler)
}

// Replace swaps every schedule of the script for jobs
func (s *Scheduler) Replace(scriptID string, jobs []Job) error {
	for _, job := range jobs {
		if err := s.Check(job.Name, job.Schedule, job.Handler); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := map[string]bool{}
	for _, job := range jobs {
		names[job.Name] = true
	}
	for name, sch := range s.schedules {
		if sch.ScriptID == scriptID && !names[name] {
			s.cron.Remove(sch.id)
			delete(s.schedules, name)
		}
	}
	for _, job := range jobs {
		if err := s.add(scriptID, job.Name, job.Schedule, job.Handler); err != nil {
			return err
		}
	}
	return nil
}

// add must hold s.mu
func (s *Scheduler) add(scriptID, name, expression, handler string) error {
	if prev, has := s.schedules[name]; has {
		if prev.ScriptID != scriptID {
			log.Warn("[Schedule] %s of %s is replaced by %s", name, prev.ScriptID, scriptID)
		}
		s.cron.Remove(prev.id)
		delete(s.schedules, name)
	}

	sch := &Schedule{Name: name, Schedule: expression, ScriptID: scriptID, Handler: handler, registered: time.Now()}
	id, err := s.cron.AddFunc(expression, func() { s.fire(name) })
	if err != nil {
		return failure.New(failure.BadRequest, "schedule %s: %s", name, err.Error())
	}
	sch.id = id
	s.schedules[name] = sch
	log.Info("[Schedule] %s %s -> %s.%s", name, expression, scriptID, handler)
	return nil
}

// Unregister a schedule
func (s *Scheduler) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, has := s.schedules[name]
	if !has {
		return false
	}
	s.cron.Remove(sch.id)
	delete(s.schedules, name)
	return true
}

// RemoveScript drop every schedule of the script
func (s *Scheduler) RemoveScript(scriptID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for name, sch := range s.schedules {
		if sch.ScriptID == scriptID {
			s.cron.Remove(sch.id)
			delete(s.schedules, name)
			removed++
		}
	}
	return removed
}

// Select a schedule by name
func (s *Scheduler) Select(name string) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, has := s.schedules[name]
	if !has {
		return Schedule{}, false
	}
	return s.snapshot(sch), true
}

// List the schedules sorted by name
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Schedule, 0, len(s.schedules))
	for _, sch := range s.schedules {
		list = append(list, s.snapshot(sch))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Trigger fire a schedule now, outside its expression
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	_, has := s.schedules[name]
	s.mu.Unlock()
	if !has {
		return false
	}
	s.fire(name)
	return true
}

// Start the schedule
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop the schedule, waiting for running jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) fire(name string) {
	now := time.Now()
	s.mu.Lock()
	sch, has := s.schedules[name]
	if has {
		sch.LastFired = now
	}
	s.mu.Unlock()
	if !has || s.run == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("[Schedule] %s %v", name, r)
		}
	}()
	s.run(*sch, now)
}

func (s *Scheduler) snapshot(sch *Schedule) Schedule {
	out := *sch
	if entry := s.cron.Entry(sch.id); entry.Valid() {
		out.Next = entry.Next
	}
	return out
}
