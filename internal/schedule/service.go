package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quizcast/internal/dispatch"
	logx "quizcast/pkg/logx"
)

// Submitter hands a deferred request to the dispatch engine at fire time.
type Submitter interface {
	Submit(req dispatch.Request) (int64, error)
}

// Entry describes one registered deferred send.
type Entry struct {
	ID        int64
	Name      string
	Spec      string
	Recurring bool
	Next      time.Time
}

type def struct {
	id        int64
	name      string
	spec      string
	req       dispatch.Request
	recurring bool
	entryID   cron.EntryID
	timer     *time.Timer
	next      time.Time
}

// Service holds deferred sends: one-shot delays fire from a timer, cron
// specs fire from a shared cron runner. Both submit the stored request.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	sub Submitter
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron

	nextID  int64
	defs    map[int64]*def
	started bool
}

func New(sub Submitter, timezone string, log logx.Logger) (*Service, error) {
	loc := time.Local
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("schedule: timezone: %w", err)
		}
		loc = l
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Service{
		log:    log,
		sub:    sub,
		loc:    loc,
		parser: parser,
		c:      cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		defs:   make(map[int64]*def),
	}
	return s, nil
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
}

// Stop halts the cron runner and all pending one-shot timers. Fires in
// flight finish on their own.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, d := range s.defs {
		if d.timer != nil {
			d.timer.Stop()
		}
	}
	s.defs = make(map[int64]*def)
	s.mu.Unlock()

	<-s.c.Stop().Done()
}

// Defer registers req to fire per the given schedule string. Delay specs
// fire once and drop off; cron specs recur until removed.
func (s *Service) Defer(name, raw string, req dispatch.Request) (Entry, error) {
	ps, err := ParseSpec(raw)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return Entry{}, fmt.Errorf("schedule: service not started")
	}

	s.nextID++
	d := &def{id: s.nextID, name: name, spec: raw, req: req}

	switch ps.Kind {
	case SpecDelay:
		d.next = time.Now().In(s.loc).Add(ps.Delay)
		id := d.id
		d.timer = time.AfterFunc(ps.Delay, func() { s.fire(id) })
	case SpecCron:
		d.recurring = true
		id := d.id
		eid, err := s.c.AddJob(ps.Cron, cron.FuncJob(func() { s.fire(id) }))
		if err != nil {
			return Entry{}, fmt.Errorf("schedule: %w", err)
		}
		d.entryID = eid
		d.next = s.c.Entry(eid).Next
	}

	s.defs[d.id] = d
	return Entry{ID: d.id, Name: d.name, Spec: d.spec, Recurring: d.recurring, Next: d.next}, nil
}

// List returns registered entries ordered by id.
func (s *Service) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{ID: d.id, Name: d.name, Spec: d.spec, Recurring: d.recurring, Next: d.next}
		if d.recurring {
			e.Next = s.c.Entry(d.entryID).Next
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove drops a deferred send before it fires (or stops a recurring one).
func (s *Service) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[id]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.recurring {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, id)
	return true
}

func (s *Service) fire(id int64) {
	s.mu.Lock()
	d, ok := s.defs[id]
	if ok && !d.recurring {
		delete(s.defs, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	jobID, err := s.sub.Submit(d.req)
	if err != nil {
		s.log.Warn("deferred send failed to submit",
			logx.Int64("schedule_id", d.id),
			logx.String("name", d.name),
			logx.Err(err))
		return
	}
	s.log.Info("deferred send submitted",
		logx.Int64("schedule_id", d.id),
		logx.String("name", d.name),
		logx.Int64("job_id", jobID))
}
