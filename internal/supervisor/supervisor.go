package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/sirupsen/logrus"
)

// StateObserver is told about every slot transition, in order, off the
// caller's goroutine.
type StateObserver interface {
	SlotChanged(ctx context.Context, record entity.ProcessRecord)
}

type Option func(*Supervisor)

func WithMonitorInterval(interval time.Duration) Option {
	return func(s *Supervisor) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithObserver(observer StateObserver) Option {
	return func(s *Supervisor) {
		s.observer = observer
	}
}

// Supervisor owns the worker slots and the monitor that watches them. Slots
// are independent; nothing here coordinates across them.
type Supervisor struct {
	log      *logrus.Logger
	interval time.Duration
	observer StateObserver

	slots  map[entity.WorkerKind]*Slot
	events chan entity.ProcessRecord

	stop     chan struct{}
	stopOnce sync.Once
	runOnce  sync.Once
	wg       sync.WaitGroup
}

func New(logger *logrus.Logger, opts ...Option) *Supervisor {
	s := &Supervisor{
		log:      logger,
		interval: time.Second,
		slots:    make(map[entity.WorkerKind]*Slot),
		events:   make(chan entity.ProcessRecord, 64),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a slot. It must be called before Run.
func (s *Supervisor) Register(cfg SlotConfig) *Slot {
	slot := newSlot(cfg, s.log, s.publish)
	s.slots[cfg.Kind] = slot
	return slot
}

func (s *Supervisor) Slot(kind entity.WorkerKind) (*Slot, error) {
	slot, ok := s.slots[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSlot, kind)
	}
	return slot, nil
}

func (s *Supervisor) Start(ctx context.Context, kind entity.WorkerKind, req StartRequest) (entity.ProcessRecord, error) {
	slot, err := s.Slot(kind)
	if err != nil {
		return entity.ProcessRecord{Kind: kind}, err
	}
	return slot.Start(ctx, req)
}

func (s *Supervisor) Stop(ctx context.Context, kind entity.WorkerKind) (entity.ProcessRecord, error) {
	slot, err := s.Slot(kind)
	if err != nil {
		return entity.ProcessRecord{Kind: kind}, err
	}
	return slot.Stop(ctx)
}

func (s *Supervisor) Status(kind entity.WorkerKind) (entity.ProcessRecord, error) {
	slot, err := s.Slot(kind)
	if err != nil {
		return entity.ProcessRecord{Kind: kind}, err
	}
	return slot.Status(), nil
}

// Snapshot returns every slot's record, ordered by kind.
func (s *Supervisor) Snapshot() []entity.ProcessRecord {
	kinds := make([]string, 0, len(s.slots))
	for kind := range s.slots {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	records := make([]entity.ProcessRecord, 0, len(kinds))
	for _, kind := range kinds {
		records = append(records, s.slots[entity.WorkerKind(kind)].Status())
	}
	return records
}

// Run starts the monitor and the observer dispatcher.
func (s *Supervisor) Run() {
	s.runOnce.Do(func() {
		s.wg.Add(2)
		go s.monitor()
		go s.dispatch()
	})
}

func (s *Supervisor) monitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			for _, slot := range s.slots {
				slot.check()
			}
		}
	}
}

func (s *Supervisor) publish(record entity.ProcessRecord) {
	if s.observer == nil {
		return
	}
	select {
	case s.events <- record:
	default:
		s.log.WithFields(log.Fields{
			"kind":  record.Kind,
			"state": record.State,
		}).Warn("Slot state event dropped, observer is behind")
	}
}

func (s *Supervisor) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			for {
				select {
				case record := <-s.events:
					s.deliver(record)
				default:
					return
				}
			}
		case record := <-s.events:
			s.deliver(record)
		}
	}
}

func (s *Supervisor) deliver(record entity.ProcessRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.observer.SlotChanged(ctx, record)
}

// Shutdown stops every slot through the graceful path, then the monitor.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var firstErr error
	for kind, slot := range s.slots {
		if _, err := slot.Stop(ctx); err != nil {
			s.log.WithFields(log.Fields{
				"kind":  kind,
				"error": err.Error(),
			}).Error("Failed to stop worker during shutdown")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return firstErr
}
