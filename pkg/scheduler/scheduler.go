// Copyright © 2026 Dot Agents Contributors - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package scheduler drives workflow cron triggers. Each schedule entry
// becomes one job; firings are fanned out as trigger events and recorded
// in a SQLite stats store when one is attached.
package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/dot-agents/agentsd/internal/bus"
	"github.com/dot-agents/agentsd/pkg/workflow"
)

// Job statuses recorded after a run completes.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ManualSuffix is the schedule index used for ad-hoc triggers.
const ManualSuffix = "manual"

// Job is one registered schedule entry.
type Job struct {
	ID         string            `json:"id"`
	Workflow   string            `json:"workflow"`
	Cron       string            `json:"cron,omitempty"`
	Inputs     map[string]string `json:"inputs,omitempty"`
	LastRun    *time.Time        `json:"lastRun,omitempty"`
	NextRun    *time.Time        `json:"nextRun,omitempty"`
	LastStatus string            `json:"lastStatus,omitempty"`

	entryID cron.EntryID
}

// Trigger is emitted when a job fires.
type Trigger struct {
	Job      Job
	Workflow *workflow.Workflow
	Inputs   map[string]string
}

// Scheduler owns the cron engine and the job table.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	broker *bus.Broker[Trigger]
	store  *Store

	mu        sync.Mutex
	jobs      map[string]*Job
	workflows map[string]*workflow.Workflow
}

// New creates a scheduler. store may be nil to skip persistence.
func New(store *Store, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(),
		logger:    logger,
		broker:    bus.NewBroker[Trigger](),
		store:     store,
		jobs:      make(map[string]*Job),
		workflows: make(map[string]*workflow.Workflow),
	}
}

// Subscribe returns the trigger event channel and a cancel function.
func (s *Scheduler) Subscribe() (<-chan Trigger, func()) {
	return s.broker.Subscribe()
}

// Start activates all registered cron entries.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop halts cron firings but keeps registrations.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.broker.Close()
	s.logger.Info("Scheduler stopped")
}

// AddWorkflow registers one job per schedule entry of w.
func (s *Scheduler) AddWorkflow(w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.workflows[w.Name] = w
	if w.On == nil {
		return nil
	}
	for i, sched := range w.On.Schedule {
		jobID := fmt.Sprintf("%s:%d", w.Name, i)
		job := &Job{
			ID:       jobID,
			Workflow: w.Name,
			Cron:     sched.Cron,
			Inputs:   sched.Inputs,
		}
		if s.store != nil {
			if lastRun, status, err := s.store.LastStatus(jobID); err == nil {
				job.LastRun = lastRun
				job.LastStatus = status
			}
		}

		entryID, err := s.cron.AddFunc(sched.Cron, func() { s.fire(jobID) })
		if err != nil {
			return fmt.Errorf("workflow %s: invalid cron %q: %w", w.Name, sched.Cron, err)
		}
		job.entryID = entryID
		s.jobs[jobID] = job
		s.logger.Debug("Registered cron job",
			zap.String("job_id", jobID),
			zap.String("cron", sched.Cron))
	}
	return nil
}

// RemoveWorkflow drops the workflow and all of its jobs.
func (s *Scheduler) RemoveWorkflow(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workflows, name)
	prefix := name + ":"
	for id, job := range s.jobs {
		if strings.HasPrefix(id, prefix) {
			if job.entryID != 0 {
				s.cron.Remove(job.entryID)
			}
			delete(s.jobs, id)
		}
	}
}

// ReloadWorkflow re-registers a changed workflow.
func (s *Scheduler) ReloadWorkflow(w *workflow.Workflow) error {
	s.RemoveWorkflow(w.Name)
	return s.AddWorkflow(w)
}

// GetJobs returns all jobs with refreshed nextRun, sorted by nextRun
// ascending with unscheduled jobs last.
func (s *Scheduler) GetJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		s.refreshNextRunLocked(job)
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextRun, out[j].NextRun
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return out[i].ID < out[j].ID
		default:
			return a.Before(*b)
		}
	})
	return out
}

// GetJob returns one job by id.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	s.refreshNextRunLocked(job)
	return *job, true
}

// TriggerJob fires a registered job immediately.
func (s *Scheduler) TriggerJob(id string) error {
	s.mu.Lock()
	_, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", id)
	}
	s.fire(id)
	return nil
}

// TriggerWorkflow fires an ad-hoc run of the named workflow, reporting
// whether the workflow is registered.
func (s *Scheduler) TriggerWorkflow(name string, inputs map[string]string) bool {
	s.mu.Lock()
	w, ok := s.workflows[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	jobID := name + ":" + ManualSuffix
	job, exists := s.jobs[jobID]
	if !exists {
		job = &Job{ID: jobID, Workflow: name}
		s.jobs[jobID] = job
	}
	now := time.Now()
	job.LastRun = &now
	snapshot := *job
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.RecordFire(jobID, name, now); err != nil {
			s.logger.Warn("Failed to persist manual trigger", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	s.logger.Info("Manual trigger", zap.String("workflow", name))
	s.broker.Publish(Trigger{Job: snapshot, Workflow: w, Inputs: inputs})
	return true
}

// UpdateJobStatus records the outcome of the job's most recent run.
func (s *Scheduler) UpdateJobStatus(id string, success bool) {
	s.mu.Lock()
	if job, ok := s.jobs[id]; ok {
		if success {
			job.LastStatus = StatusSuccess
		} else {
			job.LastStatus = StatusFailure
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.RecordOutcome(id, success); err != nil {
			s.logger.Warn("Failed to persist job outcome", zap.String("job_id", id), zap.Error(err))
		}
	}
}

func (s *Scheduler) fire(jobID string) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	job.LastRun = &now
	w := s.workflows[job.Workflow]
	snapshot := *job
	s.mu.Unlock()

	if w == nil {
		s.logger.Warn("Job fired for unregistered workflow", zap.String("job_id", jobID))
		return
	}
	if s.store != nil {
		if err := s.store.RecordFire(jobID, w.Name, now); err != nil {
			s.logger.Warn("Failed to persist job firing", zap.String("job_id", jobID), zap.Error(err))
		}
	}
	s.logger.Info("Job fired",
		zap.String("job_id", jobID),
		zap.String("workflow", w.Name))
	s.broker.Publish(Trigger{Job: snapshot, Workflow: w, Inputs: snapshot.Inputs})
}

func (s *Scheduler) refreshNextRunLocked(job *Job) {
	if job.entryID == 0 {
		job.NextRun = nil
		return
	}
	entry := s.cron.Entry(job.entryID)
	if entry.Next.IsZero() {
		job.NextRun = nil
		return
	}
	next := entry.Next
	job.NextRun = &next
}
