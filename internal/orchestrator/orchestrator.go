// Package orchestrator composes the registry, lifecycle supervisor,
// message bus, and workflow handle for one session, and exposes the thin
// facades callers drive a session with. The orchestrator owns its parts;
// every CI mutation issued through it lands in both the supervisor and
// the registry.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/parleyhq/parley/internal/bus"
	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/lifecycle"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/memory"
	"github.com/parleyhq/parley/internal/merge"
	"github.com/parleyhq/parley/internal/message"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/registry"
	"github.com/parleyhq/parley/internal/shutdown"
	"github.com/parleyhq/parley/internal/tracing"
	"github.com/parleyhq/parley/internal/workflow"
)

// DigestArchiver persists a session digest on close. The archive store
// satisfies this; nil disables archiving.
type DigestArchiver interface {
	ArchiveDigest(sessionID string, snap memory.Snapshot) error
}

// Config assembles an orchestrator. Zero values pick component defaults.
type Config struct {
	Registry  registry.Config
	Lifecycle lifecycle.Config
	Bus       bus.Config

	// Workflow is the phase workflow for the session. Nil picks the
	// default profile.
	Workflow *workflow.Workflow

	// Tracker receives the session's parts for teardown on shutdown.
	// Nil picks the process default.
	Tracker *shutdown.Tracker

	// Archiver, when set, receives the session digests on Close.
	Archiver DigestArchiver

	// Tracer receives spans for the query and delivery paths. Nil picks
	// a no-op tracer.
	Tracer trace.Tracer

	// Out receives status output. Nil picks os.Stdout.
	Out io.Writer
}

// Orchestrator owns one session's registry, supervisor, bus, workflow,
// and (at most one) active merge negotiation. Not safe for concurrent
// use; the owner serializes access.
type Orchestrator struct {
	sessionID     string
	baseBranch    string
	featureBranch string
	startedAt     time.Time
	running       bool

	reg      *registry.Registry
	sup      *lifecycle.Supervisor
	mbus     *bus.Bus
	loopback *bus.Loopback
	wf       *workflow.Workflow
	neg      *merge.Negotiation

	providers map[string]provider.Provider
	digests   map[string]*memory.Digest
	usage     map[string]*metrics.ContextMetrics

	tracker  *shutdown.Tracker
	archiver DigestArchiver
	tracer   trace.Tracer
	out      io.Writer

	busOnce sync.Once
	closed  bool
}

// New builds an orchestrator for one session. The feature branch is
// derived from the session id.
func New(sessionID, baseBranch string, cfg Config) (*Orchestrator, error) {
	const op = "orchestrator.New"

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if baseBranch == "" {
		return nil, fault.New(fault.NullArg, op, "base branch is empty")
	}

	wf := cfg.Workflow
	if wf == nil {
		wf = workflow.Default()
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = shutdown.Default()
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}

	loopback := bus.NewLoopback()
	mbus := bus.New(cfg.Bus, loopback)
	reg := registry.New(cfg.Registry, mbus)
	sup := lifecycle.New(cfg.Lifecycle, reg)

	o := &Orchestrator{
		sessionID:     sessionID,
		baseBranch:    baseBranch,
		featureBranch: "parley/" + sessionID,
		startedAt:     time.Now(),
		reg:           reg,
		sup:           sup,
		mbus:          mbus,
		loopback:      loopback,
		wf:            wf,
		providers:     make(map[string]provider.Provider),
		digests:       make(map[string]*memory.Digest),
		usage:         make(map[string]*metrics.ContextMetrics),
		tracker:       tracker,
		archiver:      cfg.Archiver,
		tracer:        tracer,
		out:           out,
	}

	if err := tracker.RegisterWorkflow(wf); err != nil {
		return nil, err
	}
	if err := tracker.RegisterSupervisor(sup); err != nil {
		tracker.UnregisterWorkflow(wf)
		return nil, err
	}
	if err := tracker.RegisterRegistry(reg); err != nil {
		tracker.UnregisterWorkflow(wf)
		tracker.UnregisterSupervisor(sup)
		return nil, err
	}

	log.Info(log.CatOrch, "Session created",
		"session", sessionID, "base", baseBranch, "feature", o.featureBranch)
	return o, nil
}

// SessionID returns the session identifier.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Branches returns the base and feature branch names.
func (o *Orchestrator) Branches() (base, feature string) {
	return o.baseBranch, o.featureBranch
}

// Running reports whether the session workflow has been started.
func (o *Orchestrator) Running() bool { return o.running }

// Registry exposes the session registry for direct reads.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Supervisor exposes the lifecycle supervisor for direct reads.
func (o *Orchestrator) Supervisor() *lifecycle.Supervisor { return o.sup }

// Workflow exposes the session workflow.
func (o *Orchestrator) Workflow() *workflow.Workflow { return o.wf }

// Negotiation returns the active merge negotiation, or nil.
func (o *Orchestrator) Negotiation() *merge.Negotiation { return o.neg }

// AddCI registers a CI in both the registry and the supervisor. Port 0
// allocates from the role's range. On a supervisor failure the registry
// entry is rolled back so the two stay in step.
func (o *Orchestrator) AddCI(name string, role registry.Role, model string, port int) (*registry.Entry, error) {
	entry, err := o.reg.AddCI(name, role, model, port)
	if err != nil {
		return nil, err
	}
	if err := o.sup.CreateCI(name); err != nil {
		_ = o.reg.RemoveCI(name)
		return nil, err
	}
	return entry, nil
}

// RemoveCI drops a CI from both tables and releases its provider.
func (o *Orchestrator) RemoveCI(name string) error {
	if p, ok := o.providers[name]; ok {
		if err := p.Cleanup(); err != nil {
			log.Warn(log.CatOrch, "Provider cleanup failed", "ci", name, "error", err)
		}
		delete(o.providers, name)
	}
	delete(o.digests, name)
	delete(o.usage, name)
	o.loopback.Detach(name)
	if err := o.sup.RemoveCI(name); err != nil {
		return err
	}
	return o.reg.RemoveCI(name)
}

// BindProvider attaches a provider instance to a named CI. Any digest
// already bound to the CI is forwarded to the provider.
func (o *Orchestrator) BindProvider(name string, p provider.Provider) error {
	const op = "orchestrator.BindProvider"

	if p == nil {
		return fault.New(fault.NullArg, op, "provider is nil")
	}
	if _, ok := o.reg.FindByName(name); !ok {
		return fault.Errorf(fault.CIInvalid, op, "unknown CI %q", name)
	}
	o.providers[name] = p
	if d, ok := o.digests[name]; ok {
		p.BindDigest(d)
	}
	return nil
}

// BindDigest attaches a memory digest to a named CI and to its provider
// when one is bound. Nil detaches.
func (o *Orchestrator) BindDigest(name string, d *memory.Digest) error {
	const op = "orchestrator.BindDigest"

	if _, ok := o.reg.FindByName(name); !ok {
		return fault.Errorf(fault.CIInvalid, op, "unknown CI %q", name)
	}
	if d == nil {
		delete(o.digests, name)
	} else {
		o.digests[name] = d
	}
	if p, ok := o.providers[name]; ok {
		if d == nil {
			p.BindDigest(nil)
		} else {
			p.BindDigest(d)
		}
	}
	return nil
}

// AttachHandler registers a CI's message handler on the loopback
// transport so bus deliveries reach it.
func (o *Orchestrator) AttachHandler(name string, h bus.Handler) error {
	const op = "orchestrator.AttachHandler"

	if _, ok := o.reg.FindByName(name); !ok {
		return fault.Errorf(fault.CIInvalid, op, "unknown CI %q", name)
	}
	o.loopback.Attach(name, h)
	return nil
}

// StartCI moves a CI out of offline. With a bound provider the provider
// is initialized and connected and the CI is marked ready; errors land as
// a lifecycle error transition. Without a provider the CI stays in
// starting until MarkReady.
func (o *Orchestrator) StartCI(ctx context.Context, name string) error {
	if err := o.sup.StartCI(name); err != nil {
		return err
	}
	p, ok := o.providers[name]
	if !ok {
		return nil
	}
	if err := p.Init(); err != nil {
		_ = o.sup.ReportError(name, err.Error())
		return err
	}
	if err := p.Connect(ctx); err != nil {
		_ = o.sup.ReportError(name, err.Error())
		return err
	}
	return o.sup.MarkReady(name)
}

// MarkReady marks a starting CI ready for work.
func (o *Orchestrator) MarkReady(name string) error {
	return o.sup.MarkReady(name)
}

// StopCI shuts a CI down, gracefully or not, and cleans up its provider.
func (o *Orchestrator) StopCI(name string, graceful bool) error {
	if p, ok := o.providers[name]; ok {
		if err := p.Cleanup(); err != nil {
			log.Warn(log.CatOrch, "Provider cleanup failed", "ci", name, "error", err)
		}
	}
	return o.sup.StopCI(name, graceful)
}

// QueryCI sends a prompt to a CI's bound provider and delivers the
// terminal response through cb. Context usage is recorded per CI.
func (o *Orchestrator) QueryCI(ctx context.Context, name, prompt string, cb provider.Callback) error {
	const op = "orchestrator.QueryCI"

	p, ok := o.providers[name]
	if !ok {
		return fault.Errorf(fault.NoProvider, op, "no provider bound for CI %q", name)
	}
	usage := o.usage[name]
	if usage == nil {
		usage = &metrics.ContextMetrics{WindowBytes: p.MaxContext()}
		o.usage[name] = usage
	}

	var span trace.Span
	ctx, span = o.tracer.Start(ctx, tracing.SpanPrefixProvider+"query",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrSessionID, o.sessionID),
		attribute.String(tracing.AttrCIName, name),
		attribute.String(tracing.AttrProviderType, string(p.Type())),
		attribute.String(tracing.AttrProviderModel, p.Model()),
	)

	err := p.Query(ctx, prompt, func(resp provider.Response) {
		usage.Record(len(resp.Content), !resp.Success)
		if cb != nil {
			cb(resp)
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// StartWorkflow starts the session workflow and the bus dispatch loop.
// Refuses when the session is already running.
func (o *Orchestrator) StartWorkflow(ctx context.Context) error {
	const op = "orchestrator.StartWorkflow"

	if o.running {
		return fault.Errorf(fault.Logic, op, "session %s already running", o.sessionID)
	}
	if err := o.wf.Start(); err != nil {
		return err
	}
	o.busOnce.Do(func() {
		go o.mbus.Run(ctx)
	})
	o.running = true
	log.Info(log.CatOrch, "Workflow started", "session", o.sessionID, "workflow", o.wf.Name())
	return nil
}

// AdvancePhase moves the workflow to its next phase.
func (o *Orchestrator) AdvancePhase() error { return o.wf.AdvancePhase() }

// Pause pauses the running workflow.
func (o *Orchestrator) Pause() error { return o.wf.Pause() }

// Resume resumes a paused workflow.
func (o *Orchestrator) Resume() error { return o.wf.Resume() }

// CreateTask assigns a task to a ready CI.
func (o *Orchestrator) CreateTask(name, description string) error {
	return o.sup.AssignTask(name, description)
}

// CompleteTask finishes a CI's current task.
func (o *Orchestrator) CompleteTask(name string, success bool) error {
	return o.sup.CompleteTask(name, success)
}

// SendMessage delivers one message from one CI to another through the
// registry and the bus.
func (o *Orchestrator) SendMessage(ctx context.Context, from, to string, kind message.Kind, content string) error {
	var span trace.Span
	ctx, span = o.tracer.Start(ctx, tracing.SpanPrefixBus+"send",
		trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrSessionID, o.sessionID),
		attribute.String(tracing.AttrMessageFrom, from),
		attribute.String(tracing.AttrMessageTo, to),
		attribute.String(tracing.AttrMessageKind, string(kind)),
	)

	err := o.reg.SendMessage(ctx, from, to, message.New(from, to, kind, content))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.AddEvent(tracing.EventMessageQueued)
	span.SetStatus(codes.Ok, "")
	return nil
}

// BroadcastMessage fans a message out to every deliverable CI, optionally
// filtered by role. The sender is excluded.
func (o *Orchestrator) BroadcastMessage(ctx context.Context, from string, roleFilter registry.Role, content string) error {
	return o.reg.Broadcast(ctx, from, roleFilter, message.New(from, "", message.KindBroadcast, content))
}

// StartMerge opens a merge negotiation between two branches. Refuses when
// one is already active.
func (o *Orchestrator) StartMerge(branchA, branchB string) (*merge.Negotiation, error) {
	const op = "orchestrator.StartMerge"

	if o.neg != nil {
		return nil, fault.Errorf(fault.Logic, op,
			"negotiation %s already active", o.neg.SessionID())
	}
	neg, err := merge.NewNegotiation(branchA, branchB)
	if err != nil {
		return nil, err
	}
	o.neg = neg
	log.Info(log.CatOrch, "Merge negotiation started",
		"session", o.sessionID, "merge", neg.SessionID(), "a", branchA, "b", branchB)
	return neg, nil
}

// AddConflict records a conflict on the active negotiation.
func (o *Orchestrator) AddConflict(file string, lineStart, lineEnd int, contentA, contentB string) (int, error) {
	const op = "orchestrator.AddConflict"

	if o.neg == nil {
		return 0, fault.New(fault.Logic, op, "no active negotiation")
	}
	return o.neg.AddConflict(file, lineStart, lineEnd, contentA, contentB)
}

// ProposeResolution records a CI's proposal on the active negotiation.
func (o *Orchestrator) ProposeResolution(ci string, conflictIdx int, content string, confidence float64) (int, error) {
	const op = "orchestrator.ProposeResolution"

	if o.neg == nil {
		return 0, fault.New(fault.Logic, op, "no active negotiation")
	}
	return o.neg.ProposeResolution(ci, conflictIdx, content, confidence)
}

// FinalizeMerge resolves every conflict by best proposal and closes the
// negotiation. Refuses when any conflict has no proposal.
func (o *Orchestrator) FinalizeMerge() error {
	const op = "orchestrator.FinalizeMerge"

	if o.neg == nil {
		return fault.New(fault.Logic, op, "no active negotiation")
	}
	if err := o.neg.ResolveAll(); err != nil {
		return err
	}
	if err := o.neg.Finalize(); err != nil {
		return err
	}
	log.Info(log.CatOrch, "Merge negotiation finalized",
		"session", o.sessionID, "merge", o.neg.SessionID(),
		"conflicts", o.neg.ConflictCount())
	o.neg = nil
	return nil
}

// StatusText renders a human-readable session status block.
func (o *Orchestrator) StatusText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "session %s  base=%s feature=%s\n", o.sessionID, o.baseBranch, o.featureBranch)
	phase, idx := o.wf.CurrentPhase()
	fmt.Fprintf(&b, "workflow %s  state=%s phase=%d/%d (%s)\n",
		o.wf.Name(), o.wf.State(), idx+1, len(o.wf.Phases()), phase.Name)
	fmt.Fprintf(&b, "bus delivered=%d failed=%d pending=%d\n",
		o.mbus.Delivered(), o.mbus.Failed(), o.mbus.PendingCount())

	for _, e := range o.reg.All() {
		fmt.Fprintf(&b, "  %-20s %-12s %-8s port=%d sent=%d recv=%d errs=%d",
			e.Name, e.Role, e.Status, e.Port,
			e.Counters.Sent, e.Counters.Received, e.Counters.Errors)
		if u, ok := o.usage[e.Name]; ok {
			fmt.Fprintf(&b, " ctx=%s", u.FormatContextUsage())
		}
		b.WriteByte('\n')
	}
	if o.neg != nil {
		fmt.Fprintf(&b, "merge %s  conflicts=%d resolved=%d\n",
			o.neg.SessionID(), o.neg.ConflictCount(), o.neg.ResolvedCount())
	}
	return b.String()
}

// statusCI is the per-CI slice of the JSON status report.
type statusCI struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Status   string `json:"status"`
	Port     int    `json:"port"`
	Sent     int    `json:"sent"`
	Received int    `json:"received"`
	Errors   int    `json:"errors"`
	Context  string `json:"context_usage,omitempty"`
}

type statusReport struct {
	SessionID     string     `json:"session_id"`
	BaseBranch    string     `json:"base_branch"`
	FeatureBranch string     `json:"feature_branch"`
	Running       bool       `json:"running"`
	StartedAt     time.Time  `json:"started_at"`
	Workflow      string     `json:"workflow"`
	WorkflowState string     `json:"workflow_state"`
	Phase         string     `json:"phase"`
	BusDelivered  int64      `json:"bus_delivered"`
	BusFailed     int64      `json:"bus_failed"`
	CIs           []statusCI `json:"cis"`
	MergeActive   bool       `json:"merge_active"`
}

// StatusJSON renders the session status as JSON.
func (o *Orchestrator) StatusJSON() ([]byte, error) {
	phase, _ := o.wf.CurrentPhase()
	report := statusReport{
		SessionID:     o.sessionID,
		BaseBranch:    o.baseBranch,
		FeatureBranch: o.featureBranch,
		Running:       o.running,
		StartedAt:     o.startedAt,
		Workflow:      o.wf.Name(),
		WorkflowState: string(o.wf.State()),
		Phase:         phase.Name,
		BusDelivered:  o.mbus.Delivered(),
		BusFailed:     o.mbus.Failed(),
		CIs:           []statusCI{},
		MergeActive:   o.neg != nil,
	}
	for _, e := range o.reg.All() {
		ci := statusCI{
			Name:     e.Name,
			Role:     string(e.Role),
			Status:   string(e.Status),
			Port:     e.Port,
			Sent:     e.Counters.Sent,
			Received: e.Counters.Received,
			Errors:   e.Counters.Errors,
		}
		if u, ok := o.usage[e.Name]; ok {
			ci.Context = u.FormatContextUsage()
		}
		report.CIs = append(report.CIs, ci)
	}
	return json.MarshalIndent(report, "", "  ")
}

// Close tears the session down: workflow stopped, providers cleaned up,
// digests archived when configured, bus drained, supervisor and registry
// released, everything unregistered from the tracker. Idempotent.
func (o *Orchestrator) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.running = false

	var errs []error
	if err := o.wf.Stop(); err != nil {
		errs = append(errs, err)
	}
	for name, p := range o.providers {
		if err := p.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", name, err))
		}
	}
	if o.archiver != nil {
		for name, d := range o.digests {
			if err := o.archiver.ArchiveDigest(o.sessionID, d.Snapshot()); err != nil {
				log.Warn(log.CatOrch, "Digest archive failed",
					"session", o.sessionID, "ci", name, "error", err)
				errs = append(errs, err)
			}
		}
	}
	if err := o.mbus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := o.sup.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := o.reg.Close(); err != nil {
		errs = append(errs, err)
	}

	o.tracker.UnregisterWorkflow(o.wf)
	o.tracker.UnregisterSupervisor(o.sup)
	o.tracker.UnregisterRegistry(o.reg)

	log.Info(log.CatOrch, "Session closed", "session", o.sessionID)
	if len(errs) > 0 {
		return fmt.Errorf("close session %s: %w", o.sessionID, errs[0])
	}
	return nil
}

// SetupFunc configures a fresh session: CIs, providers, tasks.
type SetupFunc func(o *Orchestrator) error

// RunSession builds an orchestrator, runs setup, starts the workflow,
// prints status, and always destroys the orchestrator on return.
func RunSession(ctx context.Context, sessionID, baseBranch string, cfg Config, setup SetupFunc) error {
	o, err := New(sessionID, baseBranch, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := o.Close(); err != nil {
			log.Warn(log.CatOrch, "Session teardown error", "session", o.sessionID, "error", err)
		}
	}()

	if setup != nil {
		if err := setup(o); err != nil {
			return err
		}
	}
	if err := o.StartWorkflow(ctx); err != nil {
		return err
	}
	_, err = io.WriteString(o.out, o.StatusText())
	return err
}
