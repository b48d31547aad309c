// Package registry owns the active contact groups and keeps them in sync with
// the configuration store.
//
// The active set is an immutable snapshot. Ingestion and the scheduler read it
// without locks; rebuilds swap a new snapshot in and tear the replaced group
// down between ticks.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/patpat/internal/config"
	"github.com/okian/patpat/internal/domain/contact"
	"github.com/okian/patpat/internal/domain/group"
	"github.com/okian/patpat/internal/domain/model"
	"github.com/okian/patpat/internal/domain/types"
	"github.com/okian/patpat/internal/scheduler"
	"github.com/okian/patpat/pkg/logger"
	"github.com/okian/patpat/pkg/metrics"
)

// Controller is the part of the scheduler the registry drives.
type Controller interface {
	Configure(tps int)
	Exclusive(fn func())
}

var (
	groupPathRe    = regexp.MustCompile(`^groups\.([^.]+)`)
	strengthPathRe = regexp.MustCompile(`^groups\.([^.]+)\.solver\.strength$`)
)

// Config key patterns the registry reacts to.
const (
	groupsPattern  = `^groups(\.|$)`
	tpsPattern     = `^program\.main_tps$`
	devicesPattern = `^devices(\.|$)`
	tpsPath        = "program.main_tps"
)

type snapshot struct {
	groups []*group.Group // sorted by key
	active []scheduler.Group
	byKey  map[string]*group.Group
	lut    map[string][]*contact.Sample
}

func newSnapshot(byKey map[string]*group.Group) *snapshot {
	s := &snapshot{
		byKey: byKey,
		lut:   make(map[string][]*contact.Sample),
	}
	for _, g := range byKey {
		s.groups = append(s.groups, g)
	}
	sort.Slice(s.groups, func(i, j int) bool { return s.groups[i].Key < s.groups[j].Key })
	s.active = make([]scheduler.Group, 0, len(s.groups))
	for _, g := range s.groups {
		s.active = append(s.active, g)
		for _, smp := range g.Samples {
			s.lut[smp.ReceiverID] = append(s.lut[smp.ReceiverID], smp)
		}
	}
	return s
}

// Registry builds contact groups from the store and routes readings to them.
type Registry struct {
	store   *config.Store
	resolve group.OutputResolver
	log     logger.Logger
	onPoint func(model.SolvedPoint)
	now     func() time.Time

	// mu serializes rebuilds and guards ctrl and cancels.
	mu      sync.Mutex
	ctrl    Controller
	cancels []func()

	snap atomic.Pointer[snapshot]
}

// New creates an empty Registry. Call Start to build the configured groups.
func New(store *config.Store, resolve group.OutputResolver, opts ...Option) *Registry {
	r := &Registry{
		store:   store,
		resolve: resolve,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("registry")
	}
	r.snap.Store(newSnapshot(map[string]*group.Group{}))
	return r
}

// Bind sets the scheduler the registry reconfigures. Groups replaced before a
// controller is bound are closed directly.
func (r *Registry) Bind(c Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctrl = c
}

// Start builds every configured group and subscribes to configuration changes.
func (r *Registry) Start(ctx context.Context) error {
	subs := []struct {
		pattern string
		fn      config.ChangeFunc
	}{
		{groupsPattern, r.OnConfigChanged},
		{tpsPattern, r.OnConfigChanged},
		{devicesPattern, func(path string) {
			r.log.Warn(context.Background(), "device configuration changed, restart to apply",
				logger.String("path", path))
		}},
	}

	r.mu.Lock()
	for _, sub := range subs {
		cancel, err := r.store.Subscribe(sub.pattern, sub.fn)
		if err != nil {
			r.mu.Unlock()
			r.Stop()
			return fmt.Errorf("subscribe %s: %w", sub.pattern, err)
		}
		r.cancels = append(r.cancels, cancel)
	}
	r.mu.Unlock()

	r.rebuildAll(ctx)
	return nil
}

// Stop unsubscribes from the store and closes every group. The scheduler must
// be stopped first.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.cancels = nil

	prev := r.snap.Swap(newSnapshot(map[string]*group.Group{}))
	for _, g := range prev.groups {
		g.Close()
	}
	metrics.UpdateActiveGroups(0)
}

// Active returns the groups to solve on the next tick.
func (r *Registry) Active() []scheduler.Group { return r.snap.Load().active }

// Groups returns the active groups sorted by key.
func (r *Registry) Groups() []*group.Group { return r.snap.Load().groups }

// Group returns the active group with the given id.
func (r *Registry) Group(id int) (*group.Group, error) {
	for _, g := range r.snap.Load().groups {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrGroupNotFound, id)
}

// Views returns the visible state of every active group.
func (r *Registry) Views() []types.GroupView {
	now := r.now()
	groups := r.snap.Load().groups
	out := make([]types.GroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.View(now))
	}
	return out
}

// Record stores value for every contact point fed by receiverID.
func (r *Registry) Record(receiverID string, value float64, ts time.Time) error {
	samples := r.snap.Load().lut[receiverID]
	if len(samples) == 0 {
		metrics.RecordSampleUnrouted()
		return fmt.Errorf("%w %q", ErrUnrouted, receiverID)
	}
	for _, s := range samples {
		s.Record(value, ts)
	}
	metrics.RecordSampleRecorded()
	return nil
}

// RecordReading is Record for a decoded reading.
func (r *Registry) RecordReading(_ context.Context, rd model.Reading) error {
	return r.Record(rd.ReceiverID, rd.Value, rd.TS)
}

// SetStrength changes the output scale of a group without rebuilding it and
// writes the value back to the store.
func (r *Registry) SetStrength(id, percent int) error {
	g, err := r.Group(id)
	if err != nil {
		return err
	}
	percent = min(max(percent, 0), 100)
	g.SetStrength(percent)
	return r.store.Set(config.GroupPath(g.Key)+".solver.strength", percent)
}

// OnConfigChanged applies a changed configuration path.
func (r *Registry) OnConfigChanged(path string) {
	ctx := context.Background()
	switch {
	case path == tpsPath:
		r.configureTPS(ctx)
	case path == "groups":
		r.rebuildAll(ctx)
	case strengthPathRe.MatchString(path):
		key := strengthPathRe.FindStringSubmatch(path)[1]
		if !r.applyStrength(ctx, key) {
			r.rebuild(ctx, key)
		}
	case groupPathRe.MatchString(path):
		r.rebuild(ctx, groupPathRe.FindStringSubmatch(path)[1])
	}
}

func (r *Registry) configureTPS(ctx context.Context) {
	var tps int
	if err := r.store.Unmarshal(tpsPath, &tps); err != nil && !errors.Is(err, config.ErrNotFound) {
		r.log.Warn(ctx, "invalid tick rate", logger.Error(err))
	}
	r.mu.Lock()
	ctrl := r.ctrl
	r.mu.Unlock()
	if ctrl != nil {
		ctrl.Configure(tps)
	}
	metrics.RecordConfigReload("tps")
}

// applyStrength updates a live group in place. It reports false when the group
// is not active and must be built instead.
func (r *Registry) applyStrength(ctx context.Context, key string) bool {
	g, ok := r.snap.Load().byKey[key]
	if !ok {
		return false
	}
	var percent int
	if err := r.store.Unmarshal(config.GroupPath(key)+".solver.strength", &percent); err != nil {
		r.log.Warn(ctx, "invalid strength", logger.String("group", key), logger.Error(err))
		return true
	}
	if g.Strength() != percent {
		g.SetStrength(percent)
	}
	return true
}

// rebuildAll rebuilds every group from the store.
func (r *Registry) rebuildAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]*group.Group)
	for _, key := range r.store.Keys("groups") {
		if g := r.build(ctx, key); g != nil {
			next[key] = g
		}
	}
	r.swap(ctx, newSnapshot(next))
}

// rebuild builds one group again, removing it when it is gone or invalid.
func (r *Registry) rebuild(ctx context.Context, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load().byKey
	next := make(map[string]*group.Group, len(cur)+1)
	for k, g := range cur {
		if k != key {
			next[k] = g
		}
	}
	if g := r.build(ctx, key); g != nil {
		next[key] = g
	}
	r.swap(ctx, newSnapshot(next))
}

// build returns nil when the group is missing or invalid. Invalid groups are
// logged and stay inactive.
func (r *Registry) build(ctx context.Context, key string) *group.Group {
	var cfg config.GroupConfig
	if err := r.store.Unmarshal(config.GroupPath(key), &cfg); err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			r.log.Error(ctx, "group configuration unreadable", logger.String("group", key), logger.Error(err))
			metrics.RecordConfigReload("error")
		}
		return nil
	}
	g, err := group.New(key, cfg, r.resolve,
		group.WithLogger(r.log.Named("group")),
		group.WithPointObserver(r.onPoint))
	if err != nil {
		r.log.Error(ctx, "group inactive", logger.String("group", key), logger.Error(err))
		metrics.RecordConfigReload("error")
		return nil
	}
	metrics.RecordConfigReload("success")
	r.log.Info(ctx, "group built",
		logger.String("group", key),
		logger.Int("id", g.ID),
		logger.String("solver", g.Solver.Kind().String()),
		logger.Int("points", len(g.Samples)),
		logger.Int("motors", len(g.Motors)))
	return g
}

// swap publishes next and closes every group it no longer contains. Callers hold mu.
func (r *Registry) swap(ctx context.Context, next *snapshot) {
	prev := r.snap.Swap(next)
	metrics.UpdateActiveGroups(len(next.groups))

	var stale []*group.Group
	for key, g := range prev.byKey {
		if next.byKey[key] != g {
			stale = append(stale, g)
		}
	}
	if len(stale) == 0 {
		return
	}
	closeAll := func() {
		for _, g := range stale {
			g.Close()
			r.log.Debug(ctx, "group closed", logger.String("group", g.Key))
		}
	}
	if r.ctrl != nil {
		r.ctrl.Exclusive(closeAll)
		return
	}
	closeAll()
}
