// Package cache holds the per-pass working set of a workflow instance: the
// instance row, its activity instances indexed by memoization key, and the
// activity definitions resolved during the pass.
//
// Rows are written back in batches by Save. Every Save goes through the
// fallback protocol, so a primary store outage turns into a summary blob
// plus a postponement instead of lost state. Load prefers a summary blob
// over the primary rows unless the blob is stale.
//
// A Cache is safe for concurrent use by the iterations of a parallel
// activity. Callers work on copies: Activity returns a clone, Put stores
// one.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/activity"
	"github.com/nexus-link/durable/fallback"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/workflow"
)

// Store is the part of the primary store the cache reads and writes.
type Store interface {
	workflow.Store
	activity.Store
}

// Definition identifies an activity within a workflow version.
type Definition struct {
	Title                   string
	Type                    activity.Type
	ParentActivityVersionID id.ID
	Position                int
	FailUrgency             activity.FailUrgency
}

// Cache is the working set of one workflow instance during one pass.
type Cache struct {
	store    Store
	protocol *fallback.Protocol
	logger   *slog.Logger

	form    *workflow.Form
	version *workflow.Version

	mu            sync.Mutex
	instance      *workflow.Instance
	instanceNew   bool
	instanceDirty bool
	baseEtag      string
	hasBlob       bool
	hydrated      bool

	activities map[string]*activity.Instance // memoization key -> row
	byID       map[string]*activity.Instance
	order      []string // activity ids in arrival order
	created    map[string]bool
	dirty      map[string]bool
	latest     string

	versions map[string]*activity.Version // title -> version
}

// Load reads the instance and its activities. When a fresh summary blob
// exists it wins over the primary rows. A missing instance leaves the
// cache empty; call Create to start one.
func Load(ctx context.Context, store Store, protocol *fallback.Protocol, form *workflow.Form, version *workflow.Version, instanceID id.ID, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:      store,
		protocol:   protocol,
		logger:     logger,
		form:       form,
		version:    version,
		activities: make(map[string]*activity.Instance),
		byID:       make(map[string]*activity.Instance),
		created:    make(map[string]bool),
		dirty:      make(map[string]bool),
		versions:   make(map[string]*activity.Version),
	}

	primary, err := store.GetInstance(ctx, instanceID)
	switch {
	case errors.Is(err, durable.ErrInstanceNotFound):
		primary = nil
	case err != nil:
		return nil, fmt.Errorf("cache: load instance %s: %w", instanceID, err)
	}

	var rows []*activity.Instance
	if primary != nil {
		rows, err = store.ListActivityInstances(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("cache: load activities of %s: %w", instanceID, err)
		}
	}

	summary, path, err := protocol.Load(ctx, instanceID)
	switch {
	case errors.Is(err, durable.ErrSummaryNotFound):
		summary = nil
	case err != nil:
		return nil, fmt.Errorf("cache: load summary of %s: %w", instanceID, err)
	}

	if summary != nil && summary.IsStale(primary) {
		logger.Info("cache: discarding stale summary",
			slog.String("workflow_instance_id", instanceID.String()),
			slog.String("path", path),
		)
		if err := protocol.Discard(ctx, path); err != nil {
			logger.Warn("cache: stale summary not deleted",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		summary = nil
	}

	if summary == nil {
		if primary != nil {
			c.instance = primary
			c.baseEtag = primary.Etag
			for _, row := range rows {
				c.index(row)
			}
		}
		return c, nil
	}

	c.hydrate(summary, primary, rows)
	return c, nil
}

// hydrate adopts the rows of a summary. Every row becomes dirty; rows the
// primary already has keep the primary etag so the next Save updates them.
func (c *Cache) hydrate(s *fallback.Summary, primary *workflow.Instance, rows []*activity.Instance) {
	c.hasBlob = true
	c.hydrated = true

	known := make(map[string]string, len(rows))
	for _, row := range rows {
		known[row.ID.String()] = row.Etag
	}

	c.instance = s.Instance
	c.instanceDirty = true
	if primary == nil {
		c.instance.Etag = ""
		c.instanceNew = true
	} else {
		c.instance.Etag = primary.Etag
		c.baseEtag = primary.Etag
	}

	for _, a := range s.ActivityInstances {
		etag, ok := known[a.ID.String()]
		a.Etag = etag
		c.index(a)
		c.dirty[a.ID.String()] = true
		if !ok {
			c.created[a.ID.String()] = true
		}
	}
	// Primary rows missing from the summary are kept as they are.
	for _, row := range rows {
		if _, ok := c.byID[row.ID.String()]; !ok {
			c.index(row)
		}
	}
}

func (c *Cache) index(a *activity.Instance) {
	key := a.ID.String()
	if _, ok := c.byID[key]; !ok {
		c.order = append(c.order, key)
	}
	c.activities[a.Key().String()] = a
	c.byID[key] = a
	c.latest = key
}

// Hydrated reports whether the cache was restored from a summary blob.
func (c *Cache) Hydrated() bool { return c.hydrated }

// Form returns the workflow form.
func (c *Cache) Form() *workflow.Form { return c.form }

// Version returns the workflow version.
func (c *Cache) Version() *workflow.Version { return c.version }

// Instance returns the workflow instance, or nil before Create. The
// returned row is owned by the cache; mutate it only between replays and
// call MarkInstanceDirty afterwards.
func (c *Cache) Instance() *workflow.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance
}

// Create starts a new instance. It is persisted by the next Save.
func (c *Cache) Create(inst *workflow.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance = inst
	c.instanceNew = true
	c.instanceDirty = true
}

// MarkInstanceDirty schedules the instance row for the next Save.
func (c *Cache) MarkInstanceDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instanceDirty = true
}

// CancelRequested reports whether an administrative cancel is pending.
func (c *Cache) CancelRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance != nil && c.instance.CancelRequested()
}

// Activity returns a copy of the activity instance with the given
// memoization key.
func (c *Cache) Activity(key activity.Key) (*activity.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.activities[key.String()]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// ActivityByID returns a copy of the activity instance with the given id.
func (c *Cache) ActivityByID(activityInstanceID id.ID) (*activity.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byID[activityInstanceID.String()]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Activities returns copies of every activity instance in arrival order.
func (c *Cache) Activities() []*activity.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*activity.Instance, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byID[key].Clone())
	}
	return out
}

// Latest returns a copy of the activity instance touched last.
func (c *Cache) Latest() (*activity.Instance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == "" {
		return nil, false
	}
	return c.byID[c.latest].Clone(), true
}

// Put stores a copy of a, new or changed, and schedules it for the next
// Save. The cache owns etags; the one on a is ignored.
func (c *Cache) Put(a *activity.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := a.Clone()
	key := cp.ID.String()
	if cur, ok := c.byID[key]; ok {
		cp.Etag = cur.Etag
	} else {
		c.created[key] = true
		c.order = append(c.order, key)
	}
	c.activities[cp.Key().String()] = cp
	c.byID[key] = cp
	c.dirty[key] = true
	c.latest = key
}

// ActivityVersion resolves the activity version for def, creating the
// activity form and version when the workflow version has none yet.
func (c *Cache) ActivityVersion(ctx context.Context, def Definition) (*activity.Version, error) {
	c.mu.Lock()
	if v, ok := c.versions[def.Title]; ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	form, err := c.activityForm(ctx, def)
	if err != nil {
		return nil, err
	}

	v, err := c.store.FindActivityVersion(ctx, c.version.ID, form.ID)
	if errors.Is(err, durable.ErrActivityNotFound) {
		urgency := def.FailUrgency
		if urgency == "" {
			urgency = activity.UrgencyStopping
		}
		v = &activity.Version{
			ID:                      id.NewActivityVersionID(),
			WorkflowVersionID:       c.version.ID,
			ActivityFormID:          form.ID,
			Position:                def.Position,
			ParentActivityVersionID: def.ParentActivityVersionID,
			FailUrgency:             urgency,
		}
		err = c.store.CreateActivityVersion(ctx, v)
		if errors.Is(err, durable.ErrAlreadyExists) {
			v, err = c.store.FindActivityVersion(ctx, c.version.ID, form.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cache: activity version %q: %w", def.Title, err)
	}

	c.mu.Lock()
	c.versions[def.Title] = v
	c.mu.Unlock()
	return v, nil
}

func (c *Cache) activityForm(ctx context.Context, def Definition) (*activity.Form, error) {
	form, err := c.store.FindActivityForm(ctx, c.form.ID, def.Title)
	if errors.Is(err, durable.ErrActivityNotFound) {
		form = &activity.Form{
			ID:             id.NewActivityFormID(),
			WorkflowFormID: c.form.ID,
			Type:           def.Type,
			Title:          def.Title,
		}
		err = c.store.CreateActivityForm(ctx, form)
		if errors.Is(err, durable.ErrAlreadyExists) {
			form, err = c.store.FindActivityForm(ctx, c.form.ID, def.Title)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cache: activity form %q: %w", def.Title, err)
	}
	return form, nil
}

// Save writes every dirty row to the primary store through the fallback
// protocol. The instance row is created before its activities and updated
// after them; while a summary blob exists it is always updated so the blob
// becomes recognisably stale should its deletion fail.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.instance == nil {
		return nil
	}
	if !c.instanceDirty && len(c.dirty) == 0 && !c.hasBlob {
		return nil
	}

	guard := c.protocol.Guard(c.instance.ID, c.instance.StartedAt, c.hasBlob)
	err := guard.Persist(ctx, c.snapshot, c.writeRows)
	c.hasBlob = guard.HasBlob()
	return err
}

// writeRows runs with mu held.
func (c *Cache) writeRows(ctx context.Context) error {
	updateInstance := c.instanceDirty || c.hasBlob
	if c.instanceNew {
		if err := c.store.CreateInstance(ctx, c.instance); err != nil {
			return fmt.Errorf("cache: create instance: %w", err)
		}
		c.instanceNew = false
		c.baseEtag = c.instance.Etag
		updateInstance = c.hasBlob
	}

	for _, key := range c.order {
		if !c.dirty[key] {
			continue
		}
		a := c.byID[key]
		if c.created[key] {
			if err := c.store.CreateActivityInstance(ctx, a); err != nil {
				return fmt.Errorf("cache: create activity %s: %w", key, err)
			}
			delete(c.created, key)
		} else if err := c.store.UpdateActivityInstance(ctx, a); err != nil {
			return fmt.Errorf("cache: update activity %s: %w", key, err)
		}
		delete(c.dirty, key)
		updateInstance = updateInstance || c.hasBlob
	}

	if updateInstance {
		if err := c.store.UpdateInstance(ctx, c.instance); err != nil {
			return fmt.Errorf("cache: update instance: %w", err)
		}
		c.baseEtag = c.instance.Etag
	}
	c.instanceDirty = false
	return nil
}

// snapshot runs with mu held.
func (c *Cache) snapshot() *fallback.Summary {
	s := &fallback.Summary{
		WorkflowInstanceID: c.instance.ID,
		InstanceStartedAt:  c.instance.StartedAt,
		Form:               c.form,
		Version:            c.version,
		Instance:           c.instance,
		BaseEtag:           c.baseEtag,
	}
	for _, key := range c.order {
		s.ActivityInstances = append(s.ActivityInstances, c.byID[key])
	}
	return s
}
