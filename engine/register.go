package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nexus-link/durable"
	"github.com/nexus-link/durable/executor"
	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/workflow"
)

// Definition describes a typed workflow.
type Definition[In, Out any] struct {
	// Capability groups workflows of one service.
	Capability string
	// Title names the workflow and is unique within its capability. It is
	// also the name workflows are run by.
	Title        string
	MajorVersion int
	MinorVersion int
	Func         func(wf *executor.Workflow, in In) (Out, error)
}

type registration struct {
	name    string
	form    *workflow.Form
	version *workflow.Version
	fn      executor.Func
}

// Register persists the form and version of def and makes it runnable by
// its title. Registering the same definition twice is a no-op. A title
// belongs to one capability; when several versions are registered, new
// instances start on the newest.
func Register[In, Out any](ctx context.Context, eng *Engine, def *Definition[In, Out]) error {
	if def == nil || def.Func == nil || def.Title == "" {
		return errors.New("durable: definition needs a title and a function")
	}
	if cur, err := eng.lookup(def.Title); err == nil && cur.form.CapabilityName != def.Capability {
		return fmt.Errorf("register %q: title is registered for capability %q: %w",
			def.Title, cur.form.CapabilityName, durable.ErrAlreadyExists)
	}

	form, err := eng.ensureForm(ctx, def.Capability, def.Title)
	if err != nil {
		return fmt.Errorf("register %q: %w", def.Title, err)
	}
	version, err := eng.ensureVersion(ctx, form, def.MajorVersion, def.MinorVersion)
	if err != nil {
		return fmt.Errorf("register %q: %w", def.Title, err)
	}

	fn := def.Func
	reg := &registration{
		name:    def.Title,
		form:    form,
		version: version,
		fn: func(wf *executor.Workflow, raw []byte) ([]byte, error) {
			var in In
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, durable.WorkflowFailed(durable.CategoryWorkflowCapabilityError,
						fmt.Sprintf("decode input of %q: %v", def.Title, err),
						"The workflow was started with invalid input.")
				}
			}
			out, err := fn(wf, in)
			if err != nil {
				return nil, err
			}
			return json.Marshal(out)
		},
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if cur, ok := eng.byName[reg.name]; ok && cur.form.CapabilityName != def.Capability {
		return fmt.Errorf("register %q: title is registered for capability %q: %w",
			def.Title, cur.form.CapabilityName, durable.ErrAlreadyExists)
	}
	// New instances start on the newest version; older versions stay
	// registered for the instances already running on them.
	if cur, ok := eng.byName[reg.name]; !ok || !newer(cur.version, version) {
		eng.byName[reg.name] = reg
	}
	eng.byVersion[version.ID.String()] = reg
	return nil
}

// newer reports whether a is a later version than b.
func newer(a, b *workflow.Version) bool {
	if a.MajorVersion != b.MajorVersion {
		return a.MajorVersion > b.MajorVersion
	}
	return a.MinorVersion > b.MinorVersion
}

// Run starts or continues a typed workflow. On success the decoded result
// is returned; otherwise the error is the outcome of the pass.
func Run[In, Out any](ctx context.Context, eng *Engine, name string, instanceID id.ID, input In) (Out, *workflow.Instance, error) {
	var zero Out
	raw, err := json.Marshal(input)
	if err != nil {
		return zero, nil, fmt.Errorf("durable: encode input: %w", err)
	}
	inst, err := eng.Execute(ctx, name, instanceID, raw)
	if err != nil {
		return zero, inst, err
	}
	var out Out
	if len(inst.ResultAsJSON) > 0 {
		if err := json.Unmarshal(inst.ResultAsJSON, &out); err != nil {
			return zero, inst, fmt.Errorf("durable: decode result: %w", err)
		}
	}
	return out, inst, nil
}

// Definitions returns the titles of all registered workflows.
func (eng *Engine) Definitions() []string {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	out := make([]string, 0, len(eng.byName))
	for name := range eng.byName {
		out = append(out, name)
	}
	return out
}

func (eng *Engine) lookup(name string) (*registration, error) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	reg, ok := eng.byName[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, durable.ErrDefinitionNotFound)
	}
	return reg, nil
}

func (eng *Engine) registrationFor(versionID id.ID) (*registration, bool) {
	eng.mu.RLock()
	defer eng.mu.RUnlock()
	reg, ok := eng.byVersion[versionID.String()]
	return reg, ok
}

func (eng *Engine) ensureForm(ctx context.Context, capability, title string) (*workflow.Form, error) {
	form, err := eng.store.FindForm(ctx, capability, title)
	if err == nil {
		return form, nil
	}
	if !errors.Is(err, durable.ErrFormNotFound) {
		return nil, err
	}
	form = &workflow.Form{ID: id.NewWorkflowFormID(), CapabilityName: capability, Title: title}
	if err := eng.store.CreateForm(ctx, form); err != nil {
		if errors.Is(err, durable.ErrAlreadyExists) {
			return eng.store.FindForm(ctx, capability, title)
		}
		return nil, err
	}
	return form, nil
}

func (eng *Engine) ensureVersion(ctx context.Context, form *workflow.Form, major, minor int) (*workflow.Version, error) {
	v, err := eng.store.FindVersion(ctx, form.ID, major, minor)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, durable.ErrVersionNotFound) {
		return nil, err
	}
	v = &workflow.Version{
		ID:            id.NewWorkflowVersionID(),
		FormID:        form.ID,
		MajorVersion:  major,
		MinorVersion:  minor,
		DynamicCreate: true,
	}
	if err := eng.store.CreateVersion(ctx, v); err != nil {
		if errors.Is(err, durable.ErrAlreadyExists) {
			return eng.store.FindVersion(ctx, form.ID, major, minor)
		}
		return nil, err
	}
	return v, nil
}
