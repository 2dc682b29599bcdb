package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nexus-link/durable/id"
	"github.com/nexus-link/durable/journal"
	"github.com/nexus-link/durable/workflow"
)

// ListInstancesRequest holds the query of GET /v1/instances.
type ListInstancesRequest struct {
	State  string `query:"state"`
	Limit  int    `query:"limit"`
	Offset int    `query:"offset"`
}

// ListLogsRequest holds the query of GET /v1/instances/:instanceId/logs.
type ListLogsRequest struct {
	Activity    string `query:"activity"`
	MinSeverity string `query:"min_severity"`
	Limit       int    `query:"limit"`
	Offset      int    `query:"offset"`
}

// ListWorkflowsResponse lists the registered workflow titles.
type ListWorkflowsResponse struct {
	Names []string `json:"names"`
}

// ListMaintenanceResponse lists the scheduled maintenance tasks.
type ListMaintenanceResponse struct {
	Tasks []string `json:"tasks"`
}

// RunMaintenanceResponse reports a manual maintenance run.
type RunMaintenanceResponse struct {
	Task     string `json:"task"`
	Affected int64  `json:"affected"`
}

// StatsResponse counts instances per state.
type StatsResponse struct {
	Instances map[workflow.State]int `json:"instances"`
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 50
	}
	if n > 1000 {
		return 1000
	}
	return n
}

func parseParam(c echo.Context, name string) (id.ID, error) {
	v, err := id.Parse(c.Param(name))
	if err != nil {
		return id.Nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", name, err))
	}
	return v, nil
}

func (a *API) listWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, ListWorkflowsResponse{Names: a.eng.Definitions()})
}

func (a *API) listInstances(c echo.Context) error {
	var req ListInstancesRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	insts, err := a.eng.ListInstances(c.Request().Context(), workflow.ListOpts{
		Limit:  defaultLimit(req.Limit),
		Offset: req.Offset,
		State:  workflow.State(req.State),
	})
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	return c.JSON(http.StatusOK, insts)
}

func (a *API) getInstance(c echo.Context) error {
	instanceID, err := parseParam(c, "instanceId")
	if err != nil {
		return err
	}
	inst, err := a.eng.GetInstance(c.Request().Context(), instanceID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inst)
}

func (a *API) cancelInstance(c echo.Context) error {
	instanceID, err := parseParam(c, "instanceId")
	if err != nil {
		return err
	}
	if err := a.eng.CancelInstance(c.Request().Context(), instanceID); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *API) retryHalted(c echo.Context) error {
	instanceID, err := parseParam(c, "instanceId")
	if err != nil {
		return err
	}
	if err := a.eng.RetryHalted(c.Request().Context(), instanceID); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *API) listActivities(c echo.Context) error {
	instanceID, err := parseParam(c, "instanceId")
	if err != nil {
		return err
	}
	acts, err := a.eng.ListActivities(c.Request().Context(), instanceID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acts)
}

func (a *API) listLogs(c echo.Context) error {
	instanceID, err := parseParam(c, "instanceId")
	if err != nil {
		return err
	}
	var req ListLogsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	opts := journal.ListOpts{Limit: defaultLimit(req.Limit), Offset: req.Offset}
	if req.Activity != "" {
		if opts.ActivityInstanceID, err = id.Parse(req.Activity); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid activity: %v", err))
		}
	}
	if req.MinSeverity != "" {
		if opts.MinSeverity, err = journal.ParseSeverity(req.MinSeverity); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	entries, err := a.eng.ListLogs(c.Request().Context(), instanceID, opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}

func (a *API) retryActivity(c echo.Context) error {
	activityID, err := parseParam(c, "activityId")
	if err != nil {
		return err
	}
	if err := a.eng.RetryActivity(c.Request().Context(), activityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

func (a *API) markAlertHandled(c echo.Context) error {
	activityID, err := parseParam(c, "activityId")
	if err != nil {
		return err
	}
	if err := a.eng.MarkAlertHandled(c.Request().Context(), activityID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) listMaintenance(c echo.Context) error {
	return c.JSON(http.StatusOK, ListMaintenanceResponse{Tasks: a.eng.Scheduler().Tasks()})
}

func (a *API) runMaintenance(c echo.Context) error {
	task := c.Param("task")
	known := false
	for _, name := range a.eng.Scheduler().Tasks() {
		if name == task {
			known = true
			break
		}
	}
	if !known {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown maintenance task %q", task))
	}
	n, err := a.eng.Scheduler().RunNow(c.Request().Context(), task)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RunMaintenanceResponse{Task: task, Affected: n})
}

func (a *API) stats(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatsResponse{Instances: make(map[workflow.State]int)}
	for _, state := range []workflow.State{
		workflow.StateWaiting, workflow.StateExecuting, workflow.StateSuccess,
		workflow.StateHalting, workflow.StateHalted, workflow.StateFailed,
		workflow.StateCancelled,
	} {
		insts, err := a.eng.ListInstances(ctx, workflow.ListOpts{State: state})
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		resp.Instances[state] = len(insts)
	}
	return c.JSON(http.StatusOK, resp)
}
