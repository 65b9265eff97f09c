package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"foiadesk/internal/engine"
	"foiadesk/internal/repo"
)

type TaskPath struct {
	TaskID string `path:"task_id"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "Operator queue",
	}, func(ctx context.Context, input *struct {
		Kind            string `query:"kind" enum:"orphan,response,snail_mail,stale_agency,new_agency,review_agency,failed_fax,rejected_email,flagged,crowdfund,portal,"`
		Resolved        string `query:"resolved" enum:"true,false,"`
		IncludeDeferred bool   `query:"include_deferred"`
		Limit           int    `query:"limit" default:"100" minimum:"1" maximum:"500"`
	}) (*struct {
		Body TaskListResponse `json:"body"`
	}, error) {
		if err := requireStaff(ctx, e); err != nil {
			return nil, err
		}
		resolved := boolFilter(input.Resolved)
		if resolved == nil {
			f := false
			resolved = &f
		}
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{
			Kind:       input.Kind,
			Resolved:   resolved,
			ShowAll:    input.IncludeDeferred,
			StaffKinds: true,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskListResponse `json:"body"`
		}{Body: TaskListResponse{Tasks: tasks}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get a task",
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if err := requireStaff(ctx, e); err != nil {
			return nil, err
		}
		t, err := e.Repo.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/resolve",
		Summary:     "Resolve a task",
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body ResolveTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if err := requireStaff(ctx, e); err != nil {
			return nil, err
		}
		actorID, _ := actorIDFromContext(ctx)
		t, err := e.ResolveTask(ctx, input.TaskID, engine.TaskResolution{
			ActorID:             actorID,
			KeepOpen:            input.Body.KeepOpen,
			Status:              input.Body.Status,
			Propagate:           input.Body.Propagate,
			TrackingID:          input.Body.TrackingID,
			DateEstimate:        input.Body.DateEstimate,
			Price:               input.Body.Price,
			RequestIDs:          input.Body.RequestIDs,
			Blacklist:           input.Body.Blacklist,
			CheckNumber:         input.Body.CheckNumber,
			UpdateDate:          input.Body.UpdateDate,
			Email:               input.Body.Email,
			Approve:             input.Body.Approve,
			ReplacementAgencyID: input.Body.Replacement,
			Reply:               input.Body.Reply,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "defer-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/defer",
		Summary:     "Defer a task",
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body DeferTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if err := requireStaff(ctx, e); err != nil {
			return nil, err
		}
		actorID, _ := actorIDFromContext(ctx)
		t, err := e.DeferTask(ctx, input.TaskID, input.Body.Until, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: t}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stale-requests",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/stale-requests",
		Summary:     "Unresponsive requests behind a stale agency task",
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body RequestListResponse `json:"body"`
	}, error) {
		if err := requireStaff(ctx, e); err != nil {
			return nil, err
		}
		reqs, err := e.StaleRequests(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RequestListResponse `json:"body"`
		}{Body: RequestListResponse{Requests: reqs}}, nil
	})
}
