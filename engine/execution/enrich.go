package execution

import (
	"encoding/json"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/engine/resource"
)

const defaultOutputPreviewLimit = 500

// enrichErrorInfo fills taskId/taskName from the workflow's step definition
// when the executor left them empty.
func enrichErrorInfo(info *TaskErrorInfo, taskID string, wf *resource.Workflow) {
	if info == nil {
		return
	}
	if info.TaskID == "" {
		info.TaskID = taskID
	}
	if info.TaskName == "" {
		if step := wf.TaskStepByID(taskID); step != nil {
			info.TaskName = step.TaskRef
		} else {
			info.TaskName = taskID
		}
	}
}

// outputPreview renders a bounded single-line JSON preview of a task
// output. Nested structure survives compaction; oversize payloads are cut
// at the limit.
func outputPreview(output core.Output, limit int) string {
	if len(output) == 0 {
		return ""
	}
	if limit <= 0 {
		limit = defaultOutputPreviewLimit
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return ""
	}
	compact := raw
	if parsed := gjson.ParseBytes(raw); parsed.Exists() {
		compact = []byte(parsed.Raw)
	}
	if len(compact) > limit {
		compact = compact[:limit]
	}
	return string(compact)
}

// taskRecordsFromResults converts orchestrator task results into persisted
// task records, enriching error info from the workflow definition.
func taskRecordsFromResults(wf *resource.Workflow, results map[string]*TaskResult, previewLimit int) []TaskRecord {
	records := make([]TaskRecord, 0, len(results))
	for taskID, tr := range results {
		status := core.TaskStatusFailed
		if tr.Success {
			status = core.TaskStatusSucceeded
		}
		enrichErrorInfo(tr.ErrorInfo, taskID, wf)
		records = append(records, TaskRecord{
			TaskID:        tr.TaskID,
			TaskRef:       tr.TaskRef,
			StartedAt:     tr.StartedAt,
			CompletedAt:   tr.CompletedAt,
			DurationMS:    tr.CompletedAt.Sub(tr.StartedAt).Milliseconds(),
			Status:        status,
			RetryCount:    tr.RetryCount,
			ResolvedURL:   tr.ResolvedURL,
			HTTPMethod:    tr.HTTPMethod,
			OutputPreview: outputPreview(tr.Output, previewLimit),
			ErrorInfo:     tr.ErrorInfo,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].TaskID < records[j].TaskID
		}
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records
}
