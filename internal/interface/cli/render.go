package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/jinford/teardown/internal/core/job"
)

// renderJobsTable はテーブル形式でジョブ一覧を表示します
func renderJobsTable(w io.Writer, jobs []*job.Job) {
	table := tablewriter.NewWriter(w)
	table.Header("Job ID", "Company", "Status", "Created At", "Completed At")

	for _, j := range jobs {
		completed := "-"
		if j.CompletedAt != nil {
			completed = j.CompletedAt.Format("2006-01-02 15:04")
		}
		table.Append(
			j.ID,
			j.CompanyName,
			string(j.Status),
			j.CreatedAt.Format("2006-01-02 15:04"),
			completed,
		)
	}

	table.Render()
}

// renderTeardownsTable はテーブル形式でティアダウン一覧を表示します
func renderTeardownsTable(w io.Writer, teardowns []*job.Teardown) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Company", "Job ID", "Created At")

	for _, t := range teardowns {
		table.Append(
			t.ID.String(),
			t.CompanyName,
			t.JobID,
			t.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}

// renderJobDetail はジョブの詳細を表示します
func renderJobDetail(w io.Writer, view *job.StatusView) {
	j := view.Job
	fmt.Fprintf(w, "\n=== ジョブ詳細 ===\n\n")
	fmt.Fprintf(w, "Job ID:        %s\n", j.ID)
	fmt.Fprintf(w, "Company:       %s\n", j.CompanyName)
	fmt.Fprintf(w, "URL:           %s\n", j.CompanyURL)
	fmt.Fprintf(w, "Status:        %s\n", j.Status)
	fmt.Fprintf(w, "Created At:    %s\n", j.CreatedAt.Format(time.RFC3339))

	if j.StartedAt != nil {
		fmt.Fprintf(w, "Started At:    %s\n", j.StartedAt.Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Fprintf(w, "Completed At:  %s\n", j.CompletedAt.Format(time.RFC3339))
	}
	if j.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:         %s\n", j.ErrorMessage)
	}
	if j.WorkspacePath != "" {
		fmt.Fprintf(w, "Workspace:     %s\n", j.WorkspacePath)
	}

	if view.ReportAvailable {
		fmt.Fprintf(w, "Report:        %s\n", j.ReportPath)
	} else {
		fmt.Fprintf(w, "Report:        (未生成)\n")
	}
}
