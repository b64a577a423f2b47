package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/gophupload/internal/api"
	"github.com/dustin/go-humanize"
)

func (a *App) printTask(t *api.Task) {
	a.printf("task      %s (%s)\n", t.ID, t.Name)
	a.printf("status    %s\n", t.Status)
	a.printf("files     %d/%d\n", t.UploadedFiles, t.TotalFiles)
	a.printf("size      %s/%s (%.1f%%)\n", humanize.Bytes(uint64(t.UploadedSize)), humanize.Bytes(uint64(t.TotalSize)), t.Progress)
	a.printf("priority  %d\n", t.Priority)
	a.printf("created   %s\n", humanize.Time(t.CreatedAt))
	if t.CompletedAt != nil {
		a.printf("finished  %s\n", humanize.Time(*t.CompletedAt))
	}
	if t.ErrorMessage != "" {
		a.printf("error     %s\n", t.ErrorMessage)
	}
}

func (a *App) printTasks(tasks []api.Task) {
	if len(tasks) == 0 {
		a.printf("no tasks\n")
		return
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFILES\tSIZE\tPROGRESS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%.1f%%\n",
			t.ID, t.Name, t.Status, t.UploadedFiles, t.TotalFiles, humanize.Bytes(uint64(t.TotalSize)), t.Progress)
	}
	w.Flush()
}

func (a *App) printFiles(files []api.File) {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tSTATUS\tSIZE\tPATH\tNOTE")
	for _, f := range files {
		note := f.ErrorMessage
		if f.IsDuplicate {
			note = "duplicate of " + f.DuplicatedFrom
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", f.Index, f.Status, humanize.Bytes(uint64(f.Size)), f.VirtualPath, note)
	}
	w.Flush()
}

// progressRenderer redraws one line on a terminal and prints a line per
// change otherwise.
type progressRenderer struct {
	out  io.Writer
	tty  bool
	last string
}

func progressLine(p *api.ProgressResponse) string {
	line := fmt.Sprintf("%-9s %5.1f%%  %d/%d files  %s/%s",
		p.Status, p.Percent, p.UploadedFiles, p.TotalFiles,
		humanize.Bytes(uint64(p.UploadedSize)), humanize.Bytes(uint64(p.TotalSize)))

	var parts []string
	for s, n := range p.ByStatus {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, n))
		}
	}
	if len(parts) > 0 {
		sort.Strings(parts)
		line += "  [" + strings.Join(parts, " ") + "]"
	}
	return line
}

func (r *progressRenderer) render(p *api.ProgressResponse) {
	line := progressLine(p)
	if line == r.last {
		return
	}
	r.last = line
	if r.tty {
		fmt.Fprintf(r.out, "\r%s\x1b[K", line)
		return
	}
	fmt.Fprintln(r.out, line)
}

func (r *progressRenderer) finish() {
	if r.tty && r.last != "" {
		fmt.Fprintln(r.out)
	}
}
