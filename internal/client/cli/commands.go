package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dmitrijs2005/gophupload/internal/client/client"
	"github.com/dmitrijs2005/gophupload/internal/client/config"
	"github.com/dmitrijs2005/gophupload/internal/client/scan"
	"github.com/dmitrijs2005/gophupload/internal/filex"
	"github.com/dmitrijs2005/gophupload/internal/flagx"
	"github.com/dmitrijs2005/gophupload/internal/netx"
	"github.com/dustin/go-humanize"
)

var (
	commandValueFlags = []string{"-prefix", "-status", "-offset", "-limit", "-o", "-ttl", "-rps"}
	boolFlags         = []string{"-hold", "-wait", "-purge", "-partial"}
)

func allValueFlags() []string {
	return append(append([]string{}, config.ValueFlags...), commandValueFlags...)
}

var errUsage = errors.New("usage")

// options are the per-command flags. Every command accepts all of them and
// ignores the ones it has no use for.
type options struct {
	hold, wait, purge, partial bool
	prefix, status, out        string
	offset, limit              int
	ttl                        int64
	rps                        float64
}

func parseOptions(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("command", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	fs.BoolVar(&o.hold, "hold", false, "create the task without starting it")
	fs.BoolVar(&o.wait, "wait", false, "follow progress after submitting")
	fs.BoolVar(&o.purge, "purge", false, "delete stored objects no other task uses")
	fs.BoolVar(&o.partial, "partial", false, "export the successful part of a failed task")
	fs.StringVar(&o.prefix, "prefix", "", "prefix for local paths")
	fs.StringVar(&o.status, "status", "", "status filter")
	fs.StringVar(&o.out, "o", "", "output file or directory")
	fs.IntVar(&o.offset, "offset", 0, "list offset")
	fs.IntVar(&o.limit, "limit", 0, "list limit")
	fs.Int64Var(&o.ttl, "ttl", 0, "link lifetime in seconds")
	fs.Float64Var(&o.rps, "rps", 0, "download requests per second")

	if err := fs.Parse(flagx.FilterArgsWithBools(args, commandValueFlags, boolFlags)); err != nil {
		return nil, err
	}
	return o, nil
}

// Execute runs one command line.
func (a *App) Execute(ctx context.Context, args []string) error {
	pos := flagx.Positional(args, allValueFlags(), boolFlags)
	if len(pos) == 0 {
		return nil
	}
	cmd, rest := pos[0], pos[1:]

	o, err := parseOptions(args)
	if err != nil {
		return err
	}

	needTask := func() (string, error) {
		if len(rest) == 0 {
			return "", fmt.Errorf("%w: %s <task-id>", errUsage, cmd)
		}
		return rest[0], nil
	}

	switch cmd {
	case "help":
		a.help()
		return nil
	case "ping":
		if err := a.client.Ping(ctx); err != nil {
			return err
		}
		a.printf("OK\n")
		return nil
	case "submit":
		if len(rest) == 0 {
			return fmt.Errorf("%w: submit <dir>", errUsage)
		}
		return a.Submit(ctx, rest[0], o)
	case "list":
		return a.List(ctx, o)
	}

	id, err := needTask()
	if err != nil {
		return err
	}
	switch cmd {
	case "status":
		return a.Status(ctx, id)
	case "files":
		return a.Files(ctx, id)
	case "follow":
		return a.Follow(ctx, id)
	case "dedup":
		return a.Dedup(ctx, id)
	case "cancel":
		t, err := a.client.Cancel(ctx, id)
		if err != nil {
			return err
		}
		a.printTask(t)
		return nil
	case "delete":
		if err := a.client.Delete(ctx, id, o.purge); err != nil {
			return err
		}
		a.printf("task %s deleted\n", id)
		return nil
	case "export":
		return a.Export(ctx, id, o)
	case "links":
		return a.Links(ctx, id, o)
	case "download":
		return a.Download(ctx, id, o)
	case "retry":
		if len(rest) < 2 {
			return fmt.Errorf("%w: retry <task-id> <file-id>", errUsage)
		}
		return a.Retry(ctx, id, rest[1])
	case "archive":
		return a.Archive(ctx, id, o)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *App) help() {
	a.printf("Available commands: submit <dir>, list, status, files, follow, dedup, cancel, delete, export, links, download, archive <task>, retry <task> <file>, ping, exit\n")
}

// Submit scans dir, creates a task and optionally follows it.
func (a *App) Submit(ctx context.Context, dir string, o *options) error {
	c := a.config
	m, err := scan.Scan(ctx, dir, a.hasher, scan.Options{
		TaskName:      c.TaskName,
		DriveID:       c.DriveID,
		Priority:      c.Priority,
		TargetFolder:  c.TargetFolder,
		LocalPrefix:   o.prefix,
		ClientVersion: clientVersion,
	})
	if err != nil {
		return err
	}
	raw, err := scan.Encode(m)
	if err != nil {
		return err
	}

	t, err := a.client.Submit(ctx, raw, o.hold)
	if err != nil {
		return err
	}
	a.printf("task %s created: %d files, %s\n", t.ID, t.TotalFiles, humanize.Bytes(uint64(t.TotalSize)))

	if o.wait && !o.hold {
		return a.Follow(ctx, t.ID)
	}
	return nil
}

func (a *App) Status(ctx context.Context, id string) error {
	t, err := a.client.GetTask(ctx, id)
	if err != nil {
		return err
	}
	a.printTask(t)
	return nil
}

func (a *App) List(ctx context.Context, o *options) error {
	tasks, err := a.client.ListTasks(ctx, o.status, o.offset, o.limit)
	if err != nil {
		return err
	}
	a.printTasks(tasks)
	return nil
}

func (a *App) Files(ctx context.Context, id string) error {
	files, err := a.client.ListFiles(ctx, id)
	if err != nil {
		return err
	}
	a.printFiles(files)
	return nil
}

// Follow renders progress until the task is terminal. A task that did not
// complete is reported as an error.
func (a *App) Follow(ctx context.Context, id string) error {
	r := &progressRenderer{out: a.out, tty: a.tty}
	last, err := client.Follow(ctx, a.client, id, a.pollInterval(), r.render)
	r.finish()
	if err != nil {
		return err
	}
	if last.Status != "completed" {
		return fmt.Errorf("task %s %s", id, last.Status)
	}
	return nil
}

// Dedup sends the distinct fingerprints of a task to CheckDuplicates.
func (a *App) Dedup(ctx context.Context, id string) error {
	files, err := a.client.ListFiles(ctx, id)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{})
	var fps []string
	for _, f := range files {
		if f.Fingerprint == "" {
			continue
		}
		if _, ok := seen[f.Fingerprint]; ok {
			continue
		}
		seen[f.Fingerprint] = struct{}{}
		fps = append(fps, f.Fingerprint)
	}
	sort.Strings(fps)

	resp, err := a.client.CheckDuplicates(ctx, id, fps)
	if err != nil {
		return err
	}
	a.printf("%d of %d fingerprints already stored, %d files marked duplicate, %s saved\n",
		len(resp.Existing), len(fps), len(resp.MarkedFiles), humanize.Bytes(uint64(resp.SavedBytes)))
	return nil
}

func (a *App) Export(ctx context.Context, id string, o *options) error {
	raw, err := a.client.ExportManifest(ctx, id, o.partial)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	pretty.WriteByte('\n')

	if o.out == "" {
		_, err = a.out.Write(pretty.Bytes())
		return err
	}
	if err := filex.WriteFileAtomic(o.out, pretty.Bytes()); err != nil {
		return err
	}
	a.printf("manifest written to %s\n", o.out)
	return nil
}

func (a *App) Links(ctx context.Context, id string, o *options) error {
	links, err := a.client.DownloadLinks(ctx, id, o.ttl)
	if err != nil {
		return err
	}
	for _, l := range links {
		a.printf("%s\t%s\texpires %s\n", l.VirtualPath, l.URL, humanize.Time(l.ExpiresAt))
	}
	return nil
}

// Download fetches every stored file of a task below the output directory,
// laid out by virtual path.
func (a *App) Download(ctx context.Context, id string, o *options) error {
	links, err := a.client.DownloadLinks(ctx, id, o.ttl)
	if err != nil {
		return err
	}

	dir := o.out
	if dir == "" {
		dir = filepath.Join("downloads", id)
	}
	root, err := filex.EnsureDir(dir)
	if err != nil {
		return err
	}

	d := netx.NewDownloader(nil, o.rps)
	var total int64
	for i, l := range links {
		target, err := filex.SafeJoin(root, l.VirtualPath)
		if err != nil {
			return err
		}
		n, err := downloadTo(ctx, d, l.URL, target)
		if err != nil {
			return fmt.Errorf("%s: %w", l.VirtualPath, err)
		}
		total += n
		a.printf("[%d/%d] %s (%s)\n", i+1, len(links), l.VirtualPath, humanize.Bytes(uint64(n)))
	}
	a.printf("%d files, %s written to %s\n", len(links), humanize.Bytes(uint64(total)), root)
	return nil
}

func (a *App) Retry(ctx context.Context, id, fileID string) error {
	f, err := a.client.RetryFile(ctx, id, fileID)
	if err != nil {
		return err
	}
	a.printf("file %s (%s) is %s, retry %d\n", f.ID, f.VirtualPath, f.Status, f.RetryCount)
	return nil
}

// Archive has the server zip the stored files of a task and prints the link.
// With -o the ZIP is also fetched to that path.
func (a *App) Archive(ctx context.Context, id string, o *options) error {
	z, err := a.client.Archive(ctx, id, o.ttl)
	if err != nil {
		return err
	}
	a.printf("%d files, %s\t%s\texpires %s\n", z.Files, humanize.Bytes(uint64(z.Size)), z.URL, humanize.Time(z.ExpiresAt))
	if o.out == "" {
		return nil
	}

	n, err := downloadTo(ctx, netx.NewDownloader(nil, o.rps), z.URL, o.out)
	if err != nil {
		return err
	}
	a.printf("archive written to %s (%s)\n", o.out, humanize.Bytes(uint64(n)))
	return nil
}

func downloadTo(ctx context.Context, d *netx.Downloader, url, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o770); err != nil {
		return 0, err
	}
	f, err := os.Create(target)
	if err != nil {
		return 0, err
	}
	n, err := d.Download(ctx, url, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target)
	}
	return n, err
}
