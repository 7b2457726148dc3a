package models

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/genforge/genforge/pkg/checksum"
	"github.com/genforge/genforge/pkg/corerr"
	"github.com/genforge/genforge/pkg/download"
	"github.com/genforge/genforge/pkg/logging"
	"github.com/genforge/genforge/pkg/metrics"
)

// Manager implements the multi-component download path (spec §4.2): fetching
// all files a model needs into one shared directory, atomically, verifying
// integrity, and producing the authoritative Info record.
type Manager struct {
	log        logging.Logger
	downloader *download.Downloader
	baseDir    string
	tracker    *metrics.Tracker

	mu sync.Mutex
}

// NewManager constructs a Model Manager rooted at baseDir.
func NewManager(log logging.Logger, dl *download.Downloader, baseDir string) *Manager {
	return &Manager{log: log.WithField("component", "model-manager"), downloader: dl, baseDir: baseDir}
}

// SetTracker attaches a metrics.Tracker so download outcomes and transferred
// bytes are recorded. Optional: a nil tracker (the default) disables
// recording.
func (m *Manager) SetTracker(t *metrics.Tracker) {
	m.tracker = t
}

// Get loads the Info record for id, or ErrModelNotFound.
func (m *Manager) Get(id string) (*Info, error) {
	dir := filepath.Join(m.baseDir, sanitizeDirName(id))
	if !metadataExists(dir) {
		return nil, notFoundErr(id)
	}
	return loadInfo(dir)
}

// DiskUsage reports the total size on disk of the model directory tree,
// mirroring the teacher's GetDiskUsage convention.
func (m *Manager) DiskUsage() (int64, error) {
	var total int64
	err := filepath.Walk(m.baseDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, corerr.Wrap(corerr.FileSystemError, err, "compute model directory size")
	}
	return total, nil
}

// fileJob is one file (primary or a component) to resolve during Download.
type fileJob struct {
	role     Role // "" for the primary file
	spec     FileSpec
	destName string
}

// Download executes spec §4.2's algorithm: idempotency guard, best-effort
// HEAD pre-fetch, sequential per-file download with skip-on-match, integrity
// verification, aggregate progress reporting and all-or-nothing cleanup on
// failure.
func (m *Manager) Download(ctx context.Context, req *DownloadRequest) (*Info, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	dir := m.modelDir(req)
	if metadataExists(dir) {
		return nil, corerr.Wrap(corerr.InvalidRequest, ErrAlreadyExists, "model "+req.ID+" already exists")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, corerr.Wrap(corerr.FileSystemError, err, "create model directory")
	}

	jobs := m.jobList(req, dir)

	totalBytes := m.headPrefetch(ctx, dir, jobs)

	var completedBytes int64
	var succeeded []string
	components := make(map[Role]Component)
	var primaryComponent Component

	onComponentStart := req.OnComponentStart
	onProgress := req.OnProgress
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}

	fail := func(cause error, code corerr.Code, msg string) (*Info, error) {
		m.cleanup(dir, succeeded)
		if m.tracker != nil {
			m.tracker.ObserveModelDownload("failure", completedBytes)
		}
		return nil, corerr.Wrap(code, cause, msg)
	}

	for _, job := range jobs {
		path := filepath.Join(dir, job.destName)

		onStart := func(skipped bool) {
			if onComponentStart != nil {
				onComponentStart(job.role, skipped)
			}
		}
		comp, skipped, err := m.resolveFile(ctx, path, job.spec, completedBytes, totalBytes, onProgress, onStart)
		if err != nil {
			label := string(job.role)
			if label == "" {
				label = "primary"
			}
			return fail(err, corerr.CodeOf(err), "download "+label+" file")
		}
		if !skipped {
			succeeded = append(succeeded, path)
		}
		completedBytes += comp.Size

		if job.role == "" {
			primaryComponent = comp
		} else {
			components[job.role] = comp
		}
	}

	meta := enrichGGUFMetadata(ctx, primaryComponent.Path)

	info := &Info{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Kind:        req.Kind,
		Path:        primaryComponent.Path,
		Size:        completedBytes,
		Components:  components,
		Provenance: Provenance{
			Source:       req.Primary.Source,
			SourceKind:   req.Primary.Source.Kind,
			SourceURL:    req.Primary.Source.URL,
			SourceRepo:   req.Primary.Source.Repo,
			SourceFile:   req.Primary.Source.File,
			Checksum:     req.Primary.Checksum,
			DownloadedAt: nowFunc(),
		},
		Metadata: meta,
	}

	if err := saveInfo(dir, info); err != nil {
		return fail(err, corerr.FileSystemError, "persist model metadata")
	}

	m.log.WithField("id", req.ID).WithField("size", units.HumanSize(float64(info.Size))).Info("model manager: download complete")
	if m.tracker != nil {
		m.tracker.ObserveModelDownload("success", info.Size)
	}
	return info, nil
}

// jobList builds the declared order of files: primary first, then
// components in request order — the order used for progress reporting. CLI
// argument emission downstream does not follow it; it uses RoleOrder.
func (m *Manager) jobList(req *DownloadRequest, dir string) []fileJob {
	jobs := make([]fileJob, 0, 1+len(req.Components))
	jobs = append(jobs, fileJob{role: "", spec: req.Primary, destName: fileDestName(req.Primary)})
	for _, c := range req.Components {
		jobs = append(jobs, fileJob{role: c.Role, spec: c.File, destName: componentDestName(c)})
	}
	_ = dir
	return jobs
}

// headPrefetch issues best-effort, parallel HEAD requests for files not
// already present on disk, summing known sizes into totalBytes (spec §4.2
// step 2). HEAD failures are logged and contribute 0.
func (m *Manager) headPrefetch(ctx context.Context, dir string, jobs []fileJob) int64 {
	sizes := make([]int64, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		path := filepath.Join(dir, job.destName)
		if _, err := os.Stat(path); err == nil {
			continue // already on disk; its real size is counted when resolved
		}
		url := sourceURL(job.spec.Source)
		if url == "" {
			continue
		}
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			size, err := m.downloader.Head(ctx, url)
			if err != nil {
				m.log.WithError(err).WithField("url", url).Debug("model manager: HEAD pre-fetch failed, continuing without size hint")
				return
			}
			if size > 0 {
				sizes[i] = size
			}
		}(i, url)
	}
	wg.Wait()

	var total int64
	for _, s := range sizes {
		total += s
	}
	return total
}

// resolveFile handles one file per spec §4.2 step 4: skip if already valid,
// otherwise download and verify, wrapping the per-file progress callback to
// report aggregate progress across the whole model. onStart is called with
// skipped=true when an existing file satisfies the spec, or with
// skipped=false just before the download begins.
func (m *Manager) resolveFile(ctx context.Context, path string, spec FileSpec, completedBytes, totalBytes int64, onProgress ProgressFunc, onStart func(skipped bool)) (Component, bool, error) {
	if info, err := os.Stat(path); err == nil {
		if spec.Checksum != "" {
			ok, _, err := checksum.Verify(ctx, path, spec.Checksum)
			if err != nil {
				return Component{}, false, corerr.Wrap(corerr.ChecksumError, err, "verify existing file checksum")
			}
			if ok {
				onStart(true)
				onProgress(completedBytes+info.Size(), totalBytes)
				return Component{Path: path, Size: info.Size(), Checksum: spec.Checksum}, true, nil
			}
			if err := os.Remove(path); err != nil {
				return Component{}, false, corerr.Wrap(corerr.FileSystemError, err, "remove mismatched file before re-download")
			}
		} else {
			onStart(true)
			onProgress(completedBytes+info.Size(), totalBytes)
			return Component{Path: path, Size: info.Size()}, true, nil
		}
	}

	onStart(false)
	url, err := m.resolveURL(ctx, spec.Source)
	if err != nil {
		return Component{}, false, corerr.Wrap(corerr.DownloadFailed, err, "resolve source url")
	}

	wrapped := func(downloaded, _ int64) {
		onProgress(completedBytes+downloaded, totalBytes)
	}
	if err := m.downloader.File(ctx, url, path, wrapped); err != nil {
		return Component{}, false, corerr.Wrap(corerr.DownloadFailed, err, "download file")
	}

	if spec.Checksum != "" {
		ok, _, err := checksum.Verify(ctx, path, spec.Checksum)
		if err != nil {
			return Component{}, false, corerr.Wrap(corerr.ChecksumError, err, "verify downloaded file checksum")
		}
		if !ok {
			return Component{}, false, corerr.New(corerr.ChecksumError, "checksum mismatch for "+filepath.Base(path))
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Component{}, false, corerr.Wrap(corerr.FileSystemError, err, "stat downloaded file")
	}
	return Component{Path: path, Size: info.Size(), Checksum: spec.Checksum}, false, nil
}

// resolveURL turns a Source into a concrete URL, using the HuggingFace URL
// builder for hf sources.
func (m *Manager) resolveURL(_ context.Context, s Source) (string, error) {
	switch s.Kind {
	case SourceURL:
		return s.URL, nil
	case SourceHF:
		return download.HuggingFaceURL(s.Repo, s.File, ""), nil
	default:
		return "", corerr.New(corerr.InvalidRequest, "unknown source kind")
	}
}

func sourceURL(s Source) string {
	switch s.Kind {
	case SourceURL:
		return s.URL
	case SourceHF:
		return download.HuggingFaceURL(s.Repo, s.File, "")
	default:
		return ""
	}
}

// cleanup deletes only the files this invocation itself downloaded
// (succeeded), never pre-existing files shared with a sibling variant, then
// removes the directory only if it ends up empty (spec §4.2 "Cleanup on
// failure").
func (m *Manager) cleanup(dir string, succeeded []string) {
	for _, path := range succeeded {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.log.WithError(err).WithField("path", path).Warn("model manager: cleanup failed to remove file")
		}
	}
	if err := os.Remove(dir); err != nil {
		m.log.WithField("dir", dir).Debug("model manager: directory left in place (not empty, files shared with another variant)")
	}
}

func validateRequest(req *DownloadRequest) error {
	for _, c := range req.Components {
		if c.Role == RoleDiffusionModel {
			return corerr.Wrap(corerr.InvalidRequest, ErrReservedRole, "invalid component role")
		}
	}
	return nil
}

func fileDestName(spec FileSpec) string {
	switch spec.Source.Kind {
	case SourceHF:
		return filepath.Base(spec.Source.File)
	default:
		return filepath.Base(spec.Source.URL)
	}
}

func componentDestName(c ComponentSpec) string {
	return fileDestName(c.File)
}

// nowFunc is indirected so tests can pin the provenance timestamp.
var nowFunc = time.Now
