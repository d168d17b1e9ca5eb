package application_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// --- Stateful fakes for the driven ports ---

type fakeRepoStore struct {
	mu     sync.Mutex
	nextID int64
	repos  map[int64]model.Repository
}

func newFakeRepoStore() *fakeRepoStore {
	return &fakeRepoStore{repos: make(map[int64]model.Repository)}
}

func (f *fakeRepoStore) Add(_ context.Context, repo model.Repository) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	repo.ID = f.nextID
	f.repos[repo.ID] = repo
	return repo.ID, nil
}

func (f *fakeRepoStore) GetByID(_ context.Context, id int64) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[id]
	if !ok {
		return nil, nil
	}
	return &repo, nil
}

type fakeCommitStore struct {
	mu      sync.Mutex
	nextID  int64
	commits map[int64]model.Commit
}

func newFakeCommitStore() *fakeCommitStore {
	return &fakeCommitStore{commits: make(map[int64]model.Commit)}
}

func (f *fakeCommitStore) Upsert(_ context.Context, commit model.Commit) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.commits {
		if existing.RepoID == commit.RepoID && existing.SHA == commit.SHA {
			if commit.Branch != "" {
				existing.Branch = commit.Branch
			}
			if commit.ParentSHA != "" {
				existing.ParentSHA = commit.ParentSHA
			}
			f.commits[id] = existing
			return id, nil
		}
	}
	f.nextID++
	commit.ID = f.nextID
	if commit.State == "" {
		commit.State = model.CommitStatePending
	}
	f.commits[commit.ID] = commit
	return commit.ID, nil
}

func (f *fakeCommitStore) GetBySHA(_ context.Context, repoID int64, sha string) (*model.Commit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.commits {
		if c.RepoID == repoID && c.SHA == sha {
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeCommitStore) SetState(_ context.Context, id int64, state model.CommitState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.commits[id]
	if !ok {
		return fmt.Errorf("commit %d not found", id)
	}
	c.State = state
	f.commits[id] = c
	return nil
}

type reportKey struct {
	commitID int64
	typ      model.ReportType
	code     string
}

type fakeReportStore struct {
	mu      sync.Mutex
	nextID  int64
	reports map[reportKey]model.Report
}

func newFakeReportStore() *fakeReportStore {
	return &fakeReportStore{reports: make(map[reportKey]model.Report)}
}

func (f *fakeReportStore) GetOrCreate(_ context.Context, commitID int64, typ model.ReportType, code string) (*model.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reportKey{commitID, typ, code}
	if r, ok := f.reports[key]; ok {
		return &r, nil
	}
	f.nextID++
	r := model.Report{ID: f.nextID, CommitID: commitID, Type: typ, Code: code}
	f.reports[key] = r
	return &r, nil
}

func (f *fakeReportStore) Get(_ context.Context, commitID int64, typ model.ReportType, code string) (*model.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.reports[reportKey{commitID, typ, code}]; ok {
		return &r, nil
	}
	return nil, nil
}

func (f *fakeReportStore) SetTotals(_ context.Context, id int64, totals model.Totals) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, r := range f.reports {
		if r.ID == id {
			t := totals
			r.Totals = &t
			f.reports[key] = r
			return nil
		}
	}
	return fmt.Errorf("report %d not found", id)
}

type fakeUploadStore struct {
	mu      sync.Mutex
	nextID  int64
	uploads map[int64]model.Upload
	errors  map[int64][]model.UploadError
}

func newFakeUploadStore() *fakeUploadStore {
	return &fakeUploadStore{
		uploads: make(map[int64]model.Upload),
		errors:  make(map[int64][]model.UploadError),
	}
}

func (f *fakeUploadStore) Create(_ context.Context, upload model.Upload) (*model.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := 0
	for _, u := range f.uploads {
		if u.ReportID == upload.ReportID && u.OrderNumber >= next {
			next = u.OrderNumber + 1
		}
	}
	f.nextID++
	upload.ID = f.nextID
	upload.OrderNumber = next
	if upload.State == "" {
		upload.State = model.UploadStatePending
	}
	if upload.Type == "" {
		upload.Type = model.UploadTypeUploaded
	}
	f.uploads[upload.ID] = upload
	return &upload, nil
}

func (f *fakeUploadStore) ListPending(ctx context.Context, reportID int64) ([]model.Upload, error) {
	all, err := f.ListByReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	var pending []model.Upload
	for _, u := range all {
		if u.State == model.UploadStatePending {
			pending = append(pending, u)
		}
	}
	return pending, nil
}

func (f *fakeUploadStore) ListByReport(_ context.Context, reportID int64) ([]model.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.Upload
	for _, u := range f.uploads {
		if u.ReportID == reportID {
			all = append(all, u)
		}
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].OrderNumber < all[j-1].OrderNumber; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	return all, nil
}

func (f *fakeUploadStore) SetProcessed(_ context.Context, id int64, totals model.Totals) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[id]
	if !ok {
		return fmt.Errorf("upload %d not found", id)
	}
	u.State = model.UploadStateProcessed
	t := totals
	u.Totals = &t
	f.uploads[id] = u
	return nil
}

func (f *fakeUploadStore) SetError(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.uploads[id]
	if !ok {
		return fmt.Errorf("upload %d not found", id)
	}
	u.State = model.UploadStateError
	f.uploads[id] = u
	return nil
}

func (f *fakeUploadStore) AddError(_ context.Context, uploadErr model.UploadError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[uploadErr.UploadID] = append(f.errors[uploadErr.UploadID], uploadErr)
	return nil
}

func (f *fakeUploadStore) ListErrors(_ context.Context, uploadID int64) ([]model.UploadError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.UploadError(nil), f.errors[uploadID]...), nil
}

// fakeLockManager grants or refuses immediately; the waiting behavior is
// covered by the SQLite lease tests.
type fakeLockManager struct {
	mu       sync.Mutex
	held     map[string]bool
	acquires []string
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: make(map[string]bool)}
}

func (f *fakeLockManager) Acquire(_ context.Context, key string, leaseTimeout, _ time.Duration) (driven.Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires = append(f.acquires, key)
	if f.held[key] {
		return nil, fmt.Errorf("%w: %s", driven.ErrLockBusy, key)
	}
	f.held[key] = true
	return &fakeLease{mgr: f, key: key, expiresAt: time.Now().Add(leaseTimeout)}, nil
}

type fakeLease struct {
	mgr       *fakeLockManager
	key       string
	expiresAt time.Time
}

func (l *fakeLease) Key() string          { return l.key }
func (l *fakeLease) ExpiresAt() time.Time { return l.expiresAt }

func (l *fakeLease) Release(_ context.Context) error {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	delete(l.mgr.held, l.key)
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	nextID   int64
	enqueued []model.Task
	acked    []int64
	retried  []int64
	dead     []int64
}

func (f *fakeQueue) Enqueue(_ context.Context, task model.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	task.ID = f.nextID
	f.enqueued = append(f.enqueued, task)
	return nil
}

func (f *fakeQueue) DequeueDue(_ context.Context, _ time.Time) (*model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.enqueued) == 0 {
		return nil, nil
	}
	task := f.enqueued[0]
	f.enqueued = f.enqueued[1:]
	task.State = model.TaskStateRunning
	task.Attempts++
	return &task, nil
}

func (f *fakeQueue) Ack(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeQueue) Retry(_ context.Context, id int64, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeQueue) Dead(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, id)
	return nil
}

type notifyCall struct {
	RepoID    int64
	CommitSHA string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (f *fakeNotifier) ScheduleNotify(_ context.Context, repoID int64, commitSHA string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{RepoID: repoID, CommitSHA: commitSHA})
	return nil
}

// flakyArchive wraps an archive store and fails reads or writes of selected
// paths a configured number of times before letting them through.
type flakyArchive struct {
	driven.ArchiveStore
	mu            sync.Mutex
	readFailures  map[string]int
	readErrs      map[string]error
	writeFailures map[string]int
	writeErrs     map[string]error
}

func newFlakyArchive(inner driven.ArchiveStore) *flakyArchive {
	return &flakyArchive{
		ArchiveStore:  inner,
		readFailures:  make(map[string]int),
		readErrs:      make(map[string]error),
		writeFailures: make(map[string]int),
		writeErrs:     make(map[string]error),
	}
}

func (f *flakyArchive) failReads(path string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readFailures[path] = n
	f.readErrs[path] = err
}

func (f *flakyArchive) failWrites(path string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeFailures[path] = n
	f.writeErrs[path] = err
}

func (f *flakyArchive) Read(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	if f.readFailures[path] > 0 {
		f.readFailures[path]--
		err := f.readErrs[path]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return f.ArchiveStore.Read(ctx, path)
}

func (f *flakyArchive) Write(ctx context.Context, path string, data []byte) error {
	f.mu.Lock()
	if f.writeFailures[path] > 0 {
		f.writeFailures[path]--
		err := f.writeErrs[path]
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return f.ArchiveStore.Write(ctx, path, data)
}
