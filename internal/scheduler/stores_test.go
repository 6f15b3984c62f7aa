package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"cronflow/internal/task"
)

// fakeTaskStore is an in-memory store.TaskStore for testing.
type fakeTaskStore struct {
	mu        sync.Mutex
	seq       int64
	instances map[int64]*task.Instance

	CreateErr error
	SaveErr   error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{instances: make(map[int64]*task.Instance)}
}

func (f *fakeTaskStore) Create(_ context.Context, in *task.Instance) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return false, f.CreateErr
	}
	for _, existing := range f.instances {
		if existing.ExternalID == in.ExternalID && existing.ExpectTime.Equal(in.ExpectTime) {
			return false, nil
		}
	}
	f.seq++
	in.ID = f.seq
	cp := *in
	f.instances[in.ID] = &cp
	return true, nil
}

func (f *fakeTaskStore) CreateBatch(ctx context.Context, ins []*task.Instance) (int, error) {
	var created int
	for _, in := range ins {
		ok, err := f.Create(ctx, in)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

func (f *fakeTaskStore) Save(_ context.Context, in *task.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaveErr != nil {
		return f.SaveErr
	}
	cp := *in
	f.instances[in.ID] = &cp
	return nil
}

func (f *fakeTaskStore) GetByID(_ context.Context, id int64) (*task.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.instances[id]
	if !ok {
		return nil, nil
	}
	cp := *in
	return &cp, nil
}

func (f *fakeTaskStore) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := f.instances[id]; ok {
			delete(f.instances, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTaskStore) CancelByIDs(_ context.Context, ids []int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range ids {
		if in, ok := f.instances[id]; ok && in.Status.Claimable() {
			in.Status = task.StatusCanceled
			n++
		}
	}
	return n, nil
}

func (f *fakeTaskStore) UpdateStatus(_ context.Context, id int64, from, to task.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.instances[id]
	if !ok || in.Status != from {
		return false, nil
	}
	in.Status = to
	return true, nil
}

func (f *fakeTaskStore) ExistsByExternalIDAndExpectTime(_ context.Context, externalID string, expectTime time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range f.instances {
		if in.ExternalID == externalID && in.ExpectTime.Equal(expectTime) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTaskStore) Query(_ context.Context, q task.InstanceQuery, p task.Page) (*task.InstanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*task.Instance
	for _, in := range f.instances {
		if len(q.IDs) > 0 && !containsInt64(q.IDs, in.ID) {
			continue
		}
		if len(q.ExternalIDs) > 0 && !containsString(q.ExternalIDs, in.ExternalID) {
			continue
		}
		if len(q.Statuses) > 0 && !containsStatus(q.Statuses, in.Status) {
			continue
		}
		if q.ExpectTimeLTE != nil && in.ExpectTime.After(*q.ExpectTimeLTE) {
			continue
		}
		cp := *in
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	res := &task.InstanceResult{}
	if p.Enabled() {
		res.Total = int64(len(matched))
		start := p.Offset()
		if start > len(matched) {
			start = len(matched)
		}
		end := start + p.Size()
		if end > len(matched) {
			end = len(matched)
		}
		res.List = matched[start:end]
	} else {
		res.List = matched
	}
	return res, nil
}

func (f *fakeTaskStore) ClearByExternalID(_ context.Context, externalID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, in := range f.instances {
		if in.ExternalID == externalID {
			delete(f.instances, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeTaskStore) byID(id int64) *task.Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instances[id]
}

func (f *fakeTaskStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

// fakeCrontabStore is an in-memory store.CrontabStore for testing.
type fakeCrontabStore struct {
	mu       sync.Mutex
	seq      int64
	crontabs map[int64]*task.Crontab
}

func newFakeCrontabStore() *fakeCrontabStore {
	return &fakeCrontabStore{crontabs: make(map[int64]*task.Crontab)}
}

func (f *fakeCrontabStore) Create(_ context.Context, c *task.Crontab) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	c.ID = f.seq
	cp := *c
	f.crontabs[c.ID] = &cp
	return nil
}

func (f *fakeCrontabStore) Save(_ context.Context, c *task.Crontab) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.crontabs[c.ID] = &cp
	return nil
}

func (f *fakeCrontabStore) GetByID(_ context.Context, id int64) (*task.Crontab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.crontabs[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCrontabStore) ExistsByExternalID(_ context.Context, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.crontabs {
		if c.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCrontabStore) ExistsByExternalIDAndRule(_ context.Context, externalID, rule string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.crontabs {
		if c.ExternalID == externalID && c.Crontab == rule {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCrontabStore) Query(_ context.Context, q task.CrontabQuery, p task.Page) (*task.CrontabResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matched []*task.Crontab
	for _, c := range f.crontabs {
		if q.WatermarkLTE != nil && c.LastGenTime.After(*q.WatermarkLTE) {
			continue
		}
		if q.Enabled != nil && c.Enabled != *q.Enabled {
			continue
		}
		if q.Creator != "" && c.Creator != q.Creator {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	res := &task.CrontabResult{}
	if p.Enabled() {
		res.Total = int64(len(matched))
		start := p.Offset()
		if start > len(matched) {
			start = len(matched)
		}
		end := start + p.Size()
		if end > len(matched) {
			end = len(matched)
		}
		res.List = matched[start:end]
	} else {
		res.List = matched
	}
	return res, nil
}

func (f *fakeCrontabStore) ClearByExternalID(_ context.Context, externalID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, c := range f.crontabs {
		if c.ExternalID == externalID {
			delete(f.crontabs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeCrontabStore) byID(id int64) *task.Crontab {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crontabs[id]
}

// fakeLogStore records audit entries.
type fakeLogStore struct {
	mu      sync.Mutex
	Entries []*task.Log
}

func (f *fakeLogStore) Create(_ context.Context, l *task.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *l
	f.Entries = append(f.Entries, &cp)
	return nil
}

func (f *fakeLogStore) entries() []*task.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*task.Log, len(f.Entries))
	copy(out, f.Entries)
	return out
}

func containsInt64(s []int64, v int64) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsStatus(s []task.Status, v task.Status) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
