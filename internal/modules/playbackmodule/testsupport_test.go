package playbackmodule

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/embermedia/ember/internal/database"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeHandle is a controllable stand-in for a transcoder process
type fakeHandle struct {
	pid int

	mu     sync.Mutex
	done   chan struct{}
	err    error
	killed bool
}

func newFakeHandle(pid int) *fakeHandle {
	return &fakeHandle{pid: pid, done: make(chan struct{})}
}

func (h *fakeHandle) Pid() int { return h.pid }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

func (h *fakeHandle) Err() error {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.err
	default:
		return nil
	}
}

func (h *fakeHandle) KillTree() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	return nil
}

func (h *fakeHandle) wasKilled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

// exit settles the fake process with the given error
func (h *fakeHandle) exit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
	default:
		h.err = err
		close(h.done)
	}
}

// fakeRunner records every start and simulates segment output on disk
type fakeRunner struct {
	mu      sync.Mutex
	started []*fakeStart
	nextPid int

	// onStart runs before the handle is returned; the default writes the
	// output file named by the final argument
	onStart func(args []string, h *fakeHandle)
}

type fakeStart struct {
	Name   string
	Args   []string
	Handle *fakeHandle
}

func newFakeRunner() *fakeRunner {
	r := &fakeRunner{nextPid: 40000}
	r.onStart = func(args []string, h *fakeHandle) {
		if len(args) == 0 {
			return
		}
		out := args[len(args)-1]
		_ = os.MkdirAll(filepath.Dir(out), 0o755)
		_ = os.WriteFile(out, []byte("#fake"), 0o644)
	}
	return r
}

func (r *fakeRunner) Start(ctx context.Context, name string, args []string, workDir string) (ProcessHandle, error) {
	r.mu.Lock()
	r.nextPid++
	h := newFakeHandle(r.nextPid)
	start := &fakeStart{Name: name, Args: args, Handle: h}
	r.started = append(r.started, start)
	onStart := r.onStart
	r.mu.Unlock()

	if onStart != nil {
		onStart(args, h)
	}

	go func() {
		<-ctx.Done()
		h.exit(ctx.Err())
	}()
	return h, nil
}

func (r *fakeRunner) starts() []*fakeStart {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fakeStart, len(r.started))
	copy(out, r.started)
	return out
}

// staticGopIndex serves a fixed keyframe list for every part
type staticGopIndex struct {
	times []int64
}

func (g *staticGopIndex) TryRead(itemID string, partIndex int) ([]int64, bool) {
	if len(g.times) == 0 {
		return nil, false
	}
	return g.times, true
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedMediaPart(t *testing.T, db *gorm.DB) *database.MediaPart {
	t.Helper()

	item := &database.MediaItem{ID: uuid.New().String(), Title: "Big Buck Bunny", MediaType: "movie"}
	require.NoError(t, db.Create(item).Error)

	part := &database.MediaPart{
		ID:            uuid.New().String(),
		MediaItemID:   item.ID,
		PartIndex:     0,
		Path:          "/media/movies/bbb.mkv",
		Container:     "mkv",
		VideoCodec:    "h264",
		Width:         1920,
		Height:        1080,
		BitDepth:      8,
		FrameRate:     23.976,
		DynamicRange:  "SDR",
		AudioCodec:    "aac",
		AudioChannels: 2,
		Bitrate:       8_000_000,
		DurationMs:    596_000,
	}
	require.NoError(t, db.Create(part).Error)
	return part
}

func nullLogger() hclog.Logger {
	return hclog.NewNullLogger()
}
