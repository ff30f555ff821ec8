package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
	assert.Equal(t, 100*time.Millisecond, watcher.debouncer.delay)
}

func TestNewDebouncerDefault(t *testing.T) {
	assert.Equal(t, DefaultDebounce, NewDebouncer(0).delay)
}

func TestFilters(t *testing.T) {
	tests := []struct {
		path     string
		template bool
		context  bool
		editor   bool
		git      bool
	}{
		{"templates/prescription/main.typ.tpl", true, false, true, true},
		{"templates/prescription/manifest.yaml", true, false, true, true},
		{"contexts/rx-1.yaml", false, true, true, true},
		{"contexts/rx-1.YML", false, true, true, true},
		{"contexts/rx-1.json", false, true, true, true},
		{"contexts/.#rx-1.yaml", false, true, false, true},
		{"contexts/rx-1.yaml~", false, false, false, true},
		{"templates/main.typ.tpl.swp", false, false, false, true},
		{"repo/.git/HEAD", false, false, true, false},
		{"notes.txt", false, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.template, TemplateFilter(tt.path), "template")
			assert.Equal(t, tt.context, ContextFilter(tt.path), "context")
			assert.Equal(t, tt.editor, NoEditorTempFilter(tt.path), "editor")
			assert.Equal(t, tt.git, NoGitFilter(tt.path), "git")
		})
	}

	either := AnyOf(TemplateFilter, ContextFilter)
	assert.True(t, either("a/main.typ.tpl"))
	assert.True(t, either("a/rx.yaml"))
	assert.False(t, either("a/readme.md"))
}

func TestValidatePath(t *testing.T) {
	for _, p := range []string{".", "templates", "./contexts", "/tmp/rxpdf"} {
		_, err := validatePath(p)
		assert.NoError(t, err, p)
	}
	for _, p := range []string{"", "..", "../outside", "a/../../b"} {
		_, err := validatePath(p)
		assert.Error(t, err, p)
	}
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "b.yaml"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "a.tpl"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "b.yaml"})

	select {
	case events := <-d.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a.tpl", events[0].Path)
		assert.Equal(t, "b.yaml", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}

	d.flush()
	select {
	case events := <-d.output:
		t.Fatalf("unexpected empty flush: %v", events)
	default:
	}
}

func collect(t *testing.T, fw *FileWatcher) (func() []ChangeEvent, chan struct{}) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []ChangeEvent
	)
	notify := make(chan struct{}, 16)
	fw.AddHandler(func(batch []ChangeEvent) error {
		mu.Lock()
		events = append(events, batch...)
		mu.Unlock()
		notify <- struct{}{}
		return nil
	})
	return func() []ChangeEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]ChangeEvent(nil), events...)
	}, notify
}

func TestFileWatcherIntegration(t *testing.T) {
	dir := t.TempDir()
	templates := filepath.Join(dir, "templates", "slip")
	require.NoError(t, os.MkdirAll(templates, 0755))

	fw, err := NewFileWatcher(50*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(AnyOf(TemplateFilter, ContextFilter))
	fw.AddFilter(NoEditorTempFilter)
	events, notify := collect(t, fw)

	require.NoError(t, fw.AddRecursive(dir))
	assert.Contains(t, fw.WatchList(), templates)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	tpl := filepath.Join(templates, "slip.typ.tpl")
	require.NoError(t, os.WriteFile(tpl, []byte("= Slip\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "notes.txt"), []byte("ignored"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(templates, "slip.typ.tpl.swp"), []byte("ignored"), 0644))

	select {
	case <-notify:
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}

	got := events()
	require.NotEmpty(t, got)
	for _, ev := range got {
		assert.Equal(t, tpl, ev.Path)
	}
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()

	fw, err := NewFileWatcher(30*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(TemplateFilter)
	events, notify := collect(t, fw)
	require.NoError(t, fw.AddRecursive(dir))
	require.NoError(t, fw.Start(t.Context()))

	sub := filepath.Join(dir, "referral")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.Eventually(t, func() bool {
		for _, w := range fw.WatchList() {
			if w == sub {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	manifest := filepath.Join(sub, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte("id: referral\n"), 0644))

	select {
	case <-notify:
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}
	assert.Equal(t, manifest, events()[0].Path)
}

func TestFileWatcherSkipsHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "contexts"), 0755))

	fw, err := NewFileWatcher(0, nil)
	require.NoError(t, err)
	defer fw.Stop()

	require.NoError(t, fw.AddRecursive(dir))
	assert.ElementsMatch(t, []string{dir, filepath.Join(dir, "contexts")}, fw.WatchList())
}

func TestFileWatcherStopIdempotent(t *testing.T) {
	fw, err := NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}

func TestAddPathMissing(t *testing.T) {
	fw, err := NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	assert.Error(t, fw.AddPath(filepath.Join(t.TempDir(), "missing")))
	assert.Error(t, fw.AddPath("../escape"))
}
