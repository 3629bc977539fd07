package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/komorebi/internal/activity"
)

func TestJSONLStore_RoundTrip(t *testing.T) {
	s := NewJSONLStore(t.TempDir(), nil)
	ctx := context.Background()

	require.NoError(t, s.AddMemory(ctx, Memory{Layer: LayerEpisodic, Content: "ran research", Tags: []string{"task"}}))
	require.NoError(t, s.SaveGalleryItem(ctx, GalleryItem{Type: "text", Title: "Essay", Content: "..."}))
	require.NoError(t, s.RecordActivity(ctx, activity.Entry{ID: "e1", Action: "task_complete"}))

	memories, err := s.Memories()
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.NotEmpty(t, memories[0].ID)
	assert.False(t, memories[0].CreatedAt.IsZero())

	gallery, err := s.Gallery()
	require.NoError(t, err)
	require.Len(t, gallery, 1)
	assert.Equal(t, "Essay", gallery[0].Title)

	entries, err := s.Activity()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
}

func TestJSONLStore_MissingAndMalformed(t *testing.T) {
	dir := t.TempDir()
	s := NewJSONLStore(dir, nil)

	items, err := s.Gallery()
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, os.MkdirAll(s.Dir(), 0755))
	content := "{\"id\":\"a\",\"title\":\"ok\"}\nnot json\n\n{\"id\":\"b\"}\n"
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), GalleryFilename), []byte(content), 0644))

	items, err = s.Gallery()
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestJSONLStore_CancelledContext(t *testing.T) {
	s := NewJSONLStore(t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.AddMemory(ctx, Memory{Content: "x"}), context.Canceled)
}

func TestRecorder_PersistsAndSurvivesFailures(t *testing.T) {
	log := activity.New(activity.Config{}, nil)
	mem := NewMemoryStore()
	unsub := Recorder(log, mem, nil)

	log.Record("test", "first", "")
	mem.Err = errors.New("disk full")
	assert.NotPanics(t, func() { log.Record("test", "second", "") })
	mem.Err = nil
	unsub()
	log.Record("test", "third", "")

	stored := mem.Activity()
	require.Len(t, stored, 1)
	assert.Equal(t, "first", stored[0].Action)
	assert.Len(t, log.Recent(0), 3)
}
