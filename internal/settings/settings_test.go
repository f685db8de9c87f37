package settings

import (
	"context"
	"testing"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
	"qms/branch-queue/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsDefaultsWhenUnset(t *testing.T) {
	svc := NewService(memory.New())
	got, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), got)
}

func TestUpdateMergesAndNormalizesVideo(t *testing.T) {
	st := memory.New()
	svc := NewService(st)
	name := "KCP Sudirman"
	video := "https://youtu.be/abcdefghijk"

	got, err := svc.Update(context.Background(), Patch{OutletName: &name, VideoURL: &video})
	require.NoError(t, err)
	assert.Equal(t, "KCP Sudirman", got.OutletName)
	assert.Equal(t, "https://www.youtube.com/embed/abcdefghijk", got.VideoURL)
	assert.Equal(t, models.DefaultSettings().RunningText, got.RunningText)

	doc, err := st.Get(context.Background(), store.Settings, models.SettingsKey)
	require.NoError(t, err)
	stored, err := models.DecodeSettings(doc)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	audio := "https://cdn.example.com/chime.mp3"
	got, err = svc.Update(context.Background(), Patch{AudioURL: &audio})
	require.NoError(t, err)
	assert.Equal(t, "KCP Sudirman", got.OutletName)
	assert.Equal(t, audio, got.AudioURL)
}

func TestUpdateBlankFieldFallsBackToDefault(t *testing.T) {
	svc := NewService(memory.New())
	blank := "  "
	got, err := svc.Update(context.Background(), Patch{RunningText: &blank})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings().RunningText, got.RunningText)
}
