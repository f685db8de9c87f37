package settings

import (
	"context"
	"errors"
	"strings"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
)

type Service struct {
	store store.DocStore
}

func NewService(st store.DocStore) *Service {
	return &Service{store: st}
}

// Get returns the outlet settings with defaults filled in, also when none
// were ever saved.
func (s *Service) Get(ctx context.Context) (models.Settings, error) {
	doc, err := s.store.Get(ctx, store.Settings, models.SettingsKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.DefaultSettings(), nil
		}
		return models.Settings{}, err
	}
	current, err := models.DecodeSettings(doc)
	if err != nil {
		return models.Settings{}, err
	}
	return current.WithDefaults(), nil
}

// Patch holds the fields to change. Nil fields are kept.
type Patch struct {
	OutletName  *string `json:"outlet_name"`
	RunningText *string `json:"running_text"`
	VideoURL    *string `json:"video_url"`
	AudioURL    *string `json:"audio_url"`
}

func (s *Service) Update(ctx context.Context, patch Patch) (models.Settings, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	if patch.OutletName != nil {
		current.OutletName = strings.TrimSpace(*patch.OutletName)
	}
	if patch.RunningText != nil {
		current.RunningText = strings.TrimSpace(*patch.RunningText)
	}
	if patch.VideoURL != nil {
		current.VideoURL = models.EmbedVideoURL(strings.TrimSpace(*patch.VideoURL))
	}
	if patch.AudioURL != nil {
		current.AudioURL = strings.TrimSpace(*patch.AudioURL)
	}
	current = current.WithDefaults()
	if err := s.store.Set(ctx, store.Settings, models.SettingsKey, current); err != nil {
		return models.Settings{}, err
	}
	return current, nil
}
