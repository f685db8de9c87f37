package models

import (
	"encoding/json"
	"fmt"
	"regexp"

	"qms/branch-queue/internal/store"
)

const SettingsKey = "main"

type Settings struct {
	OutletName  string `json:"outlet_name"`
	RunningText string `json:"running_text"`
	VideoURL    string `json:"video_url"`
	AudioURL    string `json:"audio_url"`
}

func DefaultSettings() Settings {
	return Settings{
		OutletName:  "Bank DPR KCP Pamsky",
		RunningText: "Selamat datang di Bank Nusantara. Demi kenyamanan bersama, mohon ambil nomor antrian dan tunggu hingga nomor Anda dipanggil.",
		VideoURL:    "https://www.youtube.com/embed/dQw4w9WgXcQ",
	}
}

// WithDefaults fills every empty field from DefaultSettings. AudioURL has
// no default.
func (s Settings) WithDefaults() Settings {
	def := DefaultSettings()
	if s.OutletName == "" {
		s.OutletName = def.OutletName
	}
	if s.RunningText == "" {
		s.RunningText = def.RunningText
	}
	if s.VideoURL == "" {
		s.VideoURL = def.VideoURL
	}
	return s
}

func DecodeSettings(doc store.Document) (Settings, error) {
	var s Settings
	if err := json.Unmarshal(doc.Data, &s); err != nil {
		return Settings{}, fmt.Errorf("%w: settings: %v", ErrInvalidRecord, err)
	}
	return s, nil
}

var youtubeID = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:m\.)?(?:youtube\.com|youtu\.be)/(?:watch\?v=|embed/|v/|)([a-zA-Z0-9_-]{11})`)

// EmbedVideoURL rewrites YouTube watch, short and embed links to the
// embeddable form. Other URLs are returned unchanged.
func EmbedVideoURL(raw string) string {
	match := youtubeID.FindStringSubmatch(raw)
	if match == nil {
		return raw
	}
	return "https://www.youtube.com/embed/" + match[1]
}
