// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"net/http"
	"sort"

	"github.com/ManuGH/subpipe/internal/config"
)

func (s *Server) handleHardware(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"profile": s.profile,
		"policy":  s.policy,
	})
}

type presetInfo struct {
	Name           string `json:"name"`
	SecondaryPatch bool   `json:"secondary_patch"`
	PatchLowOnly   bool   `json:"patch_low_only"`
	Proof          string `json:"proof"`
	Translate      string `json:"translate"`
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	names := config.PresetNames()
	sort.Strings(names)

	out := make([]presetInfo, 0, len(names))
	for _, name := range names {
		p, err := config.PresetByName(name)
		if err != nil {
			continue
		}
		out = append(out, presetInfo{
			Name:           p.Name,
			SecondaryPatch: p.SecondaryPatch,
			PatchLowOnly:   p.PatchLowOnly,
			Proof:          string(p.Proof),
			Translate:      string(p.Translate),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"presets": out})
}
