package ner

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrModelUnavailable is returned when a model cannot be resolved or loaded.
var ErrModelUnavailable = errors.New("model unavailable")

type modelMeta struct {
	Labels    []string
	NumLabels int
	DoLower   *bool
}

// loadModelMeta reads labels from config.json (id2label / label2id) and lets
// label_map.json override them when present.
func loadModelMeta(dir string) (modelMeta, error) {
	meta := modelMeta{}
	if data, err := os.ReadFile(filepath.Join(dir, "config.json")); err == nil {
		var cfg struct {
			NumLabels int               `json:"num_labels"`
			ID2Label  map[string]string `json:"id2label"`
			Label2ID  map[string]int    `json:"label2id"`
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return meta, err
		}
		meta.NumLabels = cfg.NumLabels
		meta.Labels = labelsFromIDMap(cfg.ID2Label)
		if len(meta.Labels) == 0 {
			meta.Labels = labelsFromLabel2ID(cfg.Label2ID)
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, "tokenizer_config.json")); err == nil {
		var tc struct {
			DoLowerCase *bool `json:"do_lower_case"`
		}
		if json.Unmarshal(data, &tc) == nil {
			meta.DoLower = tc.DoLowerCase
		}
	}

	if data, err := os.ReadFile(filepath.Join(dir, "label_map.json")); err == nil {
		var list []string
		if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
			meta.Labels = list
		} else {
			var idMap map[string]string
			if err := json.Unmarshal(data, &idMap); err != nil {
				return meta, err
			}
			meta.Labels = labelsFromIDMap(idMap)
		}
	}

	if len(meta.Labels) > meta.NumLabels {
		meta.NumLabels = len(meta.Labels)
	}
	return meta, nil
}

func labelsFromIDMap(id2label map[string]string) []string {
	if len(id2label) == 0 {
		return nil
	}
	maxID := -1
	byID := make(map[int]string, len(id2label))
	for k, v := range id2label {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || id < 0 {
			continue
		}
		byID[id] = v
		if id > maxID {
			maxID = id
		}
	}
	if maxID < 0 {
		return nil
	}
	labels := make([]string, maxID+1)
	for id, lbl := range byID {
		labels[id] = lbl
	}
	return labels
}

func labelsFromLabel2ID(label2id map[string]int) []string {
	if len(label2id) == 0 {
		return nil
	}
	maxID := -1
	for _, id := range label2id {
		if id > maxID {
			maxID = id
		}
	}
	if maxID < 0 {
		return nil
	}
	labels := make([]string, maxID+1)
	for lbl, id := range label2id {
		if id >= 0 {
			labels[id] = lbl
		}
	}
	return labels
}
