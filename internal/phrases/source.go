// Package phrases supplies the text participants race to type.
package phrases

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"gopkg.in/yaml.v3"
)

// FallbackPhrase is used when the configured source cannot produce a phrase,
// so a failing source never stalls round advancement.
const FallbackPhrase = "the quick brown fox jumps over the lazy dog"

// Source produces a random phrase on demand.
type Source interface {
	RandomPhrase(ctx context.Context) (string, error)
}

// FileSource serves phrases from a YAML list loaded once at startup.
type FileSource struct {
	phrases []string
}

type phraseFile struct {
	Phrases []string `yaml:"phrases"`
}

// LoadFile reads a YAML phrase list of the form:
//
//	phrases:
//	  - practice makes progress
func LoadFile(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read phrase file: %w", err)
	}

	var pf phraseFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse phrase file: %w", err)
	}
	if len(pf.Phrases) == 0 {
		return nil, fmt.Errorf("phrase file %s contains no phrases", path)
	}

	return &FileSource{phrases: pf.Phrases}, nil
}

// NewStatic builds a source over a fixed in-memory list. Used as the
// degraded-mode source when the configured phrase file cannot be loaded.
func NewStatic(list ...string) *FileSource {
	if len(list) == 0 {
		list = []string{FallbackPhrase}
	}
	return &FileSource{phrases: list}
}

// RandomPhrase returns a uniformly random phrase from the loaded list.
func (s *FileSource) RandomPhrase(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.phrases[rand.Intn(len(s.phrases))], nil
}

// Len reports how many phrases are loaded.
func (s *FileSource) Len() int {
	return len(s.phrases)
}
