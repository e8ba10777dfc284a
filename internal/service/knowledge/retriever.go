// Package knowledge serves short psychoeducation snippets keyed by emotion.
package knowledge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/heartline/backend/internal/analysis/emotion"
)

// NotFound is returned for keys without a snippet.
const NotFound = "No relevant information found"

var defaultSnippets = map[string]string{
	"angry":     "Anger is often a secondary emotion that masks more vulnerable feelings such as hurt, fear or disappointment. Helpful approaches include cognitive reframing, mindfulness and exploring what triggered it.",
	"sad":       "Sadness is a natural response to loss or disappointment. Expressing it by talking or writing can be therapeutic, and cognitive-behavioral techniques and behavioral activation are evidence-based approaches.",
	"happy":     "Positive emotions broaden the range of thoughts and actions people consider and help build lasting resources. Savoring good experiences and practicing gratitude can help sustain them.",
	"fearful":   "Fear activates the body's fight-or-flight response. Gradual exposure to feared situations has strong empirical support for treating anxiety.",
	"surprised": "Surprise signals a mismatch between expectation and reality, which is an opportunity for learning and adaptation. Helping someone integrate surprising information can support cognitive restructuring.",
	"neutral":   "When someone presents with flat affect, it is worth exploring whether this reflects healthy regulation, difficulty naming feelings, or suppression of emotion.",
}

// Retriever answers knowledge lookups from an in-memory table.
type Retriever struct {
	snippets map[string]string
}

// NewRetriever returns a retriever over the built-in snippets.
func NewRetriever() *Retriever {
	snippets := make(map[string]string, len(defaultSnippets))
	for k, v := range defaultSnippets {
		snippets[k] = v
	}
	return &Retriever{snippets: snippets}
}

type snippetFile struct {
	Snippets map[string]string `yaml:"snippets"`
}

// LoadFile overlays the built-in snippets with entries from a YAML file of the form
//
//	snippets:
//	  sad: "..."
//
// Keys outside emotion.KnowledgeKeys are rejected.
func LoadFile(path string) (*Retriever, error) {
	r := NewRetriever()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read %s: %w", path, err)
	}
	if err := r.merge(data); err != nil {
		return nil, fmt.Errorf("knowledge: parse %s: %w", path, err)
	}
	return r, nil
}

func (r *Retriever) merge(data []byte) error {
	var file snippetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	for key, text := range file.Snippets {
		key = strings.ToLower(strings.TrimSpace(key))
		if !knownKey(key) {
			return fmt.Errorf("unknown knowledge key %q", key)
		}
		if text = strings.TrimSpace(text); text != "" {
			r.snippets[key] = text
		}
	}
	return nil
}

// Lookup returns the snippet filed under a knowledge key, or NotFound.
func (r *Retriever) Lookup(key string) string {
	if text, ok := r.snippets[key]; ok {
		return text
	}
	return NotFound
}

// ForLabel maps a raw emotion label to its key and returns the snippet.
func (r *Retriever) ForLabel(label string) string {
	return r.Lookup(emotion.KnowledgeKey(label))
}

func knownKey(key string) bool {
	for _, k := range emotion.KnowledgeKeys {
		if k == key {
			return true
		}
	}
	return false
}
