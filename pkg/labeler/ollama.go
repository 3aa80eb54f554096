package labeler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookahead/pkg/nn"
	"github.com/ollama/ollama/api"
)

const DefaultOllamaModel = "qwen2.5vl"

const ollamaPrompt = `List the distinct physical objects visible in this photo, at most %d of them.
Respond with JSON only, in exactly this form:
{"objects": [{"label": "person", "confidence": 0.93, "box": {"x": 0.41, "y": 0.20, "w": 0.12, "h": 0.55}}]}
"box" is the object's bounding box, with all values as fractions (0..1) of the image width and height,
measured from the top-left corner. "confidence" is between 0 and 1. Use short lowercase English labels.`

// Ollama locates objects with a local vision language model served by Ollama.
// It can only see image content, so ImageRef.Data must be populated.
type Ollama struct {
	log    logs.Log
	client *api.Client
	model  string
}

func NewOllama(log logs.Log, ollamaURL, model string) (*Ollama, error) {
	parsed, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("Invalid Ollama URL '%v': %w", ollamaURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("Invalid Ollama URL '%v': scheme and host are required", ollamaURL)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Ollama{
		log:    log,
		client: api.NewClient(base, http.DefaultClient),
		model:  model,
	}, nil
}

func (o *Ollama) DetectLabels(ctx context.Context, img ImageRef, maxLabels int) ([]nn.Detection, error) {
	if len(img.Data) == 0 {
		return nil, ErrNoImage
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		// CPU inference is slow, but not this slow
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
	}
	limit := maxLabels
	if limit <= 0 {
		limit = 10
	}
	stream := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: fmt.Sprintf(ollamaPrompt, limit),
				Images:  []api.ImageData{api.ImageData(img.Data)},
			},
		},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": 0,
		},
	}
	start := time.Now()
	content := ""
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Ollama request for %v failed: %w", img.Key, err)
	}
	dets, err := ParseOllamaObjects(content, maxLabels)
	if err != nil {
		return nil, err
	}
	o.log.Infof("Ollama (%v) found %v labels in %v, in %.1f seconds", o.model, len(dets), img.Key, time.Since(start).Seconds())
	return dets, nil
}

type ollamaBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type ollamaObject struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        ollamaBox `json:"box"`
}

type ollamaObjects struct {
	Objects []ollamaObject `json:"objects"`
}

// ParseOllamaObjects parses the model's JSON answer into detections.
// Models often wrap JSON in code fences, or add comments and trailing commas, so
// those are stripped first. Objects with an empty label or a degenerate box are dropped.
func ParseOllamaObjects(raw string, maxLabels int) ([]nn.Detection, error) {
	raw = sanitizeModelJSON(raw)
	var parsed ollamaObjects
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("Failed to parse model response as JSON: %w", err)
	}
	g := newGrouper()
	for _, obj := range parsed.Objects {
		label := strings.TrimSpace(obj.Label)
		if label == "" {
			continue
		}
		left := clamp01(obj.Box.X)
		top := clamp01(obj.Box.Y)
		box := nn.NormalizedBox{
			Left:   left,
			Top:    top,
			Width:  clamp01(obj.Box.X+obj.Box.W) - left,
			Height: clamp01(obj.Box.Y+obj.Box.H) - top,
		}
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		g.add(label, clamp01(obj.Confidence)*100, box)
	}
	return g.result(maxLabels), nil
}

func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = stripJSONComments(raw)
	raw = dropTrailingCommas(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// jsonScanner walks JSON text a byte at a time, tracking whether we're inside a string literal.
// Everything we look for outside of strings is ASCII, so multi-byte runes pass through untouched.
type jsonScanner struct {
	inString bool
	escaped  bool
}

// step consumes c, and returns true if c is part of a string literal (including its quotes)
func (j *jsonScanner) step(c byte) bool {
	if j.inString {
		if j.escaped {
			j.escaped = false
		} else if c == '\\' {
			j.escaped = true
		} else if c == '"' {
			j.inString = false
		}
		return true
	}
	if c == '"' {
		j.inString = true
		return true
	}
	return false
}

// stripJSONComments removes // and /* */ comments that are outside string literals
func stripJSONComments(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	sc := jsonScanner{}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if sc.step(c) {
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			// Keep the newline
			for i+1 < len(raw) && raw[i+1] != '\n' {
				i++
			}
			continue
		}
		if c == '/' && i+1 < len(raw) && raw[i+1] == '*' {
			end := strings.Index(raw[i+2:], "*/")
			if end < 0 {
				break
			}
			i += 2 + end + 1
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// dropTrailingCommas removes commas that directly precede a closing bracket or brace,
// outside of string literals
func dropTrailingCommas(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	sc := jsonScanner{}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if !sc.step(c) && c == ',' {
			next := strings.TrimLeft(raw[i+1:], " \t\r\n")
			if next != "" && (next[0] == '}' || next[0] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
