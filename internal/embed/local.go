package embed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultLocalModel is the sentence-transformer used by "local".
const DefaultLocalModel = "sentence-transformers/all-MiniLM-L6-v2"

// LocalEmbedder runs a sentence-transformer in-process with the pure Go
// hugot backend. The model is downloaded into ModelDir on first use.
type LocalEmbedder struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline

	// RunPipeline is not documented as goroutine-safe.
	mu   sync.Mutex
	dims int
}

// LocalConfig configures NewLocalEmbedder.
type LocalConfig struct {
	Model    string // Hugging Face model name, default DefaultLocalModel
	ModelDir string // download cache, default ~/.startfirst/models
}

// NewLocalEmbedder prepares the model and builds a feature-extraction pipeline.
func NewLocalEmbedder(cfg LocalConfig) (*LocalEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultLocalModel
	}
	if cfg.ModelDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		cfg.ModelDir = filepath.Join(home, ".startfirst", "models")
	}

	modelPath, err := prepareModel(cfg.Model, cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("creating hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "startfirst-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("creating embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("creating embedding pipeline: %w", err)
	}

	return &LocalEmbedder{session: session, pipeline: pipeline, dims: DefaultHashDimensions}, nil
}

// prepareModel downloads the ONNX export of model into dir unless it is already there.
func prepareModel(model, dir string) (string, error) {
	modelPath := filepath.Join(dir, strings.ReplaceAll(model, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking model directory: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(model, dir, opts)
	if err != nil {
		return "", fmt.Errorf("downloading model %s: %w", model, err)
	}
	return downloaded, nil
}

func (l *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}
	out, err := l.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (l *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	batch := make([]string, 0, len(texts))
	positions := make([]int, 0, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) != "" {
			batch = append(batch, t)
			positions = append(positions, i)
		}
	}
	if len(batch) == 0 {
		return out, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.pipeline.RunPipeline(batch)
	if err != nil {
		return nil, fmt.Errorf("generating embeddings: %w", err)
	}
	if len(result.Embeddings) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(result.Embeddings))
	}
	for i, emb := range result.Embeddings {
		out[positions[i]] = emb
		l.dims = len(emb)
	}
	return out, nil
}

func (l *LocalEmbedder) Dimensions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dims
}

// Close releases the hugot session.
func (l *LocalEmbedder) Close() error {
	return l.session.Destroy()
}
