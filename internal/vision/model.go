package vision

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/imageprocessor"
	"github.com/example/kyc-worker/internal/tensor"
)

// ModelConfig describes an ONNX network with a single [1, 3, Height, Width] input.
type ModelConfig struct {
	Name      string
	Path      string
	InputName string
	Width     int
	Height    int
	Norm      imageprocessor.Normalization
}

// ONNXModel is a long-lived model handle. The network is loaded on first use
// and a load failure is reported on every later call.
type ONNXModel struct {
	cfg    ModelConfig
	logger *zap.Logger

	once    sync.Once
	loadErr error

	// mu serializes SetInput/Forward, which share state on the net.
	mu     sync.Mutex
	net    gocv.Net
	loaded bool
}

var (
	_ assessment.Model = (*ONNXModel)(nil)

	errModelClosed = errors.New("model closed")
)

// NewONNXModel returns a handle for cfg without touching the file system.
func NewONNXModel(cfg ModelConfig, logger *zap.Logger) *ONNXModel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ONNXModel{cfg: cfg, logger: logger.Named("onnx_model").With(zap.String("model", cfg.Name))}
}

func (m *ONNXModel) load() error {
	m.once.Do(func() {
		if m.cfg.Width <= 0 || m.cfg.Height <= 0 {
			m.loadErr = fmt.Errorf("invalid input size %dx%d", m.cfg.Width, m.cfg.Height)
			return
		}
		if _, err := os.Stat(m.cfg.Path); err != nil {
			m.loadErr = fmt.Errorf("model file: %w", err)
			return
		}
		net := gocv.ReadNetFromONNX(m.cfg.Path)
		if net.Empty() {
			m.loadErr = fmt.Errorf("load onnx model %s", m.cfg.Path)
			return
		}
		m.net = net
		m.loaded = true
		m.logger.Info("model loaded",
			zap.String("path", m.cfg.Path),
			zap.String("input", m.cfg.InputName),
			zap.String("input_size", fmt.Sprintf("%dx%d", m.cfg.Width, m.cfg.Height)),
		)
	})
	return m.loadErr
}

// Infer preprocesses frame and runs one forward pass.
func (m *ONNXModel) Infer(frame assessment.Frame) (tensor.Tensor, error) {
	if err := m.load(); err != nil {
		return tensor.Tensor{}, err
	}

	blob, err := imageprocessor.Preprocess(frame, m.cfg.Width, m.cfg.Height, m.cfg.Norm)
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("preprocess: %w", err)
	}
	defer blob.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return tensor.Tensor{}, errModelClosed
	}

	m.net.SetInput(blob, m.cfg.InputName)
	out := m.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return tensor.Tensor{}, errors.New("forward pass returned no output")
	}

	values, err := out.DataPtrFloat32()
	if err != nil {
		return tensor.Tensor{}, fmt.Errorf("read output: %w", err)
	}
	data := make([]float32, len(values))
	copy(data, values)

	shape := out.Size()
	if t, err := tensor.New(shape, data); err == nil {
		return t, nil
	}
	return tensor.New([]int{len(data)}, data)
}

// Close releases the network if it was loaded and prevents later loads.
func (m *ONNXModel) Close() error {
	m.once.Do(func() { m.loadErr = errModelClosed })
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return nil
	}
	m.loaded = false
	return m.net.Close()
}
