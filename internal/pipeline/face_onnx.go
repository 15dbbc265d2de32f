package pipeline

import (
	"fmt"
	"image"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/kikiluvv/deepfake-detection/internal/onnx"
	"github.com/kikiluvv/deepfake-detection/internal/tensor"
)

// UltraFace RFB-320 geometry.
const (
	ultraWidth   = 320
	ultraHeight  = 240
	ultraAnchors = 4420
)

// ONNXFaceLocator runs an UltraFace detector and returns its highest
// scoring box. Calls are serialized; the session and tensors are reused.
type ONNXFaceLocator struct {
	Threshold float32

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   *ort.Tensor[float32]
	scores  *ort.Tensor[float32]
	boxes   *ort.Tensor[float32]
}

// NewONNXFaceLocator loads modelPath on device.
func NewONNXFaceLocator(modelPath, libPath string, device onnx.Device) (*ONNXFaceLocator, error) {
	if err := onnx.Acquire(libPath); err != nil {
		return nil, err
	}

	l := &ONNXFaceLocator{Threshold: 0.7}
	var err error
	l.session, err = onnx.OpenSession(modelPath, []string{"input"}, []string{"scores", "boxes"}, device)
	if err != nil {
		_ = onnx.Release()
		return nil, err
	}
	if l.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, ultraHeight, ultraWidth)); err != nil {
		l.Close()
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	if l.scores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, ultraAnchors, 2)); err != nil {
		l.Close()
		return nil, fmt.Errorf("scores tensor: %w", err)
	}
	if l.boxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, ultraAnchors, 4)); err != nil {
		l.Close()
		return nil, fmt.Errorf("boxes tensor: %w", err)
	}
	return l, nil
}

func (l *ONNXFaceLocator) Locate(f tensor.Frame) (image.Rectangle, bool, error) {
	small := fromImage(resize.Resize(ultraWidth, ultraHeight, toRGBA64(f), resize.Bilinear))

	l.mu.Lock()
	defer l.mu.Unlock()

	// UltraFace expects (v - 127) / 128 on RGB input
	in := l.input.GetData()
	for i, v := range small.Pix {
		in[i] = float32((v - 127) / 128)
	}

	if err := l.session.Run([]ort.Value{l.input}, []ort.Value{l.scores, l.boxes}); err != nil {
		return image.Rectangle{}, false, fmt.Errorf("face detection failed: %w", err)
	}

	scores := l.scores.GetData()
	best, bestScore := -1, l.Threshold
	for i := 0; i < ultraAnchors; i++ {
		if s := scores[2*i+1]; s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return image.Rectangle{}, false, nil
	}

	b := l.boxes.GetData()[4*best : 4*best+4]
	box := image.Rect(
		int(b[0]*float32(f.W)), int(b[1]*float32(f.H)),
		int(b[2]*float32(f.W)), int(b[3]*float32(f.H)),
	)
	return box, true, nil
}

// Close destroys the session and its tensors.
func (l *ONNXFaceLocator) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range []*ort.Tensor[float32]{l.input, l.scores, l.boxes} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	l.input, l.scores, l.boxes = nil, nil, nil
	if l.session != nil {
		if err := l.session.Destroy(); err != nil {
			return err
		}
		l.session = nil
		return onnx.Release()
	}
	return nil
}
