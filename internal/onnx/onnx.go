// Package onnx owns the onnxruntime environment and builds sessions on an
// explicit compute device.
package onnx

import (
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Device selects where a session runs.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// ParseDevice accepts "cpu", "cuda" or "cuda:N".
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "" || s == string(CPU):
		return CPU, nil
	case s == string(CUDA) || strings.HasPrefix(s, "cuda:"):
		return Device(s), nil
	}
	return "", fmt.Errorf("unknown device %q", s)
}

// IsCUDA reports whether d targets a GPU.
func (d Device) IsCUDA() bool {
	return strings.HasPrefix(string(d), string(CUDA))
}

// deviceID returns N for "cuda:N" and "0" otherwise.
func (d Device) deviceID() string {
	if _, id, ok := strings.Cut(string(d), ":"); ok && id != "" {
		return id
	}
	return "0"
}

var (
	envMu   sync.Mutex
	envRefs int
)

// Acquire initializes the shared onnxruntime environment on first use.
// libPath points at the onnxruntime shared library; empty keeps the
// library's default lookup. Every Acquire must be paired with Release.
func Acquire(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

// Release drops one reference and tears the environment down with the last.
func Release() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// OpenSession loads modelPath into a session on device.
func OpenSession(modelPath string, inputs, outputs []string, device Device) (*ort.DynamicAdvancedSession, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()

	if device.IsCUDA() {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		defer cuda.Destroy()

		if err := cuda.Update(map[string]string{"device_id": device.deviceID()}); err != nil {
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, fmt.Errorf("enable cuda: %w", err)
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	return sess, nil
}
