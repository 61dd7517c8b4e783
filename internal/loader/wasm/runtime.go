// Package wasm instantiates activity modules compiled to WebAssembly (wasip1 reactors).
//
// A module exports `activities() i64`. The result packs the offset of a JSON
// payload in the high 32 bits and its length in the low 32 bits. The payload is
// either an array of activity records or an object {"error": "..."} reporting
// why the module could not produce them.
package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"example.com/activityboard/internal/domain"
	"example.com/activityboard/internal/loader"
)

const (
	// ActivitiesExport is the accessor every module exports.
	ActivitiesExport = "activities"
	// DataMount is the guest path the data directory is mounted at.
	DataMount = "/data"
)

// ErrModule reports a failure signalled by the module itself.
var ErrModule = errors.New("activity module error")

// Option configures the Instantiator.
type Option func(*Instantiator)

// WithDataDir mounts dir read-only at DataMount inside the guest.
func WithDataDir(dir string) Option {
	return func(i *Instantiator) {
		i.dataDir = dir
	}
}

// WithLogger overrides the logger. Guest stderr is forwarded to it at debug level.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(i *Instantiator) {
		i.logger = logger
	}
}

// Instantiator compiles module images with wazero.
type Instantiator struct {
	dataDir string
	logger  logrus.FieldLogger
}

// NewInstantiator constructs an Instantiator.
func NewInstantiator(opts ...Option) *Instantiator {
	i := &Instantiator{
		logger: logrus.StandardLogger().WithField("component", "wasm"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Instantiate implements loader.Instantiator. Compile errors and missing
// exports are permanent; the module's initializer failing is not.
func (i *Instantiator) Instantiate(ctx context.Context, image []byte) (loader.Module, error) {
	rt := wazero.NewRuntime(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, image)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, loader.Permanent(fmt.Errorf("compile module: %w", err))
	}
	if _, ok := compiled.ExportedFunctions()[ActivitiesExport]; !ok {
		_ = rt.Close(ctx)
		return nil, loader.Permanent(fmt.Errorf("module does not export %q", ActivitiesExport))
	}

	stderr := guestWriter(i.logger)
	cfg := wazero.NewModuleConfig().
		WithName("activities").
		WithStartFunctions("_initialize").
		WithStderr(stderr).
		WithStdout(io.Discard)
	if i.dataDir != "" {
		cfg = cfg.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(i.dataDir, DataMount))
	}

	mod, err := rt.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		_ = stderr.Close()
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("start module: %w", err)
	}

	return &module{
		runtime: rt,
		mod:     mod,
		fn:      mod.ExportedFunction(ActivitiesExport),
		stderr:  stderr,
	}, nil
}

// module serializes calls; a wazero module instance is not safe for concurrent use.
type module struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	mod     api.Module
	fn      api.Function
	stderr  io.Closer
}

func (m *module) Activities(ctx context.Context) ([]domain.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results, err := m.fn.Call(ctx)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", ActivitiesExport, err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("call %s: expected 1 result, got %d", ActivitiesExport, len(results))
	}

	ptr, size := Unpack(results[0])
	if size == 0 {
		return []domain.ActivityRecord{}, nil
	}
	raw, ok := m.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at %#x: out of range", size, ptr)
	}

	return decodePayload(raw)
}

type errorPayload struct {
	Error string `json:"error"`
}

func decodePayload(raw []byte) ([]domain.ActivityRecord, error) {
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var payload errorPayload
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			return nil, fmt.Errorf("decode error payload: %w", err)
		}
		if payload.Error == "" {
			payload.Error = "unspecified failure"
		}
		return nil, fmt.Errorf("%w: %s", ErrModule, payload.Error)
	}

	var records []domain.ActivityRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}
	if records == nil {
		records = []domain.ActivityRecord{}
	}
	return records, nil
}

func (m *module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.stderr.Close()
	return m.runtime.Close(ctx)
}

func guestWriter(logger logrus.FieldLogger) io.WriteCloser {
	return logger.WithField("stream", "stderr").WriterLevel(logrus.DebugLevel)
}

// Pack combines a linear-memory offset and length into the accessor's result.
func Pack(ptr, size uint32) uint64 {
	return uint64(ptr)<<32 | uint64(size)
}

// Unpack splits an accessor result into offset and length.
func Unpack(v uint64) (ptr, size uint32) {
	return uint32(v >> 32), uint32(v)
}
