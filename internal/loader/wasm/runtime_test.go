package wasm

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"example.com/activityboard/internal/domain"
)

func TestPackRoundTrip(t *testing.T) {
	ptr, size := Unpack(Pack(0x1000, 45))
	require.Equal(t, uint32(0x1000), ptr)
	require.Equal(t, uint32(45), size)
}

func TestInstantiateReadsActivities(t *testing.T) {
	payload := `[{"type":"Run","movingTime":1800,"tss":42.5},{"type":"Ride","movingTime":150,"tss":5}]`
	ctx := context.Background()

	mod, err := newTestInstantiator().Instantiate(ctx, activityModule(payload))
	require.NoError(t, err)
	defer mod.Close(ctx)

	records, err := mod.Activities(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.ActivityRecord{
		{Type: "Run", MovingTime: 1800, TSS: 42.5},
		{Type: "Ride", MovingTime: 150, TSS: 5},
	}, records)
}

func TestInstantiateEmptyList(t *testing.T) {
	ctx := context.Background()
	mod, err := newTestInstantiator().Instantiate(ctx, activityModule(`[]`))
	require.NoError(t, err)
	defer mod.Close(ctx)

	records, err := mod.Activities(ctx)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestInstantiateRejectsGarbage(t *testing.T) {
	_, err := newTestInstantiator().Instantiate(context.Background(), []byte("not wasm"))
	require.Error(t, err)

	var permanent *backoff.PermanentError
	require.True(t, errors.As(err, &permanent))
}

func TestInstantiateRequiresAccessorExport(t *testing.T) {
	empty := []byte("\x00asm\x01\x00\x00\x00")
	_, err := newTestInstantiator().Instantiate(context.Background(), empty)
	require.ErrorContains(t, err, ActivitiesExport)

	var permanent *backoff.PermanentError
	require.True(t, errors.As(err, &permanent))
}

func TestActivitiesReportsModuleError(t *testing.T) {
	ctx := context.Background()
	mod, err := newTestInstantiator().Instantiate(ctx, activityModule(`{"error":"open /data/activities.json: no such file"}`))
	require.NoError(t, err)
	defer mod.Close(ctx)

	records, err := mod.Activities(ctx)
	require.ErrorIs(t, err, ErrModule)
	require.ErrorContains(t, err, "no such file")
	require.Nil(t, records)
}

func TestDecodePayload(t *testing.T) {
	_, err := decodePayload([]byte(`{}`))
	require.ErrorIs(t, err, ErrModule)

	_, err = decodePayload([]byte(`{"error":`))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrModule)

	_, err = decodePayload([]byte(`[{"type":`))
	require.ErrorContains(t, err, "decode activities")

	records, err := decodePayload([]byte(`null`))
	require.NoError(t, err)
	require.Equal(t, []domain.ActivityRecord{}, records)
}

func TestActivityModuleGuest(t *testing.T) {
	image := buildGuest(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		data    string
		want    []domain.ActivityRecord
		wantErr string
	}{
		{
			name: "valid file",
			data: `[{"type":"Run","movingTime":1800,"tss":42.5},{"type":"Swim","movingTime":600,"tss":8}]`,
			want: []domain.ActivityRecord{
				{Type: "Run", MovingTime: 1800, TSS: 42.5},
				{Type: "Swim", MovingTime: 600, TSS: 8},
			},
		},
		{name: "empty list", data: `[]`, want: []domain.ActivityRecord{}},
		{name: "malformed file", data: `[{"type":"Run",`, wantErr: "decode /data/activities.json"},
		{name: "missing file", wantErr: "activities.json"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if tc.data != "" {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "activities.json"), []byte(tc.data), 0o644))
			}

			logger, _ := test.NewNullLogger()
			mod, err := NewInstantiator(WithDataDir(dir), WithLogger(logger)).Instantiate(ctx, image)
			require.NoError(t, err)
			defer mod.Close(ctx)

			records, err := mod.Activities(ctx)
			if tc.wantErr != "" {
				require.ErrorIs(t, err, ErrModule)
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, records)
		})
	}
}

// buildGuest compiles cmd/activitymodule as a wasip1 reactor.
func buildGuest(t *testing.T) []byte {
	t.Helper()
	if testing.Short() {
		t.Skip("compiles the guest module")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not on PATH")
	}

	out := filepath.Join(t.TempDir(), "activities.wasm")
	cmd := exec.Command(goBin, "build", "-buildmode=c-shared", "-o", out, "./cmd/activitymodule")
	cmd.Dir = filepath.Join("..", "..", "..")
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm")
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))

	image, err := os.ReadFile(out)
	require.NoError(t, err)
	return image
}

func newTestInstantiator() *Instantiator {
	logger, _ := test.NewNullLogger()
	return NewInstantiator(WithLogger(logger))
}

// activityModule assembles a module with one page of memory holding payload at
// offset 0 and an `activities` export returning Pack(0, len(payload)).
func activityModule(payload string) []byte {
	out := []byte("\x00asm\x01\x00\x00\x00")

	// type: () -> i64
	out = append(out, section(0x01, []byte{0x01, 0x60, 0x00, 0x01, 0x7e})...)
	// function 0 has type 0
	out = append(out, section(0x03, []byte{0x01, 0x00})...)
	// memory: min 1 page
	out = append(out, section(0x05, []byte{0x01, 0x00, 0x01})...)

	export := []byte{0x01}
	export = append(export, name(ActivitiesExport)...)
	export = append(export, 0x00, 0x00)
	out = append(out, section(0x07, export)...)

	body := []byte{0x00, 0x42}
	body = append(body, sleb(int64(Pack(0, uint32(len(payload)))))...)
	body = append(body, 0x0b)
	code := []byte{0x01}
	code = append(code, uleb(uint64(len(body)))...)
	code = append(code, body...)
	out = append(out, section(0x0a, code)...)

	data := []byte{0x01, 0x00, 0x41, 0x00, 0x0b}
	data = append(data, name(payload)...)
	out = append(out, section(0x0b, data)...)
	return out
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(content)))...)
	return append(out, content...)
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
