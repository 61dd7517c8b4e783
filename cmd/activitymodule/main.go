//go:build wasip1

// Command activitymodule is the activity module served to the loader. Build it
// as a reactor:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o activities.wasm ./cmd/activitymodule
//
// It reads activities.json from the mounted data directory each time the host
// calls the activities export. A missing or malformed file is reported to the
// host as {"error": "..."} rather than as an empty list.
package main

import (
	"encoding/json"
	"fmt"
	"os"
)

const dataFile = "/data/activities.json"

type record struct {
	Type       string   `json:"type"`
	MovingTime *float64 `json:"movingTime,omitempty"`
	TSS        *float64 `json:"tss,omitempty"`
}

// buf keeps the last payload reachable so the host can read it after the call returns.
var buf []byte

//go:wasmexport activities
func activities() uint64 {
	payload, err := load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "activities: %v\n", err)
		payload = errorPayload(err)
	}
	buf = payload
	return uint64(pointer(buf))<<32 | uint64(len(buf))
}

func load() ([]byte, error) {
	raw, err := os.ReadFile(dataFile)
	if err != nil {
		return nil, err
	}
	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", dataFile, err)
	}
	if records == nil {
		records = []record{}
	}
	return json.Marshal(records)
}

func errorPayload(err error) []byte {
	out, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	return out
}

func main() {}
