package status

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestStatusAndVersion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(VersionInfo{Version: "v1", BuildSHA: "sha1", BuildDate: "2025-01-01"}, func() Snapshot {
		return Snapshot{Transport: "connected", AudioRunning: true, Volume: 0.25, AudioChunks: 7, FrameChunks: 3}
	})
	addr, err := s.Start(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Snapshot
		Host struct {
			CPUPercent float64 `json:"cpuPercent"`
			RSSBytes   uint64  `json:"rssBytes"`
		} `json:"host"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Transport != "connected" || !body.AudioRunning || body.AudioChunks != 7 {
		t.Fatalf("unexpected status: %+v", body)
	}

	respV, err := http.Get("http://" + addr + "/version")
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	defer respV.Body.Close()
	var vi VersionInfo
	if err := json.NewDecoder(respV.Body).Decode(&vi); err != nil {
		t.Fatalf("decode version: %v", err)
	}
	if vi.Version != "v1" || vi.BuildSHA != "sha1" {
		t.Fatalf("unexpected version: %+v", vi)
	}
}
