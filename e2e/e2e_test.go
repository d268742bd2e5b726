package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/framewatch/internal/app"
	"github.com/ayusman/framewatch/internal/config"
	"github.com/ayusman/framewatch/internal/events"
	"github.com/ayusman/framewatch/internal/server"
	"github.com/ayusman/framewatch/internal/store"
)

const testConfig = `
detector:
  threshold: 0.5
log:
  level: debug
`

var white = color.RGBA{255, 255, 255, 0}

// writeVideo records n frames with a moving bright spot to an MJPEG AVI.
func writeVideo(t *testing.T, path string, n int) {
	t.Helper()

	vw, err := gocv.VideoWriterFile(path, "MJPG", 30, 160, 120, true)
	if err != nil {
		t.Skipf("video writer not available: %v", err)
	}
	defer vw.Close()
	if !vw.IsOpened() {
		t.Skip("video writer could not open output")
	}

	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	for i := 0; i < n; i++ {
		frame.SetTo(gocv.NewScalar(20, 20, 20, 0))
		gocv.Circle(&frame, image.Point{X: 20 + i%120, Y: 60}, 8, white, -1)
		if err := vw.Write(frame); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()
	videoPath := filepath.Join(tmpDir, "clip.avi")
	writeVideo(t, videoPath, 60)

	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	logger := cfg.Log.Logger(os.Stderr)

	st, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	hub := server.NewHub(logger)
	defer hub.Close()
	recorder := events.NewRecorder()

	mgr := app.NewManager(app.ConfigFrom(cfg), st, events.Multi{events.NewLogSink(logger), hub, recorder}, logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	}()

	ts := httptest.NewServer(server.New(server.Config{Pipeline: mgr, Hub: hub, Logger: logger}))
	defer ts.Close()
	client := ts.Client()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/progress", nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	defer conn.Close()
	for deadline := time.Now().Add(2 * time.Second); hub.Clients() == 0; {
		if time.Now().After(deadline) {
			t.Fatal("websocket client was not registered")
		}
		time.Sleep(time.Millisecond)
	}

	var runID string

	t.Run("StartVideo", func(t *testing.T) {
		resp, err := client.Post(ts.URL+"/detect_video?rtsp_url="+url.QueryEscape(videoPath), "", nil)
		if err != nil {
			t.Fatalf("POST /detect_video error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
		}

		var body struct {
			Message    string `json:"message"`
			StopSignal string `json:"stop_signal"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Message != "Video processing started" || body.StopSignal == "" {
			t.Fatalf("response = %+v", body)
		}
		runID = body.StopSignal
	})
	if runID == "" {
		t.Fatal("no run was started")
	}

	t.Run("ProgressOverWebsocket", func(t *testing.T) {
		var got []events.Event
		// With the default retry policy only end-of-file detection stops
		// the run this quickly.
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var e events.Event
			if err := conn.ReadJSON(&e); err != nil {
				t.Fatalf("ReadJSON() error = %v (received %d events)", err, len(got))
			}
			got = append(got, e)
			if e.Kind == events.KindStopped {
				break
			}
		}

		if len(got) != 2 {
			t.Fatalf("received %d events, want progress then stopped", len(got))
		}
		if got[0].Kind != events.KindProgress || got[0].Processed != 50 {
			t.Errorf("first event = %+v", got[0])
		}
		// The clip ends and the source reports it closed.
		if got[1].Outcome != app.OutcomeFailed || got[1].RunID != runID {
			t.Errorf("final event = %+v", got[1])
		}
	})

	t.Run("RunHistory", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/runs/" + runID)
		if err != nil {
			t.Fatalf("GET run error = %v", err)
		}
		defer resp.Body.Close()

		var run app.RunInfo
		json.NewDecoder(resp.Body).Decode(&run)
		if run.Status != app.StatusStopped || run.Processed != 60 {
			t.Errorf("run = %+v, want stopped with 60 frames", run)
		}
		if run.ReadFailures != 0 {
			t.Errorf("read failures = %d, want 0 at end of file", run.ReadFailures)
		}
		if !strings.Contains(run.Error, "end of stream") {
			t.Errorf("error = %q, want end of stream", run.Error)
		}

		var stored *store.Run
		for deadline := time.Now().Add(2 * time.Second); ; {
			stored, err = st.Runs().Get(runID)
			if err != nil {
				t.Fatalf("store Get() error = %v", err)
			}
			if stored.Status == string(app.StatusStopped) || time.Now().After(deadline) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if stored.Processed != 60 || stored.Outcome != app.OutcomeFailed {
			t.Errorf("stored run = %+v", stored)
		}
	})

	t.Run("DetectImage", func(t *testing.T) {
		frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
		defer frame.Close()
		gocv.Circle(&frame, image.Point{X: 100, Y: 40}, 10, white, -1)

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
		if err != nil {
			t.Fatalf("IMEncode() error = %v", err)
		}
		defer buf.Close()

		resp, err := client.Post(ts.URL+"/detect_image", "image/jpeg", bytes.NewReader(buf.GetBytes()))
		if err != nil {
			t.Fatalf("POST /detect_image error = %v", err)
		}
		defer resp.Body.Close()

		var body struct {
			Detections [][]float64 `json:"detections"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if len(body.Detections) != 1 {
			t.Fatalf("detections = %v, want one", body.Detections)
		}
		d := body.Detections[0]
		if d[0] > 100 || d[2] < 100 || d[1] > 40 || d[3] < 40 {
			t.Errorf("box %v does not contain the spot", d)
		}
	})

	if got := recorder.Count(events.KindStopped); got != 1 {
		t.Errorf("recorded %d stopped events, want 1", got)
	}
}
