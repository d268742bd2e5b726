package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"gocv.io/x/gocv"
)

// DefaultProcessIdleTimeout is how long an idle scoring process is kept alive.
const DefaultProcessIdleTimeout = 30 * time.Second

// Codec selects the wire format spoken with a scoring process.
type Codec string

const (
	// CodecJSON writes a 4-byte big-endian length followed by JPEG data and
	// reads one JSON line per frame:
	//
	//	{"detections": [[x_min, y_min, x_max, y_max, confidence], ...]}
	CodecJSON Codec = "json"
	// CodecMsgPack frames both directions as a 4-byte big-endian length
	// followed by a MessagePack map. Requests carry frame_data (JPEG),
	// width and height; responses carry detections.
	CodecMsgPack Codec = "msgpack"
)

// ProcessScorer implements Scorer with an external model process.
// The process is started lazily and stopped after an idle timeout.
type ProcessScorer struct {
	command     string
	args        []string
	codec       Codec
	idleTimeout time.Duration
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      *bufio.Reader
	mu          sync.Mutex
	started     bool
	idleTimer   *time.Timer
}

// NewProcessScorer creates a scorer backed by command. The command must
// exist on disk or in PATH.
func NewProcessScorer(command string, args ...string) (*ProcessScorer, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("scorer command %q not found: %w", command, err)
	}

	return &ProcessScorer{
		command:     path,
		args:        args,
		codec:       CodecJSON,
		idleTimeout: DefaultProcessIdleTimeout,
	}, nil
}

// SetIdleTimeout changes how long the process may stay idle. Values less
// than or equal to 0 are ignored.
func (p *ProcessScorer) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idleTimeout = d
}

// SetCodec changes the wire format. Unknown codecs are rejected.
func (p *ProcessScorer) SetCodec(codec Codec) error {
	switch codec {
	case CodecJSON, CodecMsgPack:
	default:
		return fmt.Errorf("unknown scorer codec %q", codec)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codec = codec
	return nil
}

// Score sends the frame to the model process and parses its candidates.
func (p *ProcessScorer) Score(frame *gocv.Mat) ([]Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	var dets []Detection
	if p.codec == CodecMsgPack {
		dets, err = p.exchangeMsgPack(buf.GetBytes(), frame.Cols(), frame.Rows())
	} else {
		dets, err = p.exchangeJSON(buf.GetBytes())
	}
	if err != nil {
		return nil, err
	}

	p.resetIdleTimer()

	return dets, nil
}

func (p *ProcessScorer) exchangeJSON(data []byte) ([]Detection, error) {
	if err := p.writeFramed(data); err != nil {
		return nil, err
	}

	line, err := p.stdout.ReadString('\n')
	if err != nil {
		p.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Detections []Detection `json:"detections"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return response.Detections, nil
}

func (p *ProcessScorer) exchangeMsgPack(data []byte, width, height int) ([]Detection, error) {
	request, err := msgpack.Marshal(map[string]any{
		"frame_data": data,
		"width":      width,
		"height":     height,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := p.writeFramed(request); err != nil {
		return nil, err
	}

	var length uint32
	if err := binary.Read(p.stdout, binary.BigEndian, &length); err != nil {
		p.shutdown()
		return nil, fmt.Errorf("read response length: %w", err)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(p.stdout, payload); err != nil {
		p.shutdown()
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Detections [][]float64 `msgpack:"detections"`
	}
	if err := msgpack.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	dets := make([]Detection, 0, len(response.Detections))
	for _, row := range response.Detections {
		d, err := detectionFrom(row)
		if err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		dets = append(dets, d)
	}
	return dets, nil
}

// writeFramed writes a 4-byte big-endian length followed by data.
func (p *ProcessScorer) writeFramed(data []byte) error {
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := p.stdin.Write(length); err != nil {
		p.shutdown()
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := p.stdin.Write(data); err != nil {
		p.shutdown()
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// Close shuts down the model process.
func (p *ProcessScorer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown()
}

func (p *ProcessScorer) ensureStarted() error {
	if p.started {
		return nil
	}

	p.cmd = exec.Command(p.command, p.args...)

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Model diagnostics go to our stderr
	p.cmd.Stderr = os.Stderr

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start scorer process: %w", err)
	}

	p.stdin = stdin
	p.stdout = bufio.NewReader(stdout)
	p.started = true

	return nil
}

func (p *ProcessScorer) shutdown() error {
	if !p.started {
		return nil
	}

	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}

	if p.stdin != nil {
		p.stdin.Close()
	}

	err := p.cmd.Wait()
	p.started = false
	p.cmd = nil
	p.stdin = nil
	p.stdout = nil

	return err
}

func (p *ProcessScorer) resetIdleTimer() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	p.idleTimer = time.AfterFunc(p.idleTimeout, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.shutdown()
	})
}
