package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/aibum/internal/types"
	"github.com/andresmejia3/aibum/internal/utils" // Using the SafeCommand wrapper
)

// Response status bytes written by python/worker.py.
const (
	statusOK    = 0
	statusError = 1
)

// Upper bounds that keep a corrupt header from triggering a huge allocation.
const (
	maxFaces     = 1024
	maxLandmarks = 256
	maxDimension = 4096

	// maxResponse is the largest payload the bounds above allow.
	maxResponse = 1 + 4 + maxFaces*(16+4+8*maxLandmarks+4+4*maxDimension)
)

// PythonWorker runs the face recognition model in a long-lived Python process
// and implements the embedding provider used by the analyze pipeline.
type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu sync.Mutex
}

// NewPythonWorker starts `python -u script` with FD 3 as the response channel.
func NewPythonWorker(id int, python, script string) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand(python, "-u", script)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Detect sends one encoded image and returns the faces found in it.
// Cancelling ctx while a request is in flight closes the data pipe, which leaves the worker unusable.
func (w *PythonWorker) Detect(ctx context.Context, image []byte) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { w.DataPipe.Close() })
	defer stop()

	resp, err := w.communicate(image)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return parseResponse(resp)
}

func (w *PythonWorker) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Read Result from the dedicated data pipe so Python's stdout noise never corrupts it.
	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxResponse {
		return nil, fmt.Errorf("response of %d bytes exceeds limit %d", respLen, maxResponse)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// parseResponse decodes [status] then either the detections or an error message.
// Each detection is [box][u32 m][m points][u32 dim][dim floats].
func parseResponse(payload []byte) ([]types.Detection, error) {
	if len(payload) == 0 {
		return nil, errors.New("empty response from python worker")
	}
	r := bytes.NewReader(payload[1:])

	switch payload[0] {
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("malformed error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)

	case statusOK:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("malformed response: %w", err)
		}
		if n > maxFaces {
			return nil, fmt.Errorf("malformed response: %d faces exceeds limit %d", n, maxFaces)
		}

		faces := make([]types.Detection, 0, n)
		for i := uint32(0); i < n; i++ {
			var box [4]int32
			if err := binary.Read(r, binary.BigEndian, &box); err != nil {
				return nil, fmt.Errorf("face %d: malformed box: %w", i, err)
			}
			landmarks, err := readLandmarks(r)
			if err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
			var dim uint32
			if err := binary.Read(r, binary.BigEndian, &dim); err != nil {
				return nil, fmt.Errorf("face %d: malformed dimension: %w", i, err)
			}
			if dim > maxDimension {
				return nil, fmt.Errorf("face %d: dimension %d exceeds limit %d", i, dim, maxDimension)
			}
			vec := make([]float32, dim)
			if err := binary.Read(r, binary.BigEndian, vec); err != nil {
				return nil, fmt.Errorf("face %d: malformed embedding: %w", i, err)
			}

			emb := make(types.Embedding, dim)
			for j, v := range vec {
				emb[j] = float64(v)
			}
			faces = append(faces, types.Detection{
				Region: types.Region{
					X:      int(box[0]),
					Y:      int(box[1]),
					Width:  int(box[2]),
					Height: int(box[3]),
				},
				Embedding: emb,
				Landmarks: landmarks,
			})
		}
		if r.Len() != 0 {
			return nil, fmt.Errorf("malformed response: %d trailing bytes", r.Len())
		}
		return faces, nil
	}
	return nil, fmt.Errorf("unknown response status %d", payload[0])
}

func readLandmarks(r io.Reader) ([]types.Point, error) {
	var m uint32
	if err := binary.Read(r, binary.BigEndian, &m); err != nil {
		return nil, fmt.Errorf("malformed landmark count: %w", err)
	}
	if m > maxLandmarks {
		return nil, fmt.Errorf("%d landmarks exceeds limit %d", m, maxLandmarks)
	}
	if m == 0 {
		return nil, nil
	}
	raw := make([][2]float32, m)
	if err := binary.Read(r, binary.BigEndian, raw); err != nil {
		return nil, fmt.Errorf("malformed landmarks: %w", err)
	}
	points := make([]types.Point, m)
	for i, p := range raw {
		points[i] = types.Point{X: float64(p[0]), Y: float64(p[1])}
	}
	return points, nil
}

// Close shuts down the worker and waits for the process to exit.
func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
