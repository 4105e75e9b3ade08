// Package analyze runs face detection over a set of images in parallel and feeds the
// detected faces to the clustering engine in a fixed order.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/andresmejia3/aibum/internal/logger"
	"github.com/andresmejia3/aibum/internal/types"
	"github.com/andresmejia3/aibum/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Detector is the embedding provider: it finds faces in one encoded image.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]types.Detection, error)
}

// Clusterer assigns faces to person groups. *cluster.Engine satisfies it.
type Clusterer interface {
	ProcessBatch(ctx context.Context, faces []types.Face) ([]string, error)
}

// Assignment records which group a detected face joined.
type Assignment struct {
	Image   string
	FaceID  string
	GroupID string
}

// Result summarizes a pipeline run.
type Result struct {
	Images      int      // images whose faces reached the engine
	Faces       int      // faces assigned to a group
	Rejected    int      // faces the engine refused (e.g. wrong dimension)
	Failed      []string // images whose load or detection failed, treated as zero faces
	Assignments []Assignment
}

// Options configures a Pipeline.
type Options struct {
	// Load reads an image by reference when the task carries no data. Defaults to os.ReadFile.
	Load func(ref string) ([]byte, error)
	// Progress is called after each image is committed.
	Progress func(done, total int)
	Logger   *logger.Logger
}

// Pipeline detects faces with one goroutine per detector and commits them to the
// engine strictly in task order, then detection order.
type Pipeline struct {
	engine    Clusterer
	detectors []Detector
	load      func(string) ([]byte, error)
	progress  func(done, total int)
	log       *logger.Logger
}

// detected wraps the output from a worker to be sent to the committer
type detected struct {
	index   int
	ref     string
	imageID string
	faces   []types.Detection
	err     error
}

func New(engine Clusterer, detectors []Detector, opts Options) *Pipeline {
	if opts.Load == nil {
		opts.Load = os.ReadFile
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Pipeline{
		engine:    engine,
		detectors: detectors,
		load:      opts.Load,
		progress:  opts.Progress,
		log:       opts.Logger.WithField("component", "analyze"),
	}
}

// Run processes tasks and returns what was committed. On cancellation the images
// committed so far stay committed and the context error is returned.
func (p *Pipeline) Run(ctx context.Context, tasks []types.ImageTask) (*Result, error) {
	if len(p.detectors) == 0 {
		return nil, errors.New("analyze: no detectors")
	}

	g, gctx := errgroup.WithContext(ctx)
	taskCh := make(chan types.ImageTask, len(p.detectors))
	resultCh := make(chan detected, len(p.detectors)*2)

	g.Go(func() error {
		defer close(taskCh)
		for i, t := range tasks {
			// Index is the commit order, whatever the caller put there.
			t.Index = i
			select {
			case taskCh <- t:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for i, d := range p.detectors {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return p.detect(gctx, i, d, taskCh, resultCh)
		})
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	result := &Result{}
	g.Go(func() error {
		return p.commit(gctx, len(tasks), resultCh, result)
	})

	err := g.Wait()
	return result, err
}

// detect runs one detector over tasks until the channel drains or ctx is cancelled.
func (p *Pipeline) detect(ctx context.Context, id int, d Detector, tasks <-chan types.ImageTask, results chan<- detected) error {
	for t := range tasks {
		res := detected{index: t.Index, ref: t.Ref}

		data := t.Data
		if data == nil {
			data, res.err = p.load(t.Ref)
		}
		if res.err == nil {
			res.imageID = utils.ImageID(data)
			res.faces, res.err = d.Detect(ctx, data)
		}
		if res.err != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			p.log.WithFields(logger.Fields{"worker": id, "image": t.Ref}).WithError(res.err).Warn("Detection failed, treating image as faceless")
			res.faces = nil
		}

		select {
		case results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// commit reorders results by task index and hands each image's faces to the engine as one batch.
func (p *Pipeline) commit(ctx context.Context, total int, results <-chan detected, out *Result) error {
	// Buffer for re-ordering images (worker 2 might finish before worker 1)
	buffer := make(map[int]detected)
	next := 0

	for res := range results {
		buffer[res.index] = res

		for {
			r, ok := buffer[next]
			if !ok {
				break
			}
			delete(buffer, next)

			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.commitImage(ctx, r, out); err != nil {
				return err
			}
			next++
			if p.progress != nil {
				p.progress(next, total)
			}
		}
	}
	if next < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("analyze: only %d of %d images were processed", next, total)
	}
	return nil
}

func (p *Pipeline) commitImage(ctx context.Context, r detected, out *Result) error {
	out.Images++
	if r.err != nil {
		out.Failed = append(out.Failed, r.ref)
		return nil
	}
	if len(r.faces) == 0 {
		return nil
	}

	faces := make([]types.Face, len(r.faces))
	for j, d := range r.faces {
		faces[j] = types.Face{
			ID:          fmt.Sprintf("%s-%d", r.imageID[:16], j),
			Embedding:   d.Embedding,
			SourceImage: r.ref,
			Region:      d.Region,
			Landmarks:   d.Landmarks,
		}
	}

	// An image is committed as a unit: cancellation is only honoured between images.
	ids, err := p.engine.ProcessBatch(context.WithoutCancel(ctx), faces)
	if err != nil {
		p.log.WithField("image", r.ref).WithError(err).Warn("Some faces were rejected")
	}
	for j, id := range ids {
		if id == "" {
			out.Rejected++
			continue
		}
		out.Faces++
		out.Assignments = append(out.Assignments, Assignment{Image: r.ref, FaceID: faces[j].ID, GroupID: id})
	}
	if len(ids) != len(faces) {
		return fmt.Errorf("analyze: engine returned %d ids for %d faces", len(ids), len(faces))
	}
	return nil
}
