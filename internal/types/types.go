package types

import "time"

// Embedding is a fixed-length face descriptor produced by the recognition model.
type Embedding []float64

// Clone returns an independent copy so callers can never mutate a stored embedding.
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	out := make(Embedding, len(e))
	copy(out, e)
	return out
}

// Region is a face bounding box in source image pixels.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Point is a single facial landmark.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ImageTask represents a single image sent to a worker for detection
type ImageTask struct {
	Index int
	Ref   string
	Data  []byte
}

// Detection is one face returned by the embedding provider for an image.
type Detection struct {
	Region    Region    `json:"region"`
	Embedding Embedding `json:"embedding"`
	Landmarks []Point   `json:"landmarks,omitempty"`
}

// Face is a detected face as tracked by the clustering engine.
// GroupID is a back-reference written once the face has been assigned.
type Face struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId,omitempty"`
	Embedding   Embedding `json:"embedding"`
	SourceImage string    `json:"sourceImage"`
	Region      Region    `json:"region"`
	Landmarks   []Point   `json:"landmarks,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ErrorResult is the JSON error body returned by the HTTP API
type ErrorResult struct {
	Error string `json:"error"`
}
