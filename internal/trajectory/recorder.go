package trajectory

import (
	"encoding/json"
	"path/filepath"

	"github.com/talgya/langmuir/internal/engine"
)

// Recorder persists trajectory frames and drain exits for one run under
// <dir>/<runID>/. It satisfies engine.FrameSink and engine.Sink.
type Recorder struct {
	frames *JSONLZstdWriter
	exits  *JSONLZstdWriter
}

// NewRecorder creates a recorder. framesPerFile bounds the size of each
// frame file; exits always go to a single file.
func NewRecorder(dir, runID string, framesPerFile int) *Recorder {
	base := filepath.Join(dir, runID)
	return &Recorder{
		frames: NewJSONLZstdWriter(base, "frames", framesPerFile),
		exits:  NewJSONLZstdWriter(base, "exits", 0),
	}
}

func (r *Recorder) RecordFrame(f *engine.Frame) error { return r.frames.Write(f) }

// RecordTick writes the tick's drain exits, if any.
func (r *Recorder) RecordTick(t *engine.TickReport) error {
	for i := range t.Exits {
		if err := r.exits.Write(&t.Exits[i]); err != nil {
			return err
		}
	}
	return nil
}

// FramePaths returns the frame files written so far.
func (r *Recorder) FramePaths() []string { return r.frames.Paths() }

// ExitPaths returns the exit files written so far.
func (r *Recorder) ExitPaths() []string { return r.exits.Paths() }

func (r *Recorder) Close() error {
	err := r.frames.Close()
	if err2 := r.exits.Close(); err == nil {
		err = err2
	}
	return err
}

// ReadFrames decodes every frame stored in path.
func ReadFrames(path string) ([]engine.Frame, error) {
	var frames []engine.Frame
	err := ReadLines(path, func(line []byte) error {
		var f engine.Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return err
		}
		frames = append(frames, f)
		return nil
	})
	return frames, err
}

// ReadExits decodes every exit stored in path.
func ReadExits(path string) ([]engine.Exit, error) {
	var exits []engine.Exit
	err := ReadLines(path, func(line []byte) error {
		var e engine.Exit
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		exits = append(exits, e)
		return nil
	})
	return exits, err
}
