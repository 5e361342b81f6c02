package task

import (
	"github.com/flammable-ml/flammable/snapshot"
)

// PostFunc reduces the samples collected under one key to the value that
// gets stored.
type PostFunc func(values []float64) interface{}

// Mode selects a built-in postprocessing variant. The set is closed;
// anything else goes through NewCustomLogger.
type Mode int

const (
	// All stores every collected sample unreduced.
	All Mode = iota
	// Average stores the arithmetic mean of the collected samples.
	Average
)

// Logger stores sequentially incoming metric samples with no layout
// assumptions beyond "each sample is named". The postprocessing variant is
// resolved once at construction.
type Logger struct {
	values   map[string][]float64
	post     PostFunc
	identity bool
}

// NewLogger returns a Logger using one of the built-in modes.
func NewLogger(mode Mode) *Logger {
	l := &Logger{values: map[string][]float64{}}
	switch mode {
	case All:
		l.post = keepAll
		l.identity = true
	case Average:
		l.post = average
	default:
		panic("task: unknown logger mode")
	}
	return l
}

// NewCustomLogger returns a Logger reducing with a caller-supplied function.
func NewCustomLogger(fn PostFunc) *Logger {
	return &Logger{values: map[string][]float64{}, post: fn}
}

func keepAll(values []float64) interface{} {
	return values
}

func average(values []float64) interface{} {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Log appends each named sample to the series collected under that name.
func (l *Logger) Log(samples map[string]float64) {
	for name, value := range samples {
		l.values[name] = append(l.values[name], value)
	}
}

// StoreTrain postprocesses the collected values and appends them to the
// snapshot's train data, one entry per key per epoch.
func (l *Logger) StoreTrain(s *snapshot.Snapshot) error {
	return s.WithBucket(snapshot.Train, func(v *snapshot.View) error {
		for key, values := range l.values {
			if err := v.Append(key, l.post(values)); err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreVal mirrors StoreTrain into the validation bucket.
func (l *Logger) StoreVal(s *snapshot.Snapshot) error {
	return s.WithBucket(snapshot.Val, func(v *snapshot.View) error {
		for key, values := range l.values {
			if err := v.Append(key, l.post(values)); err != nil {
				return err
			}
		}
		return nil
	})
}

// StoreTest postprocesses the collected values into the snapshot's test
// data. When a reducing variant is in use and storeRaw is set, the raw
// series is stored as well under the same key suffixed "_data".
func (l *Logger) StoreTest(s *snapshot.Snapshot, storeRaw bool) error {
	return s.WithBucket(snapshot.Test, func(v *snapshot.View) error {
		for key, values := range l.values {
			if err := v.Store(key, l.post(values)); err != nil {
				return err
			}
			if !l.identity && storeRaw {
				if err := v.Store(key+"_data", values); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Final postprocesses every series and returns the results without storing.
func (l *Logger) Final() map[string]interface{} {
	results := map[string]interface{}{}
	for key, values := range l.values {
		results[key] = l.post(values)
	}
	return results
}
