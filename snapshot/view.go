package snapshot

import (
	"fmt"

	"github.com/pkg/errors"
)

// Bucket names one of the snapshot's mutable metadata sections.
type Bucket int

const (
	Train Bucket = iota
	Val
	Test
	Custom
)

func (b Bucket) String() string {
	switch b {
	case Train:
		return "train_data"
	case Val:
		return "val_data"
	case Test:
		return "test_data"
	case Custom:
		return "custom_data"
	default:
		return fmt.Sprintf("bucket(%d)", int(b))
	}
}

// ErrViewClosed means a storage view was used outside its active scope.
// That is a programming error, always fatal to the operation.
var ErrViewClosed = errors.New("storage view used outside its scope")

// View is a scoped write handle into one metadata bucket. It is usable
// only inside the WithBucket callback that produced it.
type View struct {
	parent *Snapshot
	data   map[string]interface{}
	ready  bool
}

// Store stores value directly under key, overwriting any old entry.
func (v *View) Store(key string, value interface{}) error {
	if !v.ready {
		return ErrViewClosed
	}
	v.data[key] = value
	return nil
}

// Append pushes value onto the ordered sequence under key, creating the
// sequence on first use.
func (v *View) Append(key string, value interface{}) error {
	if !v.ready {
		return ErrViewClosed
	}
	existing, ok := v.data[key]
	if !ok {
		v.data[key] = []interface{}{value}
		return nil
	}
	seq, ok := existing.([]interface{})
	if !ok {
		return errors.Errorf("key %q in %s holds a scalar; cannot append", key, v.parent.UID)
	}
	v.data[key] = append(seq, value)
	return nil
}

func (s *Snapshot) bucket(b Bucket) (map[string]interface{}, error) {
	switch b {
	case Train:
		return s.TrainData, nil
	case Val:
		return s.ValData, nil
	case Test:
		return s.TestData, nil
	case Custom:
		return s.CustomData, nil
	default:
		return nil, errors.Errorf("unknown bucket %v", b)
	}
}

// WithBucket runs fn with a live view into the given bucket. The snapshot
// reloads its on-disk state before the scope opens (never trusting
// in-memory state accumulated since the last load) and unconditionally
// re-serializes when the scope exits. This is the sole write path for
// bucket data: every mutation is durably flushed before control returns.
func (s *Snapshot) WithBucket(b Bucket, fn func(*View) error) error {
	if err := s.Deserialize(); err != nil {
		return err
	}
	data, err := s.bucket(b)
	if err != nil {
		return err
	}
	v := &View{parent: s, data: data, ready: true}
	fnErr := fn(v)
	v.ready = false
	if err := s.Serialize(); err != nil {
		if fnErr != nil {
			return fnErr
		}
		return err
	}
	return fnErr
}
