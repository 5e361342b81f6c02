// Package task is the run harness: it binds a user-defined model to the
// experiment library and drives it through the train / test / eval command
// surface.
//
// A Task does not implement any model behavior itself. It holds named
// collaborators (Trainer, Tester, Evaluator) and delegates to them once the
// versioning work (change detection, commit, sync, snapshot creation) is
// done. Collaborators receive the live snapshot and write their results
// through its scoped storage views.
package task

import (
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flammable-ml/flammable/experiment"
	"github.com/flammable-ml/flammable/library"
	"github.com/flammable-ml/flammable/snapshot"
)

// Trainer adjusts model parameters and records results into snap.
type Trainer interface {
	Train(snap *snapshot.Snapshot) error
}

// Tester measures model performance and records results into snap.
type Tester interface {
	Test(snap *snapshot.Snapshot) error
}

// Evaluator applies the model to new samples from inputPath, writing to
// outputPath.
type Evaluator interface {
	Eval(snap *snapshot.Snapshot, inputPath, outputPath string) error
}

// Collaborators names the capability implementations a Task delegates to.
// Any of them may be nil; invoking the corresponding command then fails.
type Collaborators struct {
	Trainer   Trainer
	Tester    Tester
	Evaluator Evaluator
}

// Task drives one experiment script through the command surface.
type Task struct {
	lib    *library.Library
	collab Collaborators

	exp  *experiment.Experiment
	snap *snapshot.Snapshot
}

// New builds a Task around an explicitly provided registry. Until a command
// attaches a durable snapshot, the task carries the null variant so direct
// (non-CLI) use can still collect metrics through the same interface.
func New(lib *library.Library, collab Collaborators) *Task {
	return &Task{
		lib:    lib,
		collab: collab,
		snap:   snapshot.NewNull(),
	}
}

// Snapshot is the snapshot of the current run. Before any command ran (or
// when the run created none) this is the inert null variant.
func (t *Task) Snapshot() *snapshot.Snapshot {
	return t.snap
}

// Experiment is the experiment this task attached to, nil before Run.
func (t *Task) Experiment() *experiment.Experiment {
	return t.exp
}

// attach resolves the experiment this script belongs to (the name of its
// parent directory) and links the working copy.
func (t *Task) attach(scriptPath string) error {
	dir := filepath.Dir(scriptPath)
	name := filepath.Base(dir)
	exp, err := t.lib.GetOrCreate(name)
	if err != nil {
		return errors.Wrapf(err, "attaching to experiment %q", name)
	}
	if err := exp.LinkLocal(scriptPath); err != nil {
		return err
	}
	t.exp = exp
	return nil
}

// Run parses args (the command line after the program name) and executes
// the requested command for the script at scriptPath. message becomes the
// commit message and snapshot comment of a training run.
func (t *Task) Run(scriptPath, message string, args []string) error {
	if err := t.attach(scriptPath); err != nil {
		return err
	}

	var retrain, force, ignore bool

	root := &cobra.Command{
		Use:           "flammable",
		Short:         "run an experiment task",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "snapshot the current code and train it",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if retrain && force {
				return errors.New("--retrain and --force are mutually exclusive")
			}
			return t.runTrain(message, retrain, force)
		},
	}
	trainCmd.Flags().BoolVar(&retrain, "retrain", false, "reset the existing snapshot and train it from scratch")
	trainCmd.Flags().BoolVar(&force, "force", false, "create a new snapshot even if there were no changes in the code")
	root.AddCommand(trainCmd)

	testCmd := &cobra.Command{
		Use:   "test",
		Short: "test the last snapshot",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return t.runTest(ignore)
		},
	}
	testCmd.Flags().BoolVar(&ignore, "ignore", false, "ignore that the code was changed since training, test anyway")
	root.AddCommand(testCmd)

	evalCmd := &cobra.Command{
		Use:   "eval [infile] [outfile]",
		Short: "evaluate the last snapshot on new input",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(_ *cobra.Command, posArgs []string) error {
			var infile, outfile string
			if len(posArgs) > 0 {
				infile = posArgs[0]
			}
			if len(posArgs) > 1 {
				outfile = posArgs[1]
			}
			return t.runEval(ignore, infile, outfile)
		},
	}
	evalCmd.Flags().BoolVar(&ignore, "ignore", false, "ignore that the code was changed since training, eval anyway")
	root.AddCommand(evalCmd)

	root.SetArgs(args)
	return root.Execute()
}

// runTrain implements the training command logic. A snapshot represents a
// single trained version of the experiment, so:
//   - changes in the code: commit them, create a snapshot, train;
//   - no changes but --retrain: reset the last snapshot and train it again;
//   - no changes but --force: create a new snapshot at the current commit;
//   - otherwise: nothing to do, exit without creating anything.
func (t *Task) runTrain(message string, retrain, force bool) error {
	if t.collab.Trainer == nil {
		return errors.New("task has no trainer")
	}
	changes, err := t.exp.CheckChanges()
	if err != nil {
		return err
	}

	switch {
	case changes.Changed() || force:
		snap, err := t.exp.MakeSnapshot(message)
		if err != nil {
			return err
		}
		t.snap = snap
	case retrain:
		snap, err := t.exp.LastSnapshot()
		if err != nil {
			return err
		}
		if err := snap.Reset(); err != nil {
			return err
		}
		t.snap = snap
	default:
		log.Info("No changes detected. " +
			"If you wish to train a new snapshot anyway, run with --force. " +
			"If you wish to retrain the last snapshot, run with --retrain.")
		return nil
	}

	return t.collab.Trainer.Train(t.snap)
}

// runTest implements the testing command logic. Code is not expected to
// change between train and test; with pending changes it is ambiguous which
// version to test, so the harness refuses unless told to ignore them.
func (t *Task) runTest(ignore bool) error {
	if t.collab.Tester == nil {
		return errors.New("task has no tester")
	}
	changes, err := t.exp.CheckChanges()
	if err != nil {
		return err
	}
	if changes.Changed() && !ignore {
		log.Info("Changes detected. Which snapshot do you wish to test? " +
			"If you wish to test the last snapshot, run with --ignore.")
		return nil
	}
	snap, err := t.exp.LastSnapshot()
	if err != nil {
		return err
	}
	t.snap = snap
	return t.collab.Tester.Test(snap)
}

// runEval mirrors runTest for evaluation.
func (t *Task) runEval(ignore bool, inputPath, outputPath string) error {
	if t.collab.Evaluator == nil {
		return errors.New("task has no evaluator")
	}
	changes, err := t.exp.CheckChanges()
	if err != nil {
		return err
	}
	if changes.Changed() && !ignore {
		log.Info("Changes detected. Which snapshot do you wish to evaluate? " +
			"If you wish to eval the last snapshot, run with --ignore.")
		return nil
	}
	snap, err := t.exp.LastSnapshot()
	if err != nil {
		return err
	}
	t.snap = snap
	return t.collab.Evaluator.Eval(snap, inputPath, outputPath)
}
