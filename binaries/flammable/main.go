// Command flammable inspects and manages the experiment library from the
// command line.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flammable-ml/flammable/common/stats"
	"github.com/flammable-ml/flammable/config"
	"github.com/flammable-ml/flammable/library"
)

func main() {
	log.SetLevel(log.InfoLevel)
	stats.CurrentStatsReceiver = stats.DefaultStatsReceiver()

	if err := makeCLI().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// libInjector defers opening the registry until a command actually runs,
// after the flags are parsed.
type libInjector struct {
	configFlag   string
	dataPathFlag string
}

func (i *libInjector) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&i.configFlag, "config", "",
		"library config (either a filename or literal JSON text)")
	cmd.PersistentFlags().StringVar(&i.dataPathFlag, "data-path", "",
		"storage root to use (and record) when no config exists yet")
}

func (i *libInjector) inject() (*library.Library, error) {
	var cfg *config.Config
	var err error
	if i.configFlag != "" {
		var text []byte
		if text, err = config.GetConfigText(i.configFlag); err != nil {
			return nil, err
		}
		cfg, err = config.Parse(text)
	} else {
		cfg, err = config.LoadDefault(i.dataPathFlag)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataPath(); err != nil {
		return nil, err
	}
	return library.Open(cfg.DataPath)
}

type libCommand interface {
	register() *cobra.Command
	run(lib *library.Library, args []string) error
}

func makeCLI() *cobra.Command {
	injector := &libInjector{}

	root := &cobra.Command{
		Use:           "flammable",
		Short:         "experiment snapshot library CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	injector.register(root)

	add := func(subCmd libCommand) {
		cmd := subCmd.register()
		cmd.RunE = func(_ *cobra.Command, args []string) error {
			lib, err := injector.inject()
			if err != nil {
				return err
			}
			defer lib.Close()
			return subCmd.run(lib, args)
		}
		root.AddCommand(cmd)
	}

	add(&lsCommand{})
	add(&snapshotsCommand{})
	add(&showCommand{})
	add(&createCommand{})

	return root
}

type lsCommand struct{}

func (c *lsCommand) register() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "list experiments in the library",
		Args:  cobra.NoArgs,
	}
}

func (c *lsCommand) run(lib *library.Library, _ []string) error {
	for name, exp := range lib.Experiments() {
		fmt.Printf("%s\t%d snapshots\n", name, len(exp.Snapshots()))
	}
	return nil
}

type snapshotsCommand struct{}

func (c *snapshotsCommand) register() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots <experiment>",
		Short: "list the snapshots of an experiment",
		Args:  cobra.ExactArgs(1),
	}
}

func (c *snapshotsCommand) run(lib *library.Library, args []string) error {
	exp, err := lib.Get(args[0])
	if err != nil {
		return err
	}
	for _, s := range exp.Snapshots() {
		fmt.Printf("%s\t%s\t%s\n", filepath.Base(s.Path()), s.CommitSHA[:8], s.Comment)
	}
	return nil
}

type showCommand struct{}

func (c *showCommand) register() *cobra.Command {
	return &cobra.Command{
		Use:   "show <experiment> <uid>",
		Short: "print a snapshot's metadata document",
		Args:  cobra.ExactArgs(2),
	}
}

func (c *showCommand) run(lib *library.Library, args []string) error {
	exp, err := lib.Get(args[0])
	if err != nil {
		return err
	}
	s, err := exp.Snapshot(args[1])
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(map[string]interface{}{
		"uid":         s.UID,
		"commit_sha":  s.CommitSHA,
		"timestamp":   s.Timestamp,
		"filename":    s.Filename,
		"comment":     s.Comment,
		"train_data":  s.TrainData,
		"val_data":    s.ValData,
		"test_data":   s.TestData,
		"model_files": s.ModelFiles,
		"custom_data": s.CustomData,
	}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

type createCommand struct{}

func (c *createCommand) register() *cobra.Command {
	return &cobra.Command{
		Use:   "create <experiment>",
		Short: "provision a new (empty) experiment",
		Args:  cobra.ExactArgs(1),
	}
}

func (c *createCommand) run(lib *library.Library, args []string) error {
	exp, err := lib.GetOrCreate(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("experiment %s ready at %s\n", exp.Name(), filepath.Join(lib.StoragePath(), exp.Name()))
	return nil
}
