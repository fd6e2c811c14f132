package command

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/symmetree-labs/zerostash-sub000/chunk"
)

// Add stages one or more files into the stash's file index, splitting
// and convergently encrypting their content, without yet committing.
// Grounded on the teacher's command/split.go (split a single file into
// chunks), generalized to the spec's file-backup semantics.
type Add struct {
	ui cli.Ui
}

func NewAdd() (cmd cli.Command, err error) {
	return &Add{
		ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stderr,
			ErrorWriter: os.Stderr,
		},
	}, nil
}

func (cmd *Add) Help() string {
	return fmt.Sprintf("\n  %s\n\nUsage: 0s add <path> [<path>...]\n", cmd.Synopsis())
}

func (cmd *Add) Synopsis() string {
	return "splits, deduplicates, and stages files into the stash"
}

func (cmd *Add) Run(args []string) int {
	if len(args) == 0 {
		cmd.ui.Error("usage: 0s add <path> [<path>...]")
		return 1
	}

	repo, err := openRepository(cmd.ui)
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to open stash: %v", err))
		return 2
	}
	defer repo.Close()

	splitter := chunk.BupSplitter{}

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			cmd.ui.Error(fmt.Sprintf("failed to open %q: %v", path, err))
			return 3
		}

		info, err := f.Stat()
		if err != nil {
			f.Close()
			cmd.ui.Error(fmt.Sprintf("failed to stat %q: %v", path, err))
			return 3
		}

		err = repo.Put(path, f, info.Mode(), info.ModTime(), splitter)
		f.Close()
		if err != nil {
			cmd.ui.Error(fmt.Sprintf("failed to add %q: %v", path, err))
			return 4
		}

		cmd.ui.Output(fmt.Sprintf("staged %s", path))
	}

	return 0
}
