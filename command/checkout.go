package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/cli"
)

// Checkout reassembles a committed file's chunks back into a file on
// disk. Grounded on the teacher's command/combine.go (combine chunks
// back into the original file), re-pointed at repository.Repository.Get.
type Checkout struct {
	ui cli.Ui
}

func NewCheckout() (cmd cli.Command, err error) {
	return &Checkout{
		ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stderr,
			ErrorWriter: os.Stderr,
		},
	}, nil
}

func (cmd *Checkout) Help() string {
	return fmt.Sprintf("\n  %s\n\nUsage: 0s checkout <path> [<destination>]\n", cmd.Synopsis())
}

func (cmd *Checkout) Synopsis() string {
	return "reassembles a committed file's chunks back into a file"
}

func (cmd *Checkout) Run(args []string) int {
	if len(args) == 0 {
		cmd.ui.Error("usage: 0s checkout <path> [<destination>]")
		return 1
	}

	path := args[0]
	dest := path
	if len(args) > 1 {
		dest = args[1]
	}

	repo, err := openRepository(cmd.ui)
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to open stash: %v", err))
		return 2
	}
	defer repo.Close()

	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil {
			cmd.ui.Error(fmt.Sprintf("failed to create %q: %v", dir, err))
			return 3
		}
	}

	f, err := os.Create(dest)
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to create %q: %v", dest, err))
		return 3
	}
	defer f.Close()

	if err := repo.Get(path, f); err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to checkout %q: %v", path, err))
		return 4
	}

	cmd.ui.Output(fmt.Sprintf("wrote %s", dest))
	return 0
}
