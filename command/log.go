package command

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"
)

// Log prints the stash's commit history, most-recent first. Grounded
// on the teacher's command/fetch.go, re-pointed at
// repository.Repository.Log, and restoring the `0s log`-equivalent
// feature noted in SPEC_FULL.md as supplemented from original_source/.
type Log struct {
	ui cli.Ui
}

func NewLog() (cmd cli.Command, err error) {
	return &Log{
		ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
	}, nil
}

func (cmd *Log) Help() string {
	return fmt.Sprintf("\n  %s\n\nUsage: 0s log\n", cmd.Synopsis())
}

func (cmd *Log) Synopsis() string {
	return "shows the stash's commit history"
}

func (cmd *Log) Run(args []string) int {
	repo, err := openRepository(cmd.ui)
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to open stash: %v", err))
		return 1
	}
	defer repo.Close()

	for _, entry := range repo.Log() {
		cmd.ui.Output(fmt.Sprintf("generation %d  %s  %s", entry.Generation, entry.Time.Format("2006-01-02 15:04:05"), entry.Message))
	}

	return 0
}
