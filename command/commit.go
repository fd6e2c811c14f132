package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/cli"
)

// Commit persists every staged Add/Delete as a new generation and
// records a message against it. Grounded on the teacher's
// command/push.go (push locally stored chunks to the remote store),
// generalized from "push what's not yet remote" to "seal the current
// generation's index".
type Commit struct {
	ui cli.Ui
}

func NewCommit() (cmd cli.Command, err error) {
	return &Commit{
		ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stderr,
			ErrorWriter: os.Stderr,
		},
	}, nil
}

func (cmd *Commit) Help() string {
	return fmt.Sprintf("\n  %s\n\nUsage: 0s commit <message>\n", cmd.Synopsis())
}

func (cmd *Commit) Synopsis() string {
	return "persists staged changes as a new, versioned generation"
}

func (cmd *Commit) Run(args []string) int {
	message := strings.Join(args, " ")
	if message == "" {
		message = "(no message)"
	}

	repo, err := openRepository(cmd.ui)
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to open stash: %v", err))
		return 1
	}
	defer repo.Close()

	if err := repo.Commit(message); err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to commit: %v", err))
		return 2
	}

	cmd.ui.Output("committed")
	return 0
}
