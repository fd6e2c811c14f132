package command

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/mitchellh/cli"

	"github.com/symmetree-labs/zerostash-sub000/repository"
)

// InitOpts holds the flags the init command accepts, in the same
// go-flags struct-tag style as the teacher's command/init.go.
var InitOpts struct {
	Backend  string `long:"backend" description:"Backend kind: directory, s3, or cache" default:"directory"`
	Path     string `long:"path" description:"Local directory to store objects in" default:".zerostash"`
	S3Bucket string `long:"s3-bucket" description:"S3 bucket name, for the s3/cache backends"`
	S3Domain string `long:"s3-domain" description:"S3-compatible endpoint domain" default:"s3.amazonaws.com"`
}

// Init writes a fresh stash configuration file in the current
// directory.
type Init struct {
	ui cli.Ui
}

func NewInit() (cmd cli.Command, err error) {
	return &Init{
		ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
	}, nil
}

// Help returns long-form help text that includes the command-line
// usage, a brief few sentences explaining the function of the command,
// and the complete list of flags the command accepts.
func (cmd *Init) Help() string {
	parser := flags.NewNamedParser(cmd.Usage(), flags.PassDoubleDash)
	if _, err := parser.AddGroup("default", "", &InitOpts); err != nil {
		panic(err)
	}

	buf := bytes.NewBuffer(nil)
	parser.WriteHelp(buf)

	return fmt.Sprintf("\n  %s\n\n%s\n", cmd.Synopsis(), buf.String())
}

// Synopsis returns a one-line, short synopsis of the command.
func (cmd *Init) Synopsis() string {
	return "initializes a new stash configuration in the current directory"
}

// Usage returns a usage description.
func (cmd *Init) Usage() string {
	return "0s init"
}

// Run runs the actual command with the given command-line arguments. It
// returns the exit status when it is finished.
func (cmd *Init) Run(args []string) int {
	if _, err := flags.ParseArgs(&InitOpts, args); err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to parse flags: %v", err))
		return 1
	}

	conf := repository.DefaultConf()
	conf.Backend = InitOpts.Backend
	conf.LocalPath = InitOpts.Path
	conf.S3Bucket = InitOpts.S3Bucket
	conf.S3Domain = InitOpts.S3Domain

	wd, err := os.Getwd()
	if err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to get working directory: %v", err))
		return 2
	}

	confPath := filepath.Join(wd, ConfigFileName)
	if err := writeConf(confPath, conf); err != nil {
		cmd.ui.Error(fmt.Sprintf("failed to write stash configuration: %v", err))
		return 3
	}

	cmd.ui.Output(fmt.Sprintf("wrote stash configuration to %s", confPath))
	return 0
}
