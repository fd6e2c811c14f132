package repository_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/symmetree-labs/zerostash-sub000/repository"
)

func TestOverwriteFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zerostash.conf")
	contents := "# a comment\nbackend = s3\ns3_bucket = my-bucket\nbalancer_writers = 4\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	conf := repository.DefaultConf()
	if err := conf.OverwriteFromFile(path); err != nil {
		t.Fatal(err)
	}

	if conf.Backend != "s3" {
		t.Errorf("Backend = %q, want %q", conf.Backend, "s3")
	}
	if conf.S3Bucket != "my-bucket" {
		t.Errorf("S3Bucket = %q, want %q", conf.S3Bucket, "my-bucket")
	}
	if conf.BalancerWriters != 4 {
		t.Errorf("BalancerWriters = %d, want 4", conf.BalancerWriters)
	}
}

func TestOverwriteFromMissingFileIsNotAnError(t *testing.T) {
	conf := repository.DefaultConf()
	if err := conf.OverwriteFromFile(filepath.Join(t.TempDir(), "absent.conf")); err != nil {
		t.Errorf("expected a missing config file to be silently ignored, got %v", err)
	}
}

func TestOverwriteFromFileRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zerostash.conf")
	if err := os.WriteFile(path, []byte("not a valid line\n"), 0644); err != nil {
		t.Fatal(err)
	}

	conf := repository.DefaultConf()
	if err := conf.OverwriteFromFile(path); err == nil {
		t.Error("expected a malformed configuration line to be rejected")
	}
}
