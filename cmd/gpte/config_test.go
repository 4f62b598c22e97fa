package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/terminal"
	"github.com/gpte-dev/gpte/internal/testutil"
)

func testWriter() (*output.Writer, *bytes.Buffer) {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24}

	return output.NewWriter(&buf, &buf, term), &buf
}

func isolateConfig(t *testing.T) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestConfigList_Defaults_Golden(t *testing.T) {
	isolateConfig(t)

	out, buf := testWriter()
	cmd := newConfigListCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetContext(out.WithContext(t.Context()))

	if err := cmd.Execute(); err != nil {
		t.Fatalf("config list should succeed: %v", err)
	}

	testutil.AssertGolden(t, buf.String(), "config_list_defaults.golden")
}

func TestConfigGet_FromEnv_Golden(t *testing.T) {
	isolateConfig(t)
	t.Setenv("GPTE_SERVER_PORT", "9000")

	out, buf := testWriter()
	cmd := newConfigGetCmd()
	cmd.SetArgs([]string{"server.port"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetContext(out.WithContext(t.Context()))

	if err := cmd.Execute(); err != nil {
		t.Fatalf("config get should succeed: %v", err)
	}

	testutil.AssertGolden(t, buf.String(), "config_get_env.golden")
}

func TestConfigGet_Unset_Golden(t *testing.T) {
	isolateConfig(t)

	out, buf := testWriter()
	cmd := newConfigGetCmd()
	cmd.SetArgs([]string{"custom.key"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetContext(out.WithContext(t.Context()))

	if err := cmd.Execute(); err != nil {
		t.Fatalf("config get should succeed for unset key: %v", err)
	}

	testutil.AssertGolden(t, buf.String(), "config_get_unset.golden")
}

func TestConfigSet_RejectsUnknownKey(t *testing.T) {
	isolateConfig(t)

	out, _ := testWriter()
	cmd := newConfigSetCmd()
	cmd.SetArgs([]string{"server.bogus", "1"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetContext(out.WithContext(t.Context()))

	if err := cmd.Execute(); err == nil {
		t.Fatal("config set should reject an unknown key")
	}
}
