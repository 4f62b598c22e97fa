package main

import (
	"bytes"
	"testing"

	"github.com/gpte-dev/gpte/internal/doctor"
	"github.com/gpte-dev/gpte/internal/output"
	"github.com/gpte-dev/gpte/internal/terminal"
	"github.com/gpte-dev/gpte/internal/testutil"
)

func renderDoctorOutput(results []doctor.Result) string {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24}
	renderDoctor(output.NewWriter(&buf, &buf, term), results)

	return buf.String()
}

func TestDoctorOutput_AllPass_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Settings", Status: doctor.StatusPass, Message: "openai (API key from keyring)"},
		{Name: "gpt-engineer", Status: doctor.StatusPass, Message: "Python 3.11.6 with gpt_engineer installed"},
		{Name: "Projects", Status: doctor.StatusPass, Message: "/home/dev/projects"},
		{Name: "Backend", Status: doctor.StatusPass, Message: "http://127.0.0.1:8765 (12ms)"},
		{Name: "CLI Version", Status: doctor.StatusPass, Message: "v1.2.0 (3f2a9c1)"},
	}

	got := renderDoctorOutput(results)
	testutil.AssertGolden(t, got, "doctor_all_pass.golden")
}

func TestDoctorOutput_Mixed_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Settings", Status: doctor.StatusPass, Message: "openrouter (API key from environment variable)"},
		{Name: "gpt-engineer", Status: doctor.StatusFail, Message: "Python 3.9.18 is too old", Detail: "gpt-engineer needs Python >= 3.10"},
		{Name: "Projects", Status: doctor.StatusPass, Message: "/home/dev/projects"},
		{Name: "Backend", Status: doctor.StatusWarn, Message: "Not running at http://127.0.0.1:8765", Detail: "Start it with 'gpte up'"},
		{Name: "CLI Version", Status: doctor.StatusPass, Message: "vdev (none)"},
	}

	got := renderDoctorOutput(results)
	testutil.AssertGolden(t, got, "doctor_mixed.golden")
}

func TestDoctorOutput_AllFail_Golden(t *testing.T) {
	results := []doctor.Result{
		{Name: "Settings", Status: doctor.StatusFail, Message: "No settings saved", Detail: "Run 'gpte settings setup'"},
		{Name: "gpt-engineer", Status: doctor.StatusFail, Message: "python not found", Detail: `exec: "python": executable file not found in $PATH`},
		{Name: "Projects", Status: doctor.StatusFail, Message: "/srv/projects is not writable", Detail: "permission denied"},
		{Name: "Backend", Status: doctor.StatusWarn, Message: "Not running at http://127.0.0.1:8765", Detail: "Start it with 'gpte up'"},
		{Name: "CLI Version", Status: doctor.StatusPass, Message: "vdev (none)"},
	}

	got := renderDoctorOutput(results)
	testutil.AssertGolden(t, got, "doctor_all_fail.golden")
}
