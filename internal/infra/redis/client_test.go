package redis

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseCommand(t *testing.T) {
	id := uuid.New()

	cmd, err := ParseCommand("cancel:" + id.String())
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Name != CommandCancel || cmd.JobID != id {
		t.Errorf("parsed = %+v", cmd)
	}

	cmd, err = ParseCommand("requeue:" + id.String())
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Name != CommandRequeue {
		t.Errorf("name = %q", cmd.Name)
	}

	for _, bad := range []string{
		"",
		"cancel",
		"restart:" + id.String(),
		"cancel:not-a-uuid",
	} {
		if _, err := ParseCommand(bad); err == nil {
			t.Errorf("ParseCommand(%q) should fail", bad)
		}
	}
}
