package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	return rootCmd.Execute()
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	err := execute(t, "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestMigrate_StepArguments(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:1/none?sslmode=disable")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"steps on up", []string{"migrate", "up", "2"}, "does not take a step count"},
		{"non numeric steps", []string{"migrate", "down", "all"}, `invalid step count "all"`},
		{"zero steps", []string{"migrate", "down", "0"}, `invalid step count "0"`},
		{"too many args", []string{"migrate", "down", "1", "2"}, "accepts between 1 and 2 arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
