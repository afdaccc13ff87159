package clicommon

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
)

func TestLevelledFlag(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr bool
	}{
		{name: "unset", args: nil, want: 0},
		{name: "single", args: []string{"-v"}, want: 1},
		{name: "stacked shorthand", args: []string{"-vv"}, want: 2},
		{name: "repeated long", args: []string{"--verbose", "--verbose", "--verbose"}, want: 3},
		{name: "explicit level", args: []string{"--verbose=4"}, want: 4},
		{name: "false decrements", args: []string{"-vv", "--verbose=false"}, want: 1},
		{name: "false does not go negative", args: []string{"--verbose=false"}, want: 0},
		{name: "invalid", args: []string{"--verbose=loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			var f LevelledFlag
			flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
			flags.VarPF(&f, "verbose", "v", "").NoOptDefVal = "true"

			err := flags.Parse(tt.args)
			if tt.wantErr {
				assert.Error(err)
				return
			}
			assert.NoError(err)
			assert.Equal(tt.want, int(f))
			assert.Equal("levelled_flag", f.Type())
		})
	}
}
