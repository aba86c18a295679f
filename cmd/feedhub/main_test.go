package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigPathArg(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "absent", args: []string{"-db", "feedhub.db"}, want: ""},
		{name: "separate value", args: []string{"-config", "a.toml"}, want: "a.toml"},
		{name: "equals form", args: []string{"-config=b.toml"}, want: "b.toml"},
		{name: "double dash", args: []string{"--config", "c.toml"}, want: "c.toml"},
		{name: "mixed with other flags", args: []string{"-parallelism", "5", "-config", "d.toml"}, want: "d.toml"},
		{name: "bare word is not a flag", args: []string{"config", "e.toml"}, want: ""},
		{name: "missing value", args: []string{"-config"}, want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, configPathArg(tc.args))
		})
	}
}
