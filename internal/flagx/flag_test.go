package flagx

import (
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "conf.json", "-a", "localhost"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "flag with equals",
			args:         []string{"-chunk-size=8388608", "-a", "localhost"},
			allowedFlags: []string{"-chunk-size"},
			want:         []string{"-chunk-size=8388608"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "-y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "flag without value at end is kept as-is",
			args:         []string{"-c"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c"},
		},
		{
			name:         "do not treat next dash-starting token as value",
			args:         []string{"-c", "-config=alt.json"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "-config=alt.json"},
		},
		{
			name:         "repeated allowed flag is preserved in order",
			args:         []string{"-c", "one.json", "-c", "two.json"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "one.json", "-c", "two.json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowedFlags)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterArgs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFilterArgsWithBools_BoolDoesNotConsumeValue(t *testing.T) {
	args := []string{"-wait", "./photos", "-a", "localhost:50051", "-v=true"}

	got := FilterArgsWithBools(args, []string{"-a"}, []string{"-wait", "-v"})

	assert.Equal(t, []string{"-wait", "-a", "localhost:50051", "-v=true"}, got)
}

func TestPositional(t *testing.T) {
	args := []string{"-a", "localhost:50051", "-wait", "./photos", "-name=trip", "/Pictures"}

	got := Positional(args, []string{"-a", "-name"}, []string{"-wait"})

	assert.Equal(t, []string{"./photos", "/Pictures"}, got)
}

func Test_jsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/short.json"}
		assert.Equal(t, "/path/short.json", JsonConfigFlags())
	})

	t.Run("long -config with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", "/path/long.json"}
		assert.Equal(t, "/path/long.json", JsonConfigFlags())
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		os.Args = []string{"testbin", "-x", "1", "-y", "2"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("multiple flags, last wins", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/1.json", "-config", "/path/2.json"}
		assert.Equal(t, "/path/2.json", JsonConfigFlags())
	})
}
