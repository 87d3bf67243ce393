package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(b))

	var d Duration
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, Duration(90*time.Second), d)
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{"string", `"15m"`, Duration(15 * time.Minute), false},
		{"bare seconds", `60`, Duration(60 * time.Second), false},
		{"fractional seconds", `2.5`, Duration(2500 * time.Millisecond), false},
		{"null", `null`, 0, false},
		{"garbage", `"soon"`, 0, true},
		{"bool", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	var cfg struct {
		Cooldown Duration `yaml:"cooldown"`
		Timeout  Duration `yaml:"timeout"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("cooldown: 60\ntimeout: 5s\n"), &cfg))
	assert.Equal(t, Duration(time.Minute), cfg.Cooldown)
	assert.Equal(t, Duration(5*time.Second), cfg.Timeout)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "cooldown: 1m0s")

	err = yaml.Unmarshal([]byte("cooldown: [1, 2]\n"), &cfg)
	require.Error(t, err)
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	var target struct {
		Cooldown Duration
		Deadline Duration
		Interval time.Duration
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &target,
	})
	require.NoError(t, err)

	require.NoError(t, decoder.Decode(map[string]any{
		"cooldown": 45,
		"deadline": "15m",
		"interval": "1h",
	}))
	assert.Equal(t, Duration(45*time.Second), target.Cooldown)
	assert.Equal(t, Duration(15*time.Minute), target.Deadline)
	assert.Equal(t, time.Hour, target.Interval)
	assert.InDelta(t, 900.0, target.Deadline.Seconds(), 0.001)
}
