package constmap

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osu-uwrt/riptide-fw-bridge/spec"
)

func intConst(name string, value int64) spec.Constant {
	return spec.Constant{Name: name, Value: value, IsInteger: true}
}

func testMessage(fields []string, constants []spec.Constant, rules []spec.MappingRule) *spec.Message {
	msg := &spec.Message{Name: "actuator_command", Constants: constants, Rules: rules}
	for _, f := range fields {
		msg.Fields = append(msg.Fields, spec.Field{Name: f, Type: "int32"})
	}
	return msg
}

func TestMapFirstRuleWins(t *testing.T) {
	msg := testMessage(
		[]string{"x", "y"},
		[]spec.Constant{intConst("DATA_A1", 1)},
		[]spec.MappingRule{
			{Pattern: "DATA_A*", Destination: "x"},
			{Pattern: "DATA_A1", Destination: "y"},
		},
	)

	domains, err := Map(msg, nil)
	require.NoError(t, err)

	require.Contains(t, domains, "x")
	assert.NotContains(t, domains, "y")
	assert.Equal(t, []spec.Constant{intConst("DATA_A1", 1)}, domains["x"])
}

func TestMapEmptyDestinationExcludes(t *testing.T) {
	msg := testMessage(
		[]string{"action"},
		[]spec.Constant{
			intConst("ACTION_ARM", 1),
			intConst("DEBUG_SENTINEL", 99),
		},
		[]spec.MappingRule{
			{Pattern: "DEBUG_*", Destination: ""},
			{Pattern: "ACTION_*", Destination: "action"},
		},
	)

	domains, err := Map(msg, nil)
	require.NoError(t, err)

	require.Contains(t, domains, "action")
	assert.Equal(t, []spec.Constant{intConst("ACTION_ARM", 1)}, domains["action"])
}

func TestMapDropsValuesOutsideInt32(t *testing.T) {
	msg := testMessage(
		[]string{"mode"},
		[]spec.Constant{
			intConst("MODE_HUGE", 1<<31),
			intConst("MODE_TINY", -1<<31 - 1),
			intConst("MODE_MAX", 1<<31 - 1),
			intConst("MODE_MIN", -1<<31),
		},
		[]spec.MappingRule{
			{Pattern: "MODE_*", Destination: "mode"},
		},
	)

	domains, err := Map(msg, nil)
	require.NoError(t, err)

	require.Contains(t, domains, "mode")
	assert.Equal(t, []spec.Constant{
		intConst("MODE_MAX", 1<<31 - 1),
		intConst("MODE_MIN", -1<<31),
	}, domains["mode"])
}

func TestMapDropsNonIntegerConstants(t *testing.T) {
	msg := testMessage(
		[]string{"mode"},
		[]spec.Constant{
			{Name: "MODE_RATIO", Raw: "3.14"},
			{Name: "MODE_LABEL", Raw: "auto"},
			intConst("MODE_AUTO", 2),
		},
		[]spec.MappingRule{
			{Pattern: "MODE_*", Destination: "mode"},
		},
	)

	domains, err := Map(msg, nil)
	require.NoError(t, err)
	assert.Equal(t, []spec.Constant{intConst("MODE_AUTO", 2)}, domains["mode"])
}

func TestMapUnknownDestinationField(t *testing.T) {
	msg := testMessage(
		[]string{"action"},
		[]spec.Constant{intConst("STATE_IDLE", 0)},
		[]spec.MappingRule{
			{Pattern: "STATE_*", Destination: "state"},
		},
	)

	_, err := Map(msg, nil)
	require.Error(t, err)

	var cfgErr *spec.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), `unable to find referenced field "state" in message "actuator_command"`)
}

func TestMapUnknownDestinationNeedsMatch(t *testing.T) {
	// A rule pointing at a missing field is only an error once a
	// constant actually matches it.
	msg := testMessage(
		[]string{"action"},
		[]spec.Constant{intConst("ACTION_ARM", 1)},
		[]spec.MappingRule{
			{Pattern: "STATE_*", Destination: "missing"},
			{Pattern: "ACTION_*", Destination: "action"},
		},
	)

	domains, err := Map(msg, nil)
	require.NoError(t, err)
	assert.Contains(t, domains, "action")
}

func TestMapNoMatchLeavesUnrestricted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	msg := testMessage(
		[]string{"action"},
		[]spec.Constant{
			intConst("ACTION_ARM", 1),
			intConst("EXTRA_FLAG", 7),
		},
		[]spec.MappingRule{
			{Pattern: "ACTION_*", Destination: "action"},
		},
	)

	domains, err := Map(msg, logger)
	require.NoError(t, err)

	assert.Len(t, domains, 1)
	assert.Contains(t, buf.String(), "EXTRA_FLAG")
	assert.Contains(t, buf.String(), "unrestricted")
}

func TestMapUnusedRuleWarns(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	msg := testMessage(
		[]string{"action"},
		[]spec.Constant{intConst("ACTION_ARM", 1)},
		[]spec.MappingRule{
			{Pattern: "ACTION_*", Destination: "action"},
			{Pattern: "STATE_*", Destination: "action"},
		},
	)

	_, err := Map(msg, logger)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "matched nothing")
	assert.Contains(t, buf.String(), "STATE_*")
}

func TestMapCharacterClassPatterns(t *testing.T) {
	msg := testMessage(
		[]string{"mode"},
		[]spec.Constant{
			intConst("MODE_A", 0),
			intConst("MODE_B", 1),
			intConst("MODE_C", 2),
		},
		[]spec.MappingRule{
			{Pattern: "MODE_[AB]", Destination: "mode"},
		},
	)

	domains, err := Map(msg, nil)
	require.NoError(t, err)
	assert.Equal(t, []spec.Constant{
		intConst("MODE_A", 0),
		intConst("MODE_B", 1),
	}, domains["mode"])
}

func TestMapInvalidPattern(t *testing.T) {
	msg := testMessage(
		[]string{"mode"},
		[]spec.Constant{intConst("MODE_A", 0)},
		[]spec.MappingRule{
			{Pattern: "MODE_[", Destination: "mode"},
		},
	)

	_, err := Map(msg, nil)
	require.Error(t, err)

	var cfgErr *spec.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestMapPreservesDeclarationOrder(t *testing.T) {
	msg := testMessage(
		[]string{"state"},
		[]spec.Constant{
			intConst("STATE_FAULT", 9),
			intConst("STATE_IDLE", 0),
			intConst("STATE_RUN", 1),
		},
		[]spec.MappingRule{
			{Pattern: "STATE_*", Destination: "state"},
		},
	)

	domains, err := Map(msg, nil)
	require.NoError(t, err)
	assert.Equal(t, []spec.Constant{
		intConst("STATE_FAULT", 9),
		intConst("STATE_IDLE", 0),
		intConst("STATE_RUN", 1),
	}, domains["state"])
}
