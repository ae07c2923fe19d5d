package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/crm-reconciler/pkg/schema"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand("1.0.0")
	require.NotNil(t, cmd)
	assert.Equal(t, "crm-reconciler", cmd.Use)
	assert.Equal(t, "1.0.0", cmd.Version)
	assert.NotNil(t, cmd.RunE, "bare invocation must reconcile")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand("dev")
	commands := []string{"reconcile", "plan", "serve", "migrate-identity", "create-identity"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand("dev")

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "", configFlag.DefValue)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "false", verboseFlag.DefValue)
}

func TestPlanCommand_RejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand("dev")
	cmd.SetArgs([]string{"plan", "--format", "json"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCreateIdentityCommand_RequiresEmail(t *testing.T) {
	cmd := NewRootCommand("dev")
	cmd.SetArgs([]string{"create-identity"})
	cmd.SetOut(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

func samplePlans() []*schema.Plan {
	plan := &schema.Plan{
		Table: "public.leads",
		Violations: []schema.Violation{
			{Table: "public.leads", Column: "status", Count: 3, Default: "prospect"},
		},
	}
	plan.Add(
		schema.Step{Phase: schema.PhaseSanitize, Description: "repair status", SQL: `UPDATE public.leads SET "status" = $1`, Column: "status"},
		schema.Step{Phase: schema.PhaseConstrain, Description: "install leads_status_check", SQL: `ALTER TABLE public.leads ADD CONSTRAINT leads_status_check CHECK (true)`},
	)
	return []*schema.Plan{plan, {Table: "public.user_roles"}}
}

func TestWritePlans_Text(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writePlans(&out, samplePlans(), "text"))

	text := out.String()
	assert.Contains(t, text, "public.leads")
	assert.Contains(t, text, "3 rows with status outside its domain")
	assert.Less(t, strings.Index(text, "[sanitize]"), strings.Index(text, "[constrain]"))
	assert.NotContains(t, text, "Nothing to do")
}

func TestWritePlans_TextConverged(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writePlans(&out, []*schema.Plan{{Table: "public.leads"}}, "text"))
	assert.Contains(t, out.String(), "Nothing to do")
}

func TestWritePlans_YAML(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writePlans(&out, samplePlans(), "yaml"))

	var decoded []struct {
		Table string `yaml:"table"`
		Steps []struct {
			Phase string `yaml:"phase"`
		} `yaml:"steps"`
	}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "public.leads", decoded[0].Table)
	require.Len(t, decoded[0].Steps, 2)
	assert.Equal(t, "sanitize", decoded[0].Steps[0].Phase)
	assert.Equal(t, "constrain", decoded[0].Steps[1].Phase)
}
