package template

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorGenerate(t *testing.T) {
	generator := NewGenerator()

	tests := []struct {
		name      string
		archetype Archetype
		svcName   string
		validate  func(*testing.T, map[string]any)
	}{
		{
			name:      "web",
			archetype: ArchetypeWeb,
			svcName:   "my-web-app",
			validate: func(t *testing.T, spec map[string]any) {
				assert.Equal(t, "my-web-app", spec["name"])
				assert.Equal(t, "python -m http.server 8000", spec["command"])
				assert.Equal(t, true, spec["restart"])
				assert.Equal(t, true, spec["waits_for_readiness"])
			},
		},
		{
			name:      "api",
			archetype: ArchetypeAPI,
			svcName:   "user-service",
			validate: func(t *testing.T, spec map[string]any) {
				assert.Equal(t, "user-service", spec["name"])
				assert.Equal(t, 10, spec["priority"])
			},
		},
		{
			name:      "worker",
			archetype: ArchetypeWorker,
			svcName:   "data-worker",
			validate: func(t *testing.T, spec map[string]any) {
				assert.Equal(t, 20, spec["priority"])
				assert.Equal(t, "./worker", spec["command"])
			},
		},
		{
			name:      "database",
			archetype: ArchetypeDatabase,
			svcName:   "mongo-db",
			validate: func(t *testing.T, spec map[string]any) {
				assert.Equal(t, 5, spec["priority"])
				assert.Contains(t, spec["command"], "mongod")
			},
		},
		{
			name:      "cron",
			archetype: ArchetypeCron,
			svcName:   "daily-task",
			validate: func(t *testing.T, spec map[string]any) {
				assert.Equal(t, false, spec["restart"])
				assert.Equal(t, 30, spec["priority"])
			},
		},
		{
			name:      "simple",
			archetype: ArchetypeSimple,
			svcName:   "hello-world",
			validate: func(t *testing.T, spec map[string]any) {
				_, hasRestart := spec["restart"]
				assert.False(t, hasRestart)
				assert.Contains(t, spec["command"], "hello-world")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := generator.Generate(tt.archetype, tt.svcName)
			require.NoError(t, err)
			require.NotNil(t, entry)
			tt.validate(t, entry.Spec)
		})
	}
}

func TestGeneratorGenerateUnknownArchetype(t *testing.T) {
	generator := NewGenerator()
	_, err := generator.Generate("nonsense", "test")
	require.Error(t, err)
}

func TestGeneratorGenerateTOML(t *testing.T) {
	generator := NewGenerator()

	out, err := generator.GenerateTOML(ArchetypeAPI, "api-service")
	require.NoError(t, err)
	assert.Contains(t, string(out), "api-service")
	assert.Contains(t, string(out), "type = \"process\"")
}

func TestGeneratorGenerateTOMLUnknownArchetype(t *testing.T) {
	generator := NewGenerator()
	_, err := generator.GenerateTOML("nonsense", "test")
	require.Error(t, err)
}

func TestArchetypeAliases(t *testing.T) {
	generator := NewGenerator()

	aliases := map[Archetype]Archetype{
		ArchetypeWebapp:     ArchetypeWeb,
		ArchetypeService:    ArchetypeAPI,
		ArchetypeBackground: ArchetypeWorker,
		ArchetypeDB:         ArchetypeDatabase,
		ArchetypeScheduled:  ArchetypeCron,
		ArchetypeBasic:      ArchetypeSimple,
	}

	for alias, primary := range aliases {
		t.Run(string(alias)+"_alias", func(t *testing.T) {
			aliasEntry, err := generator.Generate(alias, "test")
			require.NoError(t, err)
			primaryEntry, err := generator.Generate(primary, "test")
			require.NoError(t, err)

			assert.Equal(t, primaryEntry.Type, aliasEntry.Type)
			assert.Equal(t, primaryEntry.Spec["command"], aliasEntry.Spec["command"])
		})
	}
}

func TestGeneratorGetSupportedArchetypes(t *testing.T) {
	generator := NewGenerator()
	archetypes := generator.GetSupportedArchetypes()

	expected := []string{"web", "api", "worker", "database", "cron", "simple"}
	assert.ElementsMatch(t, expected, archetypes)
}

func TestSimpleEntryHasNoLogSection(t *testing.T) {
	generator := NewGenerator()
	entry, err := generator.Generate(ArchetypeSimple, "quiet")
	require.NoError(t, err)

	_, hasLogDir := entry.Spec["log_dir"]
	assert.False(t, hasLogDir)
	assert.True(t, strings.HasPrefix(entry.Spec["command"].(string), "echo"))
}
