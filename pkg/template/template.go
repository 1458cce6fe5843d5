// Package template scaffolds services-directory files: given a service
// name and an archetype (web, api, worker, cron, database, simple), it
// produces a ready-to-edit svcconfig.ServiceEntry and can render it as a
// TOML file in the shape internal/svcconfig's services directory loader
// expects. Grounded on the teacher's pkg/template generator, retargeted
// from process.Spec fields to graph.Settings' dinit vocabulary.
package template

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/loykin/dinitgo/internal/svcconfig"
)

// Archetype names one of the built-in service skeletons.
type Archetype string

const (
	ArchetypeWeb        Archetype = "web"
	ArchetypeWebapp     Archetype = "webapp"
	ArchetypeAPI        Archetype = "api"
	ArchetypeService    Archetype = "service"
	ArchetypeWorker     Archetype = "worker"
	ArchetypeBackground Archetype = "background"
	ArchetypeDatabase   Archetype = "database"
	ArchetypeDB         Archetype = "db"
	ArchetypeCron       Archetype = "cron"
	ArchetypeScheduled  Archetype = "scheduled"
	ArchetypeSimple     Archetype = "simple"
	ArchetypeBasic      Archetype = "basic"
)

// Generator produces svcconfig.ServiceEntry skeletons for the built-in
// archetypes.
type Generator struct{}

// NewGenerator creates a new template generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a service entry for the given archetype and name.
func (g *Generator) Generate(archetype Archetype, name string) (*svcconfig.ServiceEntry, error) {
	switch archetype {
	case ArchetypeWeb, ArchetypeWebapp:
		return g.webEntry(name), nil
	case ArchetypeAPI, ArchetypeService:
		return g.apiEntry(name), nil
	case ArchetypeWorker, ArchetypeBackground:
		return g.workerEntry(name), nil
	case ArchetypeDatabase, ArchetypeDB:
		return g.databaseEntry(name), nil
	case ArchetypeCron, ArchetypeScheduled:
		return g.cronEntry(name), nil
	case ArchetypeSimple, ArchetypeBasic:
		return g.simpleEntry(name), nil
	default:
		return nil, fmt.Errorf("unknown template archetype: %s (supported: web, api, worker, database, cron, simple)", archetype)
	}
}

// GenerateTOML renders the archetype's service entry as a TOML document,
// the format internal/svcconfig's services directory loader reads by
// file extension.
func (g *Generator) GenerateTOML(archetype Archetype, name string) ([]byte, error) {
	entry, err := g.Generate(archetype, name)
	if err != nil {
		return nil, err
	}
	out, err := toml.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal service entry: %w", err)
	}
	return out, nil
}

// GetSupportedArchetypes returns the canonical (non-alias) archetype names.
func (g *Generator) GetSupportedArchetypes() []string {
	return []string{
		string(ArchetypeWeb),
		string(ArchetypeAPI),
		string(ArchetypeWorker),
		string(ArchetypeDatabase),
		string(ArchetypeCron),
		string(ArchetypeSimple),
	}
}

func spec(kv map[string]any) map[string]any { return kv }

func (g *Generator) webEntry(name string) *svcconfig.ServiceEntry {
	return &svcconfig.ServiceEntry{
		Type: "process",
		Spec: spec(map[string]any{
			"name":                name,
			"command":             "python -m http.server 8000",
			"work_dir":            "/app",
			"restart":             true,
			"waits_for_readiness": true,
			"readiness_fd_var":    "NOTIFY_FD",
			"start_timeout":       "10s",
			"stop_timeout":        "10s",
			"log_dir":             "/var/log/" + name,
			"env":                 []string{"PORT=8000", "ENV=production"},
		}),
	}
}

func (g *Generator) apiEntry(name string) *svcconfig.ServiceEntry {
	return &svcconfig.ServiceEntry{
		Type: "process",
		Spec: spec(map[string]any{
			"name":          name,
			"command":       "./api-server",
			"work_dir":      "/app",
			"restart":       true,
			"priority":      10,
			"start_timeout": "10s",
			"stop_timeout":  "10s",
			"log_dir":       "/var/log/" + name,
			"env":           []string{"PORT=3000", "LOG_LEVEL=info"},
		}),
	}
}

func (g *Generator) workerEntry(name string) *svcconfig.ServiceEntry {
	return &svcconfig.ServiceEntry{
		Type: "bgprocess",
		Spec: spec(map[string]any{
			"name":         name,
			"command":      "./worker",
			"work_dir":     "/app",
			"restart":      true,
			"priority":     20,
			"pid_file":     "/run/" + name + ".pid",
			"stop_timeout": "15s",
			"log_dir":      "/var/log/" + name,
			"env":          []string{"WORKER_THREADS=4", "LOG_LEVEL=info"},
		}),
	}
}

func (g *Generator) databaseEntry(name string) *svcconfig.ServiceEntry {
	return &svcconfig.ServiceEntry{
		Type: "process",
		Spec: spec(map[string]any{
			"name":          name,
			"command":       "mongod --dbpath /data/db --port 27017",
			"work_dir":      "/data",
			"restart":       true,
			"priority":      5,
			"start_timeout": "30s",
			"stop_timeout":  "30s",
			"log_dir":       "/var/log/" + name,
			"env":           []string{"DB_PORT=27017", "DB_PATH=/data/db"},
		}),
	}
}

func (g *Generator) cronEntry(name string) *svcconfig.ServiceEntry {
	return &svcconfig.ServiceEntry{
		Type: "scripted",
		Spec: spec(map[string]any{
			"name":         name,
			"command":      "./scheduled-task",
			"work_dir":     "/app",
			"restart":      false,
			"priority":     30,
			"stop_timeout": "5s",
			"log_dir":      "/var/log/" + name,
			"env":          []string{"SCHEDULE=daily", "LOG_LEVEL=info"},
		}),
	}
}

func (g *Generator) simpleEntry(name string) *svcconfig.ServiceEntry {
	return &svcconfig.ServiceEntry{
		Type: "process",
		Spec: spec(map[string]any{
			"name":    name,
			"command": "echo 'Hello from " + name + "'",
		}),
	}
}
