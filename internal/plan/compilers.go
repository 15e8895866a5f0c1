package plan

import (
	"fmt"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
)

// ComponentCompiler covers roles whose step only differs by verb.
type ComponentCompiler struct {
	Action string
	Noun   string
}

func (c *ComponentCompiler) Validate(node flow.Node, cfg flow.Configuration) error {
	return nil
}

func (c *ComponentCompiler) Compile(node flow.Node, cfg flow.Configuration) (Step, error) {
	desc := fmt.Sprintf("%s %s %s", c.Action, c.Noun, node.Label)
	if fw := cfg["framework"]; fw != "" {
		desc += " (" + fw + ")"
	}
	return Step{Action: c.Action, Description: desc, Settings: cfg.Clone()}, nil
}

// DatabaseCompiler provisions a database. Mongoose only talks to MongoDB.
type DatabaseCompiler struct{}

func (c *DatabaseCompiler) Validate(node flow.Node, cfg flow.Configuration) error {
	if cfg["framework"] == "mongoose" && cfg["databaseType"] != "" && cfg["databaseType"] != "mongodb" {
		return fmt.Errorf("mongoose requires a mongodb database, got %s", cfg["databaseType"])
	}
	return nil
}

func (c *DatabaseCompiler) Compile(node flow.Node, cfg flow.Configuration) (Step, error) {
	engine := cfg["databaseType"]
	if engine == "" {
		engine = "database"
	}
	return Step{
		Action:      "provision",
		Description: fmt.Sprintf("provision %s %s", engine, node.Label),
		Settings:    cfg.Clone(),
	}, nil
}

// ToolCompiler installs an optional tool.
type ToolCompiler struct {
	catalog *catalog.Catalog
}

func (c *ToolCompiler) Validate(node flow.Node, cfg flow.Configuration) error {
	if _, ok := c.catalog.Tool(node.ToolType); !ok {
		return fmt.Errorf("tool %q is not available", node.ToolType)
	}
	return nil
}

func (c *ToolCompiler) Compile(node flow.Node, cfg flow.Configuration) (Step, error) {
	tool, _ := c.catalog.Tool(node.ToolType)
	settings := cfg.Clone()
	settings["toolType"] = node.ToolType
	return Step{
		Action:      "install",
		Description: "install " + tool.Label,
		Settings:    settings,
	}, nil
}
