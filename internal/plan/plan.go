// Package plan turns a deployable flow document into an ordered list of
// deployment steps, one per node.
package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
	appErr "github.com/deployflow/engine/pkg/errors"
)

var (
	ErrNotDeployable        = errors.New("flow is not deployable")
	ErrInvalidConfiguration = errors.New("invalid node configuration")
	ErrNoCompiler           = errors.New("no step compiler for role")
)

// Step is the deployment of a single node.
type Step struct {
	Index       int               `json:"index"`
	NodeID      string            `json:"node_id"`
	Role        flow.Role         `json:"role"`
	Label       string            `json:"label"`
	Action      string            `json:"action"`
	Description string            `json:"description"`
	Settings    map[string]string `json:"settings,omitempty"`
}

// Plan is the ordered set of steps for one flow.
type Plan struct {
	FlowID      string `json:"flow_id"`
	Environment string `json:"environment"`
	Region      string `json:"region"`
	Steps       []Step `json:"steps"`
}

// NodeIDs returns the node ids in execution order.
func (p *Plan) NodeIDs() []string {
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.NodeID)
	}
	return ids
}

// StepCompiler turns one node of a role into a step.
type StepCompiler interface {
	Validate(node flow.Node, cfg flow.Configuration) error
	Compile(node flow.Node, cfg flow.Configuration) (Step, error)
}

// Planner builds plans with a compiler registered per role.
type Planner struct {
	catalog   *catalog.Catalog
	compilers map[flow.Role]StepCompiler
}

// NewPlanner registers the built-in compilers for every role.
func NewPlanner(c *catalog.Catalog) *Planner {
	p := &Planner{
		catalog:   c,
		compilers: make(map[flow.Role]StepCompiler),
	}

	p.RegisterCompiler(flow.RoleFrontend, &ComponentCompiler{Action: "build", Noun: "frontend"})
	p.RegisterCompiler(flow.RoleBackend, &ComponentCompiler{Action: "build", Noun: "service"})
	p.RegisterCompiler(flow.RoleDatabase, &DatabaseCompiler{})
	p.RegisterCompiler(flow.RoleRepository, &ComponentCompiler{Action: "checkout", Noun: "repository"})
	p.RegisterCompiler(flow.RoleCICD, &ComponentCompiler{Action: "configure", Noun: "pipeline"})
	p.RegisterCompiler(flow.RoleServer, &ComponentCompiler{Action: "deploy", Noun: "server"})
	p.RegisterCompiler(flow.RoleOptional, &ToolCompiler{catalog: c})

	return p
}

// RegisterCompiler sets the compiler used for role.
func (p *Planner) RegisterCompiler(role flow.Role, sc StepCompiler) {
	p.compilers[role] = sc
}

// Build validates doc and compiles one step per node in insertion order.
func (p *Planner) Build(doc *flow.Document) (*Plan, error) {
	store, err := doc.Store()
	if err != nil {
		return nil, err
	}

	nodes := store.Nodes()
	if missing := flow.MissingRequiredRoles(nodes); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, r := range missing {
			names[i] = string(r)
		}
		return nil, appErr.Wrap(ErrNotDeployable, appErr.CodeInvalid,
			"missing required components: "+strings.Join(names, ", ")).
			WithMeta("missing_roles", names)
	}

	plan := &Plan{
		FlowID:      doc.ID,
		Environment: doc.DeploymentConfig.Environment,
		Region:      doc.DeploymentConfig.Region,
		Steps:       make([]Step, 0, len(nodes)),
	}

	for i, n := range nodes {
		cfg, _ := store.Configuration(n.ID)
		if err := p.checkConfiguration(n, cfg); err != nil {
			return nil, err
		}

		sc, ok := p.compilers[n.Role]
		if !ok {
			return nil, appErr.Wrap(ErrNoCompiler, appErr.CodeInternal, string(n.Role))
		}
		if err := sc.Validate(n, cfg); err != nil {
			return nil, invalidConfiguration(n.ID, err.Error())
		}
		step, err := sc.Compile(n, cfg)
		if err != nil {
			return nil, fmt.Errorf("compile node %s: %w", n.ID, err)
		}
		step.Index = i
		step.NodeID = n.ID
		step.Role = n.Role
		step.Label = n.Label
		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

// checkConfiguration rejects fields the catalog does not list for the role and
// values outside a field's options.
func (p *Planner) checkConfiguration(n flow.Node, cfg flow.Configuration) error {
	for name, value := range cfg {
		field, ok := p.catalog.Field(n.Role, name)
		if !ok {
			return invalidConfiguration(n.ID, fmt.Sprintf("unknown field %q for role %s", name, n.Role))
		}
		if value == "" || len(field.Options) == 0 {
			continue
		}
		if !hasOption(field, value) {
			return invalidConfiguration(n.ID, fmt.Sprintf("%q is not a valid %s", value, field.Label))
		}
	}
	return nil
}

func hasOption(f catalog.Field, value string) bool {
	for _, o := range f.Options {
		if o.Value == value && !o.Disabled {
			return true
		}
	}
	return false
}

func invalidConfiguration(nodeID, msg string) error {
	return appErr.Wrap(ErrInvalidConfiguration, appErr.CodeInvalid, msg).WithMeta("node_id", nodeID)
}
