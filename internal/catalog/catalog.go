// Package catalog is the static registry of component roles: display metadata,
// configuration fields, optional tools and auto-connected edge styles.
package catalog

import "github.com/deployflow/engine/internal/flow"

// Option is one selectable value of a configuration field.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled,omitempty"`
}

// Field describes one configuration key a node of a role may carry.
// Fields without options accept free-form text.
type Field struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Options []Option `json:"options,omitempty"`
}

// Entry is the display metadata of a role.
type Entry struct {
	Role   flow.Role `json:"role"`
	Label  string    `json:"label"`
	Icon   string    `json:"icon"`
	Color  string    `json:"color"`
	Fields []Field   `json:"fields"`
}

// Tool is an optional tool offered once a node is selected.
type Tool struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// EdgeStyle is the rendering style of a visual edge.
type EdgeStyle struct {
	Type        string  `json:"type"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
	DashArray   string  `json:"strokeDasharray,omitempty"`
	Animated    bool    `json:"animated"`
}

// Catalog is an immutable lookup over role entries.
type Catalog struct {
	entries    map[flow.Role]Entry
	order      []flow.Role
	optional   []Tool
	comingSoon []Tool
	edges      map[[2]flow.Role]EdgeStyle
}

var defaultEdge = EdgeStyle{Type: "default", Animated: true}

var commonFields = []Field{
	{Name: "projectName", Label: "Project Name"},
	{Name: "description", Label: "Description"},
}

// Default returns the catalog used by the editor.
func Default() *Catalog {
	c := &Catalog{
		entries: map[flow.Role]Entry{},
		edges:   map[[2]flow.Role]EdgeStyle{},
	}
	c.add(Entry{Role: flow.RoleFrontend, Label: "Frontend", Icon: "🌐", Color: "#3b82f6", Fields: []Field{
		{Name: "framework", Label: "Framework", Options: []Option{
			{Value: "react", Label: "React"},
			{Value: "nextjs", Label: "Next.js"},
			{Value: "vue", Label: "Vue.js"},
			{Value: "angular", Label: "Angular"},
			{Value: "svelte", Label: "Svelte"},
		}},
		{Name: "styling", Label: "Styling", Options: []Option{
			{Value: "css", Label: "CSS"},
			{Value: "scss", Label: "SCSS"},
			{Value: "styled-components", Label: "Styled Components"},
			{Value: "tailwind", Label: "Tailwind CSS"},
			{Value: "emotion", Label: "Emotion"},
		}},
		{Name: "stateManagement", Label: "State Management", Options: []Option{
			{Value: "redux", Label: "Redux"},
			{Value: "zustand", Label: "Zustand"},
			{Value: "context", Label: "React Context"},
			{Value: "recoil", Label: "Recoil"},
			{Value: "mobx", Label: "MobX"},
		}},
	}})
	c.add(Entry{Role: flow.RoleBackend, Label: "Backend", Icon: "⚙️", Color: "#10b981", Fields: []Field{
		{Name: "framework", Label: "Framework", Options: []Option{
			{Value: "nodejs", Label: "Node.js / Express"},
			{Value: "nestjs", Label: "NestJS"},
			{Value: "django", Label: "Django"},
			{Value: "fastapi", Label: "FastAPI"},
			{Value: "spring", Label: "Spring Boot"},
			{Value: "go", Label: "Go"},
		}},
		{Name: "auth", Label: "Authentication", Options: []Option{
			{Value: "jwt", Label: "JWT"},
			{Value: "oauth", Label: "OAuth"},
			{Value: "session", Label: "Session-based"},
			{Value: "passport", Label: "Passport.js"},
		}},
	}})
	c.add(Entry{Role: flow.RoleDatabase, Label: "Database", Icon: "🗄️", Color: "#8b5cf6", Fields: []Field{
		{Name: "framework", Label: "Framework", Options: []Option{
			{Value: "prisma", Label: "Prisma"},
			{Value: "typeorm", Label: "TypeORM"},
			{Value: "sequelize", Label: "Sequelize"},
			{Value: "mongoose", Label: "Mongoose"},
		}},
		{Name: "databaseType", Label: "Database Type", Options: []Option{
			{Value: "postgresql", Label: "PostgreSQL"},
			{Value: "mysql", Label: "MySQL"},
			{Value: "mongodb", Label: "MongoDB"},
			{Value: "redis", Label: "Redis"},
			{Value: "sqlite", Label: "SQLite"},
		}},
		{Name: "connectionString", Label: "Connection String"},
	}})
	c.add(Entry{Role: flow.RoleRepository, Label: "Repository", Icon: "📁", Color: "#6366f1", Fields: []Field{
		{Name: "framework", Label: "Platform", Options: []Option{
			{Value: "github", Label: "GitHub"},
			{Value: "gitlab", Label: "GitLab"},
			{Value: "bitbucket", Label: "Bitbucket"},
		}},
	}})
	c.add(Entry{Role: flow.RoleCICD, Label: "CI/CD", Icon: "🔄", Color: "#f59e0b", Fields: []Field{
		{Name: "framework", Label: "Service", Options: []Option{
			{Value: "github-actions", Label: "GitHub Actions"},
			{Value: "gitlab-ci", Label: "GitLab CI"},
			{Value: "jenkins", Label: "Jenkins"},
			{Value: "circleci", Label: "CircleCI"},
		}},
	}})
	c.add(Entry{Role: flow.RoleServer, Label: "Server", Icon: "🖥️", Color: "#ef4444", Fields: []Field{
		{Name: "framework", Label: "Provider", Options: []Option{
			{Value: "aws", Label: "AWS"},
			{Value: "gcp", Label: "Google Cloud"},
			{Value: "azure", Label: "Azure"},
			{Value: "digitalocean", Label: "DigitalOcean"},
			{Value: "vercel", Label: "Vercel"},
		}},
	}})
	c.add(Entry{Role: flow.RoleOptional, Label: "Optional Tool", Icon: "🔧", Color: "#6c757d"})

	c.optional = []Tool{
		{Value: "docker", Label: "Docker"},
		{Value: "kubernetes", Label: "Kubernetes"},
		{Value: "nginx", Label: "Nginx"},
		{Value: "terraform", Label: "Terraform"},
		{Value: "prometheus", Label: "Prometheus"},
		{Value: "grafana", Label: "Grafana"},
		{Value: "sentry", Label: "Sentry"},
	}
	c.comingSoon = []Tool{
		{Value: "ansible", Label: "Ansible"},
		{Value: "vault", Label: "Vault"},
	}

	c.edges[[2]flow.Role{flow.RoleFrontend, flow.RoleBackend}] = EdgeStyle{Type: "smoothstep", Stroke: "#3b82f6", StrokeWidth: 3, Animated: true}
	c.edges[[2]flow.Role{flow.RoleFrontend, flow.RoleRepository}] = EdgeStyle{Type: "step", Stroke: "#6366f1", StrokeWidth: 2, Animated: true}
	c.edges[[2]flow.Role{flow.RoleBackend, flow.RoleRepository}] = EdgeStyle{Type: "step", Stroke: "#6366f1", StrokeWidth: 2, Animated: true}
	c.edges[[2]flow.Role{flow.RoleBackend, flow.RoleDatabase}] = EdgeStyle{Type: "straight", Stroke: "#8b5cf6", StrokeWidth: 2, DashArray: "5,5", Animated: true}
	c.edges[[2]flow.Role{flow.RoleRepository, flow.RoleCICD}] = EdgeStyle{Type: "smoothstep", Stroke: "#f59e0b", StrokeWidth: 2, DashArray: "10,5", Animated: true}
	c.edges[[2]flow.Role{flow.RoleCICD, flow.RoleServer}] = EdgeStyle{Type: "straight", Stroke: "#ef4444", StrokeWidth: 3, DashArray: "15,5", Animated: true}
	return c
}

func (c *Catalog) add(e Entry) {
	e.Fields = append(e.Fields, commonFields...)
	c.entries[e.Role] = e
	c.order = append(c.order, e.Role)
}

// Entries returns every role entry in menu order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, r := range c.order {
		out = append(out, c.entries[r])
	}
	return out
}

// Lookup returns the entry for a role.
func (c *Catalog) Lookup(role flow.Role) (Entry, bool) {
	e, ok := c.entries[role]
	return e, ok
}

// Fields returns the configuration fields valid for a role.
func (c *Catalog) Fields(role flow.Role) []Field {
	return c.entries[role].Fields
}

// Field returns the named field of a role.
func (c *Catalog) Field(role flow.Role, name string) (Field, bool) {
	for _, f := range c.entries[role].Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasField reports whether name is a configuration field of role.
func (c *Catalog) HasField(role flow.Role, name string) bool {
	_, ok := c.Field(role, name)
	return ok
}

// OptionalTools lists every placeable optional tool.
func (c *Catalog) OptionalTools() []Tool {
	return append([]Tool(nil), c.optional...)
}

// ComingSoonTools lists tools shown in the menu but not placeable yet.
func (c *Catalog) ComingSoonTools() []Tool {
	return append([]Tool(nil), c.comingSoon...)
}

// Tool looks up a placeable optional tool by value.
func (c *Catalog) Tool(value string) (Tool, bool) {
	for _, t := range c.optional {
		if t.Value == value {
			return t, true
		}
	}
	return Tool{}, false
}

// AvailableOptionalTools filters out tools already on the canvas.
func (c *Catalog) AvailableOptionalTools(used map[string]bool) []Tool {
	out := make([]Tool, 0, len(c.optional))
	for _, t := range c.optional {
		if !used[t.Value] {
			out = append(out, t)
		}
	}
	return out
}

// EdgeStyle returns the style of an auto-connected edge from one role to another.
// Pairs without a dedicated style, manual connections included, use the default.
func (c *Catalog) EdgeStyle(from, to flow.Role) EdgeStyle {
	if s, ok := c.edges[[2]flow.Role{from, to}]; ok {
		return s
	}
	return defaultEdge
}

// DefaultEdgeStyle is the style of connections with no role-pair style.
func (c *Catalog) DefaultEdgeStyle() EdgeStyle {
	return defaultEdge
}
