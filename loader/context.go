package loader

// Context is the per-pipeline-run state a loader invocation reads and
// writes: the four dependency sets spec §4.3 names, plus the cacheable
// flag that starts true and is ANDed across every loader invocation (a
// loader can only turn it off, never back on — spec §8's boundary
// behaviour).
type Context struct {
	ResourcePath string
	Query        string
	Fragment     string

	FileDependencies    []string
	ContextDependencies []string
	MissingDependencies []string
	BuildDependencies   []string

	Warnings []error

	cacheable bool
}

// NewContext returns a Context for resourcePath with Cacheable defaulted
// true.
func NewContext(resourcePath string) *Context {
	return &Context{ResourcePath: resourcePath, cacheable: true}
}

func (c *Context) AddFileDependency(path string)    { c.FileDependencies = append(c.FileDependencies, path) }
func (c *Context) AddContextDependency(path string) { c.ContextDependencies = append(c.ContextDependencies, path) }
func (c *Context) AddMissingDependency(path string) { c.MissingDependencies = append(c.MissingDependencies, path) }
func (c *Context) AddBuildDependency(path string)    { c.BuildDependencies = append(c.BuildDependencies, path) }
func (c *Context) AddWarning(err error)             { c.Warnings = append(c.Warnings, err) }

// SetCacheable ANDs v into the running cacheable flag: once a loader
// clears it, no later loader can set it back.
func (c *Context) SetCacheable(v bool) { c.cacheable = c.cacheable && v }

// Cacheable reports the pipeline run's final cacheable verdict.
func (c *Context) Cacheable() bool { return c.cacheable }
